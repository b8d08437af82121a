package engine

import (
	"image"
	"sync"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/decode"
	"github.com/IvanBrykalov/pixcache/request"
)

// Result is a finished request. On success Image holds a reference owned by
// the Result; on failure Err is set and ErrorImage carries the request's
// error state image, if any.
type Result struct {
	Request     *request.Request
	Image       *bitmap.Image
	DataFrom    bitmap.DataFrom
	Info        decode.ImageInfo
	Transformed []string

	Err        error
	ErrorImage image.Image

	once sync.Once
}

// OK reports whether the request succeeded.
func (r *Result) OK() bool { return r != nil && r.Err == nil && r.Image != nil }

// Release drops the result's image reference. Safe to call more than once.
func (r *Result) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if r.Image != nil {
			r.Image.Release()
		}
	})
}
