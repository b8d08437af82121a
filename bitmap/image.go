package bitmap

import (
	"fmt"
	"image"
	"sync/atomic"
)

// Recycler takes back pixel buffers whose last reference was dropped.
// *pool.Pool implements it.
type Recycler interface {
	Release(*Buffer) bool
}

// pixels is the ref-counted storage shared by every Image alias.
type pixels struct {
	buf      *Buffer
	refs     atomic.Int32
	recycler Recycler
}

// Image is a decoded, reference-counted image.
//
// A new Image holds one reference owned by its creator. Every additional
// holder (memory cache entry, each in-flight display) takes its own reference
// with Retain and gives it back with Release. When the count reaches zero the
// buffer is handed to the Recycler exactly once; accessing Pixels afterwards
// returns nil.
type Image struct {
	px *pixels

	Width           int
	Height          int
	MimeType        string
	ExifOrientation int
	DataFrom        DataFrom
	// Transformed lists the keys of resize/transformation steps applied,
	// in application order.
	Transformed []string
}

// NewImage wraps buf with one reference. recycler may be nil, in which case
// the buffer is left to the garbage collector.
func NewImage(buf *Buffer, mime string, from DataFrom, recycler Recycler) *Image {
	px := &pixels{buf: buf, recycler: recycler}
	px.refs.Store(1)
	return &Image{
		px:       px,
		Width:    buf.Width,
		Height:   buf.Height,
		MimeType: mime,
		DataFrom: from,
	}
}

// Retain adds a reference and returns the receiver for chaining.
// Retaining a fully released image panics: it would resurrect a buffer the
// pool may already have handed to someone else.
func (i *Image) Retain() *Image {
	for {
		n := i.px.refs.Load()
		if n <= 0 {
			panic(fmt.Sprintf("bitmap: retain of released image %dx%d", i.Width, i.Height))
		}
		if i.px.refs.CompareAndSwap(n, n+1) {
			return i
		}
	}
}

// TryRetain adds a reference unless the image is already fully released.
func (i *Image) TryRetain() bool {
	for {
		n := i.px.refs.Load()
		if n <= 0 {
			return false
		}
		if i.px.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Release drops a reference. It returns false if the image was already
// fully released (the call is then a no-op).
func (i *Image) Release() bool {
	for {
		n := i.px.refs.Load()
		if n <= 0 {
			return false
		}
		if i.px.refs.CompareAndSwap(n, n-1) {
			if n == 1 && i.px.recycler != nil && i.px.buf != nil {
				i.px.recycler.Release(i.px.buf)
			}
			return true
		}
	}
}

// RefCount reports the current number of references.
func (i *Image) RefCount() int { return int(i.px.refs.Load()) }

// Released reports whether the pixels have been given back.
func (i *Image) Released() bool { return i.px.refs.Load() <= 0 }

// Buffer returns the backing buffer, or nil once released.
// Callers must hold a reference while using it.
func (i *Image) Buffer() *Buffer {
	if i.Released() {
		return nil
	}
	return i.px.buf
}

// Pixels returns a stdlib view of the pixel data, or nil once released.
func (i *Image) Pixels() image.Image {
	if b := i.Buffer(); b != nil {
		return b.Image()
	}
	return nil
}

// ByteCount is the memory cost of the image.
func (i *Image) ByteCount() int64 {
	if i == nil || i.px == nil || i.px.buf == nil {
		return 0
	}
	return i.px.buf.ByteCount()
}

// WithDataFrom returns an alias that shares pixels and reference count with
// i but carries a different provenance tag. The alias owns one new reference.
func (i *Image) WithDataFrom(from DataFrom) *Image {
	i.Retain()
	cp := *i
	cp.DataFrom = from
	cp.Transformed = append([]string(nil), i.Transformed...)
	return &cp
}

// SameStorage reports whether two images share pixel storage.
func (i *Image) SameStorage(o *Image) bool {
	return i != nil && o != nil && i.px == o.px
}

func (i *Image) String() string {
	return fmt.Sprintf("Image(%dx%d,%s,%s,refs=%d)", i.Width, i.Height, i.MimeType, i.DataFrom, i.RefCount())
}
