package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/go-git/go-billy/v5"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/request"
)

// ErrUnsupportedURI is wrapped by the *Error returned when no factory handles
// a uri.
var ErrUnsupportedURI = errors.New("fetch: unsupported uri")

// Error reports a failed fetch.
type Error struct {
	URI string
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("fetch: %s %s: %v", e.Op, e.URI, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Source gives access to fetched bytes. Open may be called more than once.
type Source interface {
	Open() (io.ReadCloser, error)
	Bytes() ([]byte, error)
}

// Result is the outcome of a fetch.
type Result struct {
	Source   Source
	MimeType string
	DataFrom bitmap.DataFrom
}

// Fetcher loads the source bytes for a request.
type Fetcher interface {
	Fetch(ctx context.Context, req *request.Request) (*Result, error)
}

// Factory returns a Fetcher for req, or nil when it does not handle req's uri.
type Factory interface {
	Create(req *request.Request) Fetcher
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(req *request.Request) Fetcher

func (f FactoryFunc) Create(req *request.Request) Fetcher { return f(req) }

// Registry picks the first factory that handles a uri.
type Registry struct {
	factories []Factory
}

// NewRegistry returns a registry consulting factories in order.
func NewRegistry(factories ...Factory) *Registry {
	return &Registry{factories: append([]Factory(nil), factories...)}
}

// With returns a copy of r with factories appended.
func (r *Registry) With(factories ...Factory) *Registry {
	return NewRegistry(append(append([]Factory(nil), r.factories...), factories...)...)
}

// Fetcher returns the fetcher for req or nil.
func (r *Registry) Fetcher(req *request.Request) Fetcher {
	for _, f := range r.factories {
		if ft := f.Create(req); ft != nil {
			return ft
		}
	}
	return nil
}

// Fetch runs the first matching fetcher.
func (r *Registry) Fetch(ctx context.Context, req *request.Request) (*Result, error) {
	ft := r.Fetcher(req)
	if ft == nil {
		return nil, &Error{URI: req.URI(), Op: "match", Err: ErrUnsupportedURI}
	}
	return ft.Fetch(ctx, req)
}

// BytesSource serves an in-memory byte slice.
type BytesSource []byte

func (s BytesSource) Open() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(s)), nil }
func (s BytesSource) Bytes() ([]byte, error)       { return s, nil }

// SnapshotSource serves a committed cache entry.
type SnapshotSource struct {
	Snapshot *diskcache.Snapshot
}

func (s SnapshotSource) Open() (io.ReadCloser, error) { return s.Snapshot.Open() }
func (s SnapshotSource) Bytes() ([]byte, error)       { return s.Snapshot.Bytes(), nil }

// FileSource reads a file on a billy filesystem.
type FileSource struct {
	FS   billy.Filesystem
	Path string
}

func (s FileSource) Open() (io.ReadCloser, error) {
	f, err := s.FS.Open(s.Path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s FileSource) Bytes() ([]byte, error) {
	rc, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
