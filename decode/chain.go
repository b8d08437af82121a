package decode

import (
	"context"
	"errors"
	"log/slog"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/pool"
	"github.com/IvanBrykalov/pixcache/request"
)

// ImageInfo describes the source image before decoding.
type ImageInfo struct {
	Width           int
	Height          int
	MimeType        string
	ExifOrientation int
}

// Result is a decoded image. The caller owns Image's reference.
type Result struct {
	Image *bitmap.Image
	Info  ImageInfo
	// Transformed lists the keys of steps applied after decoding (sampling,
	// cropping, resizing, transformations), in order. Mirrored in
	// Image.Transformed.
	Transformed []string
}

// Release drops the result's image reference.
func (r *Result) Release() {
	if r != nil && r.Image != nil {
		r.Image.Release()
	}
}

func (r *Result) addTransformed(key string) {
	r.Transformed = append(r.Transformed, key)
	if r.Image != nil {
		r.Image.Transformed = append([]string(nil), r.Transformed...)
	}
}

// Interceptor is one stage of the decode chain. It may return its own
// result, hand a modified request to chain.Proceed, or post-process what
// Proceed returns.
type Interceptor interface {
	Intercept(ctx context.Context, chain *Chain) (*Result, error)
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(ctx context.Context, chain *Chain) (*Result, error)

func (f InterceptorFunc) Intercept(ctx context.Context, chain *Chain) (*Result, error) {
	return f(ctx, chain)
}

// Env carries what every stage may need.
type Env struct {
	Fetchers *fetch.Registry
	Pool     *pool.Pool
	Codec    Codec
	Logger   *slog.Logger
}

// Chain is an ordered list of interceptors plus the position of the stage
// being run. Proceed copies the chain with the next index, so a stage may
// call Proceed at most once per attempt without affecting its caller.
type Chain struct {
	req          *request.Request
	interceptors []Interceptor
	index        int
	env          *Env
	fetched      *fetchSlot
}

type fetchSlot struct {
	res *fetch.Result
	err error
	ok  bool
}

// Run executes interceptors for req, in order. The last interceptor must not
// call Proceed.
func Run(ctx context.Context, req *request.Request, interceptors []Interceptor, env Env) (*Result, error) {
	if env.Pool == nil {
		env.Pool = pool.New(pool.Options{})
	}
	if env.Codec == nil {
		env.Codec = ImagingCodec{}
	}
	if env.Logger == nil {
		env.Logger = slog.New(slog.DiscardHandler)
	}
	c := &Chain{req: req, interceptors: interceptors, env: &env, fetched: &fetchSlot{}}
	return c.Proceed(ctx, req)
}

// DefaultInterceptors returns the built-in stages: result cache (when rc is
// set), transformations, decode.
func DefaultInterceptors(rc *ResultCacheInterceptor) []Interceptor {
	var out []Interceptor
	if rc != nil {
		out = append(out, rc)
	}
	return append(out, TransformationInterceptor{}, EngineDecodeInterceptor{})
}

// Request is the request as seen by the current stage.
func (c *Chain) Request() *request.Request { return c.req }

func (c *Chain) Pool() *pool.Pool     { return c.env.Pool }
func (c *Chain) Codec() Codec         { return c.env.Codec }
func (c *Chain) Logger() *slog.Logger { return c.env.Logger }

// FetchResult fetches the request source on first use; later calls in the
// same run return the same result.
func (c *Chain) FetchResult(ctx context.Context) (*fetch.Result, error) {
	if c.fetched.ok {
		return c.fetched.res, c.fetched.err
	}
	if c.env.Fetchers == nil {
		return nil, ErrNoFetcher
	}
	res, err := c.env.Fetchers.Fetch(ctx, c.req)
	// Cancellation is not remembered; a retry may succeed.
	if err != nil && errors.Is(err, context.Canceled) {
		return nil, err
	}
	c.fetched.res, c.fetched.err, c.fetched.ok = res, err, true
	return res, err
}

// Proceed runs the next stage with req.
func (c *Chain) Proceed(ctx context.Context, req *request.Request) (*Result, error) {
	if c.index >= len(c.interceptors) {
		return nil, errors.New("decode: chain exhausted: last interceptor called Proceed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	next := *c
	next.req = req
	next.index = c.index + 1
	return c.interceptors[c.index].Intercept(ctx, &next)
}
