package engine

import (
	"context"
	"errors"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/decode"
	"github.com/IvanBrykalov/pixcache/request"
)

// Data is the outcome of a request chain. Image is a reference owned by
// whoever receives the Data.
type Data struct {
	Image       *bitmap.Image
	Info        decode.ImageInfo
	Transformed []string
}

// Release drops the Data's image reference.
func (d *Data) Release() {
	if d != nil && d.Image != nil {
		d.Image.Release()
	}
}

// RequestInterceptor is one stage of the request chain. It may rewrite the
// request before calling chain.Proceed, return its own Data, or inspect the
// result on the way back.
type RequestInterceptor interface {
	Intercept(ctx context.Context, chain *Chain) (*Data, error)
}

// RequestInterceptorFunc adapts a function to RequestInterceptor.
type RequestInterceptorFunc func(ctx context.Context, chain *Chain) (*Data, error)

func (f RequestInterceptorFunc) Intercept(ctx context.Context, chain *Chain) (*Data, error) {
	return f(ctx, chain)
}

var errChainExhausted = errors.New("engine: request chain has no terminal interceptor")

// Chain is an ordered list of request interceptors plus the index of the
// stage being run.
type Chain struct {
	req          *request.Request
	interceptors []RequestInterceptor
	index        int
	engine       *Engine
}

// Request is the request as seen by the current stage.
func (c *Chain) Request() *request.Request { return c.req }

// Engine is the engine running the chain.
func (c *Chain) Engine() *Engine { return c.engine }

// Proceed runs the next stage with req.
func (c *Chain) Proceed(ctx context.Context, req *request.Request) (*Data, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.index >= len(c.interceptors) {
		return nil, errChainExhausted
	}
	next := *c
	next.req = req
	next.index = c.index + 1
	return c.interceptors[c.index].Intercept(ctx, &next)
}
