package engine

import (
	"context"
	"image"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/decode"
	"github.com/IvanBrykalov/pixcache/request"
)

// EngineInterceptor is the terminal request stage. It is appended to the
// configured interceptors automatically.
type EngineInterceptor struct{}

func (EngineInterceptor) Intercept(ctx context.Context, chain *Chain) (*Data, error) {
	e := chain.Engine()
	req := chain.Request()
	key := req.CacheKey()

	if img, ok := e.mem.Get(key, req.MemoryCachePolicy()); ok {
		alias := img.WithDataFrom(bitmap.FromMemoryCache)
		img.Release()
		e.log.Debug("memory cache hit", "key", key)
		return &Data{Image: alias, Info: infoOf(alias), Transformed: alias.Transformed}, nil
	}
	if !req.Depth().Allows(request.DepthLocal) {
		return nil, request.NewDepthError(req)
	}

	if t := req.Target(); t != nil {
		ph := req.Placeholder()
		e.post(func() {
			var img image.Image
			if ph != nil {
				img = ph.Image(req, nil)
			}
			t.OnStart(img)
		})
	}

	res, shared, err := e.flight.Do(ctx, flightKey(req), func(ctx context.Context) (*decode.Result, error) {
		return e.decode(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		e.metrics.Coalesced()
	}
	return &Data{Image: res.Image, Info: res.Info, Transformed: res.Transformed}, nil
}

// decode runs the decode chain on a worker slot and stores the result in
// the memory cache. The returned result's reference is split between
// flight waiters by shareResult.
func (e *Engine) decode(ctx context.Context, req *request.Request) (*decode.Result, error) {
	if err := e.workers.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.workers.Release(1)

	res, err := decode.Run(ctx, req, e.decodeInterceptors, decode.Env{
		Fetchers: e.fetchers,
		Pool:     e.pool,
		Codec:    e.codec,
		Logger:   e.log,
	})
	if err != nil {
		return nil, err
	}
	// Partial work from a cancelled flight is never cached.
	if err := ctx.Err(); err != nil {
		res.Release()
		return nil, err
	}
	e.mem.Put(req.CacheKey(), res.Image, req.MemoryCachePolicy())
	return res, nil
}

// flightKey groups requests that may share one decode. Depth is part of it:
// a request allowed to reach the network never waits on a flight that was
// limited to local sources.
func flightKey(req *request.Request) string {
	return req.CacheKey() + "\x00" + req.Depth().String()
}

// shareResult turns the flight's single reference into one per waiter.
func shareResult(res *decode.Result, waiters int) {
	if waiters == 0 {
		res.Release()
		return
	}
	for range waiters - 1 {
		res.Image.Retain()
	}
}

func infoOf(img *bitmap.Image) decode.ImageInfo {
	return decode.ImageInfo{
		Width:           img.Width,
		Height:          img.Height,
		MimeType:        img.MimeType,
		ExifOrientation: img.ExifOrientation,
	}
}
