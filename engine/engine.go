package engine

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/IvanBrykalov/pixcache/decode"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/internal/singleflight"
	"github.com/IvanBrykalov/pixcache/memcache"
	"github.com/IvanBrykalov/pixcache/pool"
	"github.com/IvanBrykalov/pixcache/request"
)

// ErrClosed is returned for requests submitted after Shutdown.
var ErrClosed = errors.New("engine: closed")

var errEmptyResult = errors.New("engine: request chain returned no image")

// dispatchBacklog bounds queued callbacks before posting blocks.
const dispatchBacklog = 256

// Engine runs image requests against shared caches and a shared pool.
// It is safe for concurrent use.
type Engine struct {
	mem                *memcache.Cache
	result             diskcache.Cache
	download           diskcache.Cache
	pool               *pool.Pool
	codec              decode.Codec
	fetchers           *fetch.Registry
	interceptors       []RequestInterceptor
	decodeInterceptors []decode.Interceptor
	defaults           request.Options
	workers            *semaphore.Weighted
	log                *slog.Logger
	metrics            Metrics
	owned              []func() error

	flight singleflight.Group[string, *decode.Result]

	// base is cancelled when Shutdown gives up waiting.
	base       context.Context
	cancelBase context.CancelFunc

	mu     sync.RWMutex
	closed bool
	jobs   sync.WaitGroup

	calls      chan func()
	dispatched chan struct{}
}

// New builds an Engine from opt and starts its dispatcher.
func New(opt Options) *Engine {
	owned := opt.applyDefaults()
	e := &Engine{
		mem:                opt.MemoryCache,
		result:             opt.ResultCache,
		download:           opt.DownloadCache,
		pool:               opt.Pool,
		codec:              opt.Codec,
		fetchers:           opt.Fetchers,
		interceptors:       append(append([]RequestInterceptor(nil), opt.RequestInterceptors...), EngineInterceptor{}),
		decodeInterceptors: opt.DecodeInterceptors,
		defaults:           opt.Defaults,
		workers:            semaphore.NewWeighted(int64(opt.Workers)),
		log:                opt.Logger.With("component", "engine"),
		metrics:            opt.Metrics,
		owned:              owned,
		calls:              make(chan func(), dispatchBacklog),
		dispatched:         make(chan struct{}),
	}
	e.flight.Share = shareResult
	e.base, e.cancelBase = context.WithCancel(context.Background())
	go e.dispatch()
	return e
}

func (e *Engine) MemoryCache() *memcache.Cache   { return e.mem }
func (e *Engine) ResultCache() diskcache.Cache   { return e.result }
func (e *Engine) DownloadCache() diskcache.Cache { return e.download }
func (e *Engine) Pool() *pool.Pool               { return e.pool }
func (e *Engine) Fetchers() *fetch.Registry      { return e.fetchers }
func (e *Engine) Defaults() request.Options      { return e.defaults }
func (e *Engine) InFlight() int                  { return e.flight.InFlight() }

// Execute runs req synchronously without waiting for its lifecycle to
// start. It returns an error only for cancellation or a closed engine;
// failures are reported in Result.Err. The caller owns the Result and must
// Release it.
func (e *Engine) Execute(ctx context.Context, req *request.Request) (*Result, error) {
	if !e.begin() {
		return nil, ErrClosed
	}
	defer e.jobs.Done()
	ctx, cancel := e.jobContext(ctx, req)
	defer cancel()
	return e.run(ctx, req, "")
}

// Enqueue starts req in the background. The job stays Pending until the
// request's lifecycle starts. On a closed engine the job ends in StateError
// with Result.Err set to ErrClosed.
func (e *Engine) Enqueue(ctx context.Context, req *request.Request) *Job {
	ctx, cancel := e.jobContext(ctx, req)
	j := newJob(req, cancel)
	if !e.begin() {
		// Refused, not cancelled: the job fails with ErrClosed.
		cancel()
		j.finish(&Result{Request: req, Err: ErrClosed}, nil)
		return j
	}
	j.setState(StatePending)
	go func() {
		defer e.jobs.Done()
		defer cancel()
		if err := req.Lifecycle().AwaitStarted(ctx); err != nil {
			e.canceled(req, time.Now())
			j.finish(nil, cancelErr(ctx, err))
			return
		}
		j.setState(StateRunning)
		j.finish(e.run(ctx, req, j.ID()))
	}()
	return j
}

// Shutdown stops accepting requests and waits for running ones. When ctx
// ends first, running requests are cancelled and ctx.Err() is returned once
// they have unwound. Caches and the pool created by New are closed.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		e.jobs.Wait()
		close(idle)
	}()
	var err error
	select {
	case <-idle:
	case <-ctx.Done():
		err = ctx.Err()
		e.cancelBase()
		<-idle
	}
	e.cancelBase()
	close(e.calls)
	<-e.dispatched

	for i := len(e.owned) - 1; i >= 0; i-- {
		if cerr := e.owned[i](); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (e *Engine) begin() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.jobs.Add(1)
	return true
}

// jobContext derives a context that also ends when the engine gives up on
// shutdown or the request's lifecycle is destroyed.
func (e *Engine) jobContext(ctx context.Context, req *request.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stopBase := context.AfterFunc(e.base, cancel)
	var stopLife func()
	if done := req.Lifecycle().Done(); done != nil {
		quit := make(chan struct{})
		go func() {
			select {
			case <-done:
				cancel()
			case <-quit:
			case <-ctx.Done():
			}
		}()
		stopLife = func() { close(quit) }
	}
	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			stopBase()
			if stopLife != nil {
				stopLife()
			}
			cancel()
		})
	}
}

func (e *Engine) run(ctx context.Context, req *request.Request, job string) (*Result, error) {
	start := time.Now()
	req = req.Merge(e.defaults)
	log := e.log.With("key", req.Key())
	if job != "" {
		log = log.With("job", job)
	}
	if l := req.Listener(); l != nil {
		e.post(func() { l.OnStart(req) })
	}

	req, data, err := e.proceed(ctx, req)
	if err != nil {
		if isCancel(ctx, err) {
			log.Debug("request canceled")
			e.canceled(req, start)
			return nil, cancelErr(ctx, err)
		}
		log.Debug("request failed", "err", err)
		return e.failed(req, err, start), nil
	}
	if data == nil || data.Image == nil {
		return e.failed(req, errEmptyResult, start), nil
	}

	res := &Result{
		Request:     req,
		Image:       data.Image,
		DataFrom:    data.Image.DataFrom,
		Info:        data.Info,
		Transformed: data.Transformed,
	}
	e.metrics.Completed(StateSuccess, res.DataFrom, time.Since(start))
	log.Debug("request done", "from", res.DataFrom.String(), "elapsed", time.Since(start))

	t, l := req.Target(), req.Listener()
	if t != nil || l != nil {
		// The callback reference outlives a caller that releases early.
		img := res.Image.Retain()
		e.post(func() {
			defer img.Release()
			if t != nil {
				t.OnSuccess(img)
			}
			if l != nil {
				l.OnSuccess(req, img)
			}
		})
	}
	return res, nil
}

// proceed returns the request as resolved before the chain ran.
func (e *Engine) proceed(ctx context.Context, req *request.Request) (*request.Request, *Data, error) {
	if err := req.Validate(); err != nil {
		return req, nil, err
	}
	resolved, err := resolveSize(ctx, req)
	if err != nil {
		return req, nil, err
	}
	c := &Chain{req: resolved, interceptors: e.interceptors, engine: e}
	data, err := c.Proceed(ctx, resolved)
	return resolved, data, err
}

// resolveSize fills in the resize from the request's SizeResolver when the
// request has none of its own.
func resolveSize(ctx context.Context, req *request.Request) (*request.Request, error) {
	sr := req.SizeResolver()
	if _, ok := req.Resize(); ok || sr == nil {
		return req, nil
	}
	w, h, err := sr.Size(ctx)
	if err != nil {
		return nil, err
	}
	if w <= 0 || h <= 0 {
		return req, nil
	}
	return req.NewBuilder().ResizeSize(w, h).Build(), nil
}

func (e *Engine) failed(req *request.Request, err error, start time.Time) *Result {
	var errImg image.Image
	if s := req.ErrorImage(); s != nil {
		errImg = s.Image(req, err)
	}
	e.metrics.Completed(StateError, 0, time.Since(start))
	t, l := req.Target(), req.Listener()
	if t != nil || l != nil {
		e.post(func() {
			if t != nil {
				t.OnError(errImg)
			}
			if l != nil {
				l.OnError(req, err)
			}
		})
	}
	return &Result{Request: req, Err: err, ErrorImage: errImg}
}

func (e *Engine) canceled(req *request.Request, start time.Time) {
	e.metrics.Completed(StateCanceled, 0, time.Since(start))
	if l := req.Listener(); l != nil {
		e.post(func() { l.OnCancel(req) })
	}
}

func isCancel(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}

// cancelErr reports cancellation as an error wrapping context.Canceled.
func cancelErr(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if cerr := ctx.Err(); cerr != nil && errors.Is(cerr, context.DeadlineExceeded) {
		return cerr
	}
	return context.Canceled
}

// post queues fn on the dispatcher. Callers are always running requests,
// so the dispatcher is still open.
func (e *Engine) post(fn func()) { e.calls <- fn }

func (e *Engine) dispatch() {
	defer close(e.dispatched)
	for fn := range e.calls {
		e.call(fn)
	}
}

func (e *Engine) call(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("callback panicked", "panic", r)
		}
	}()
	fn()
}

// Flush blocks until every callback queued before it has run.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !e.begin() {
		return ErrClosed
	}
	e.post(func() { close(done) })
	e.jobs.Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
