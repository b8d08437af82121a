package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/decode"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/pool"
	"github.com/IvanBrykalov/pixcache/request"
)

func pngBytes(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var b bytes.Buffer
	if err := png.Encode(&b, img); err != nil {
		t.Fatal(err)
	}
	return b.Bytes()
}

// gated holds every fetch until open is closed.
type gated struct {
	mem   *fetch.MemoryFetcher
	open  chan struct{}
	calls atomic.Int64
}

func newGated() *gated { return &gated{mem: fetch.NewMemory(), open: make(chan struct{})} }

func (g *gated) Create(req *request.Request) fetch.Fetcher {
	if g.mem.Create(req) == nil {
		return nil
	}
	return g
}

func (g *gated) Fetch(ctx context.Context, req *request.Request) (*fetch.Result, error) {
	g.calls.Add(1)
	select {
	case <-g.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.mem.Fetch(ctx, req)
}

// remote is a gated fetcher that counts as a network source.
type remote struct{ *gated }

func (r remote) Create(req *request.Request) fetch.Fetcher {
	if r.gated.Create(req) == nil {
		return nil
	}
	return r
}

func (r remote) Fetch(ctx context.Context, req *request.Request) (*fetch.Result, error) {
	r.calls.Add(1)
	select {
	case <-r.open:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !req.Depth().Allows(request.DepthNetwork) {
		return nil, request.NewDepthError(req)
	}
	return r.mem.Fetch(ctx, req)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnStart(ph image.Image) {
	if ph != nil {
		r.add("start+placeholder")
		return
	}
	r.add("start")
}
func (r *recorder) OnSuccess(img *bitmap.Image) { r.add("success:" + img.DataFrom.String()) }
func (r *recorder) OnError(errImg image.Image) {
	if errImg != nil {
		r.add("error+image")
		return
	}
	r.add("error")
}

func newEngine(t *testing.T, opt Options) *Engine {
	t.Helper()
	e := New(opt)
	t.Cleanup(func() {
		if err := e.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_ExecuteThenMemoryCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := fetch.NewMemory()
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(mem)})
	uri := mem.Put("a.png", pngBytes(t, 40, 30), "image/png")
	req := request.NewBuilder(uri).Build()

	first, err := e.Execute(ctx, req)
	if err != nil || !first.OK() {
		t.Fatalf("first: %v %v", err, first.Err)
	}
	defer first.Release()
	second, err := e.Execute(ctx, req)
	if err != nil || !second.OK() {
		t.Fatalf("second: %v %v", err, second.Err)
	}
	defer second.Release()

	if first.DataFrom != bitmap.FromMemory || second.DataFrom != bitmap.FromMemoryCache {
		t.Fatalf("from: %s, %s", first.DataFrom, second.DataFrom)
	}
	if !first.Image.SameStorage(second.Image) {
		t.Fatal("memory cache hit must share pixels")
	}
	if mem.Fetches() != 1 {
		t.Fatalf("fetches=%d", mem.Fetches())
	}
	if second.Info.Width != 40 || second.Info.MimeType != "image/png" {
		t.Fatalf("info=%+v", second.Info)
	}
}

func TestEngine_ConcurrentIdenticalRequestsShareOneDecode(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGated()
	var arrived atomic.Int64
	e := newEngine(t, Options{
		Fetchers: fetch.NewRegistry(g),
		RequestInterceptors: []RequestInterceptor{RequestInterceptorFunc(func(ctx context.Context, c *Chain) (*Data, error) {
			arrived.Add(1)
			return c.Proceed(ctx, c.Request())
		})},
	})
	uri := g.mem.Put("a.png", pngBytes(t, 64, 64), "")
	req := request.NewBuilder(uri).Resize(request.Resize{Width: 32, Height: 32, Precision: request.Exactly}).Build()

	const N = 8
	results := make([]*Result, N)
	var eg errgroup.Group
	for i := range N {
		eg.Go(func() error {
			res, err := e.Execute(ctx, req)
			results[i] = res
			return err
		})
	}
	waitFor(t, "all requests", func() bool { return arrived.Load() == N })
	time.Sleep(20 * time.Millisecond)
	close(g.open)
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	if g.calls.Load() != 1 {
		t.Fatalf("fetches=%d", g.calls.Load())
	}
	for i, r := range results {
		if !r.OK() || !r.Image.SameStorage(results[0].Image) {
			t.Fatalf("result %d: %+v", i, r)
		}
	}
	// One reference per caller plus the memory cache's own.
	if n := results[0].Image.RefCount(); n != N+1 {
		t.Fatalf("refs=%d", n)
	}
	for _, r := range results {
		r.Release()
	}
	if n := results[0].Image.RefCount(); n != 1 {
		t.Fatalf("refs after release=%d", n)
	}
}

func TestEngine_DepthMemoryNeverFetches(t *testing.T) {
	t.Parallel()
	mem := fetch.NewMemory()
	rec := &recorder{}
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(mem)})
	uri := mem.Put("a.png", pngBytes(t, 8, 8), "")
	req := request.NewBuilder(uri).
		Depth(request.DepthMemory, "").
		Target(rec).
		Error(request.ErrorStateImage{DepthLimit: request.ColorStateImage{}}).
		Build()

	res, err := e.Execute(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Err, request.ErrDepthLimitExceeded) || res.ErrorImage == nil {
		t.Fatalf("res=%+v", res)
	}
	if mem.Fetches() != 0 {
		t.Fatalf("fetches=%d", mem.Fetches())
	}
	if err := e.Flush(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"error+image"}, rec.Events()); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}
}

// A request allowed to reach the network must not inherit the depth error
// of an in-flight local-only request for the same image.
func TestEngine_LocalFlightDoesNotCaptureNetworkRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := newGated()
	// Two decode slots: both flights must reach the fetcher at once.
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(remote{g}), Workers: 2})
	uri := g.mem.Put("a.png", pngBytes(t, 16, 16), "")
	local := request.NewBuilder(uri).Depth(request.DepthLocal, "").Build()
	network := request.NewBuilder(uri).Build()

	var localRes, netRes *Result
	var eg errgroup.Group
	eg.Go(func() (err error) {
		localRes, err = e.Execute(ctx, local)
		return err
	})
	waitFor(t, "local fetch", func() bool { return g.calls.Load() == 1 })
	eg.Go(func() (err error) {
		netRes, err = e.Execute(ctx, network)
		return err
	})
	waitFor(t, "network fetch", func() bool { return g.calls.Load() == 2 })
	close(g.open)
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	defer localRes.Release()
	defer netRes.Release()

	if !errors.Is(localRes.Err, request.ErrDepthLimitExceeded) {
		t.Fatalf("local: %v", localRes.Err)
	}
	if !netRes.OK() {
		t.Fatalf("network: %v", netRes.Err)
	}
	if netRes.DataFrom == bitmap.FromMemoryCache {
		t.Fatalf("network request served from %s", netRes.DataFrom)
	}
}

func TestEngine_CancelReleasesAndCachesNothing(t *testing.T) {
	t.Parallel()
	g := newGated()
	p := pool.New(pool.Options{})
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(g), Pool: p})
	uri := g.mem.Put("a.png", pngBytes(t, 16, 16), "")

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := e.Execute(ctx, request.NewBuilder(uri).Build())
		errc <- err
	}()
	waitFor(t, "fetch", func() bool { return g.calls.Load() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	waitFor(t, "flight to unwind", func() bool { return e.InFlight() == 0 })
	if n := e.MemoryCache().Len(); n != 0 {
		t.Fatalf("cached %d entries", n)
	}
	if st := p.Stats(); st.Outstanding != 0 {
		t.Fatalf("outstanding=%d", st.Outstanding)
	}
}

func TestEngine_EnqueueWaitsForLifecycle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := fetch.NewMemory()
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(mem)})
	uri := mem.Put("a.png", pngBytes(t, 8, 8), "")
	lc := request.NewManualLifecycle()

	job := e.Enqueue(ctx, request.NewBuilder(uri).Lifecycle(lc).Build())
	if job.ID() == "" {
		t.Fatal("job without id")
	}
	time.Sleep(10 * time.Millisecond)
	if s := job.State(); s != StatePending || mem.Fetches() != 0 {
		t.Fatalf("state=%s fetches=%d", s, mem.Fetches())
	}
	lc.Start()
	res, err := job.Wait(ctx)
	if err != nil || !res.OK() {
		t.Fatalf("wait: %v %+v", err, res)
	}
	if job.State() != StateSuccess {
		t.Fatalf("state=%s", job.State())
	}
	job.Dispose()

	destroyed := request.NewManualLifecycle()
	job = e.Enqueue(ctx, request.NewBuilder(uri).Lifecycle(destroyed).Build())
	destroyed.Destroy()
	if _, err := job.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("destroyed: %v", err)
	}
	if job.State() != StateCanceled {
		t.Fatalf("state=%s", job.State())
	}

	job = e.Enqueue(ctx, request.NewBuilder(uri).Lifecycle(request.NewManualLifecycle()).Build())
	job.Dispose()
	if _, err := job.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("disposed: %v", err)
	}
}

func TestEngine_PauseLoadWhenScrolling(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := fetch.NewMemory()
	pause := &PauseLoadWhenScrolling{}
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(mem), RequestInterceptors: []RequestInterceptor{pause}})
	uri := mem.Put("a.png", pngBytes(t, 8, 8), "")
	pause.SetScrolling(true)

	res, err := e.Execute(ctx, request.NewBuilder(uri).PauseLoadWhenScrolling(true).Build())
	if err != nil {
		t.Fatal(err)
	}
	var de *request.DepthError
	if !errors.As(res.Err, &de) || de.From != DepthFromPauseLoadWhenScrolling || de.Depth != request.DepthMemory {
		t.Fatalf("err=%v", res.Err)
	}

	// Requests that did not opt in are unaffected.
	res, err = e.Execute(ctx, request.NewBuilder(uri).Build())
	if err != nil || !res.OK() {
		t.Fatalf("plain: %v %+v", err, res)
	}
	res.Release()

	// Once cached, the paused request is served from memory.
	res, err = e.Execute(ctx, request.NewBuilder(uri).PauseLoadWhenScrolling(true).Build())
	if err != nil || !res.OK() || res.DataFrom != bitmap.FromMemoryCache {
		t.Fatalf("paused hit: %v %+v", err, res)
	}
	res.Release()
}

func TestEngine_SaveCellularTraffic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var hits atomic.Int64
	data := pngBytes(t, 8, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	cell := &SaveCellularTraffic{}
	e := newEngine(t, Options{
		Fetchers:            fetch.NewRegistry(fetch.NewHTTP(fetch.HTTPOptions{Client: srv.Client()})),
		RequestInterceptors: []RequestInterceptor{cell},
	})
	cell.SetCellular(true)
	res, err := e.Execute(ctx, request.NewBuilder(srv.URL+"/a.png").SaveCellularTraffic(true).Build())
	if err != nil {
		t.Fatal(err)
	}
	var de *request.DepthError
	if !errors.As(res.Err, &de) || de.From != DepthFromSaveCellularTraffic {
		t.Fatalf("err=%v", res.Err)
	}
	if hits.Load() != 0 {
		t.Fatalf("network hit %d times", hits.Load())
	}

	cell.SetCellular(false)
	res, err = e.Execute(ctx, request.NewBuilder(srv.URL+"/a.png").SaveCellularTraffic(true).Build())
	if err != nil || !res.OK() || res.DataFrom != bitmap.FromNetwork {
		t.Fatalf("wifi: %v %+v", err, res)
	}
	res.Release()
}

func TestEngine_TargetCallbacks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := fetch.NewMemory()
	e := newEngine(t, Options{Fetchers: fetch.NewRegistry(mem)})
	good := mem.Put("good.png", pngBytes(t, 8, 8), "")
	bad := mem.Put("bad.png", []byte("definitely not a png"), "")

	ok := &recorder{}
	res, err := e.Execute(ctx, request.NewBuilder(good).Target(ok).Placeholder(request.ColorStateImage{}).Build())
	if err != nil || !res.OK() {
		t.Fatalf("good: %v %+v", err, res)
	}
	res.Release()

	failed := &recorder{}
	res, err = e.Execute(ctx, request.NewBuilder(bad).Target(failed).Build())
	if err != nil {
		t.Fatal(err)
	}
	var de *decode.DecodeError
	if !errors.As(res.Err, &de) {
		t.Fatalf("err=%v", res.Err)
	}

	if err := e.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"start+placeholder", "success:memory"}, ok.Events()); diff != "" {
		t.Fatalf("success events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"start", "error"}, failed.Events()); diff != "" {
		t.Fatalf("error events (-want +got):\n%s", diff)
	}
}

func TestEngine_SizeResolverAndDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mem := fetch.NewMemory()
	e := newEngine(t, Options{
		Fetchers: fetch.NewRegistry(mem),
		Defaults: request.Options{Format: ptr(bitmap.FormatRGBA)},
	})
	uri := mem.Put("wide.png", pngBytes(t, 400, 200), "")

	res, err := e.Execute(ctx, request.NewBuilder(uri).SizeResolver(request.FixedSize{Width: 100, Height: 100}).Build())
	if err != nil || !res.OK() {
		t.Fatalf("%v %+v", err, res)
	}
	defer res.Release()
	if res.Image.Width != 200 || res.Image.Height != 100 {
		t.Fatalf("size=%dx%d", res.Image.Width, res.Image.Height)
	}
	if res.Image.Buffer().Format != bitmap.FormatRGBA {
		t.Fatalf("format=%s", res.Image.Buffer().Format)
	}
	if _, ok := res.Request.Resize(); !ok {
		t.Fatal("resolved size missing from the request")
	}
}

func TestEngine_Shutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := New(Options{Fetchers: fetch.NewRegistry(fetch.NewMemory())})
	if err := e.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Execute(ctx, request.NewBuilder("memory://x").Build()); !errors.Is(err, ErrClosed) {
		t.Fatalf("execute after shutdown: %v", err)
	}
	// A refused job is a failure, not a cancellation.
	j := e.Enqueue(ctx, request.NewBuilder("memory://x").Build())
	res, err := j.Wait(ctx)
	if err != nil || res == nil || !errors.Is(res.Err, ErrClosed) {
		t.Fatalf("enqueue after shutdown: res=%+v err=%v", res, err)
	}
	if j.State() != StateError {
		t.Fatalf("state=%s", j.State())
	}
	j.Dispose()
	if err := e.Shutdown(ctx); err != nil {
		t.Fatalf("second shutdown: %v", err)
	}
}

func ptr[T any](v T) *T { return &v }
