package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-cmp/cmp"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/request"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n0000")

func newServer(t *testing.T, status int, hits *atomic.Int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(status)
		_, _ = w.Write(pngMagic)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func bytesOf(t *testing.T, r *Result) []byte {
	t.Helper()
	b, err := r.Source.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestHTTP_DownloadCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK, &hits)
	dc, err := diskcache.New(memfs.New(), diskcache.Options{Dir: "/dl"})
	if err != nil {
		t.Fatal(err)
	}
	f := NewHTTP(HTTPOptions{Client: srv.Client(), Cache: dc})
	req := request.NewBuilder(srv.URL + "/a.jpg").Build()

	r1, err := f.Fetch(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if r1.DataFrom != bitmap.FromNetwork || r1.MimeType != "image/png" {
		t.Fatalf("first: from=%s mime=%s", r1.DataFrom, r1.MimeType)
	}
	r2, err := f.Fetch(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if r2.DataFrom != bitmap.FromDownloadCache {
		t.Fatalf("second from=%s", r2.DataFrom)
	}
	if diff := cmp.Diff(bytesOf(t, r1), bytesOf(t, r2)); diff != "" {
		t.Fatalf("cached bytes (-net +cache):\n%s", diff)
	}
	if hits.Load() != 1 {
		t.Fatalf("server hits=%d", hits.Load())
	}

	// Read-disabled policy goes back to the network.
	nr := req.NewBuilder().DownloadCachePolicy(request.WriteOnly).Build()
	if _, err := f.Fetch(ctx, nr); err != nil {
		t.Fatal(err)
	}
	if hits.Load() != 2 {
		t.Fatalf("server hits=%d", hits.Load())
	}
}

func TestHTTP_DepthLimit(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := newServer(t, http.StatusOK, &hits)
	f := NewHTTP(HTTPOptions{Client: srv.Client()})
	req := request.NewBuilder(srv.URL + "/a.png").Depth(request.DepthLocal, "").Build()

	_, err := f.Fetch(context.Background(), req)
	if !errors.Is(err, request.ErrDepthLimitExceeded) {
		t.Fatalf("err=%v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("network touched despite depth limit")
	}
}

func TestHTTP_BadStatus(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := newServer(t, http.StatusNotFound, &hits)
	f := NewHTTP(HTTPOptions{Client: srv.Client()})
	_, err := f.Fetch(context.Background(), request.NewBuilder(srv.URL+"/x").Build())
	var fe *Error
	if !errors.As(err, &fe) || fe.Op != "get" {
		t.Fatalf("err=%v", err)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	mem := NewMemory()
	reg := NewRegistry(NewHTTP(HTTPOptions{}), &FileFetcher{FS: memfs.New()}, DataURIFetcher{}, mem)

	cases := map[string]Fetcher{
		"http://x/a.png":            reg.factories[0].Create(request.NewBuilder("http://x").Build()),
		"file:///sdcard/sample.jpg": reg.factories[1].Create(request.NewBuilder("/x").Build()),
		"/sdcard/sample.jpg":        reg.factories[1].Create(request.NewBuilder("/x").Build()),
		"data:image/png;base64,AA":  DataURIFetcher{},
		"memory://a":                mem,
	}
	for uri, want := range cases {
		if got := reg.Fetcher(request.NewBuilder(uri).Build()); got != want {
			t.Fatalf("%s: got %T", uri, got)
		}
	}
	_, err := reg.Fetch(context.Background(), request.NewBuilder("ftp://x/a.png").Build())
	if !errors.Is(err, ErrUnsupportedURI) {
		t.Fatalf("err=%v", err)
	}
}

func TestFileFetcher(t *testing.T) {
	t.Parallel()
	fs := memfs.New()
	f, _ := fs.Create("/img/a.png")
	_, _ = f.Write(pngMagic)
	_ = f.Close()
	ff := &FileFetcher{FS: fs}

	r, err := ff.Fetch(context.Background(), request.NewBuilder(NewFileURI("/img/a.png")).Build())
	if err != nil {
		t.Fatal(err)
	}
	if r.DataFrom != bitmap.FromLocal || r.MimeType != "image/png" {
		t.Fatalf("from=%s mime=%s", r.DataFrom, r.MimeType)
	}
	if diff := cmp.Diff(pngMagic, bytesOf(t, r)); diff != "" {
		t.Fatal(diff)
	}
	if _, err := ff.Fetch(context.Background(), request.NewBuilder("/img/missing.png").Build()); err == nil {
		t.Fatal("expected error")
	}
}

func TestDataURI(t *testing.T) {
	t.Parallel()
	r, err := DataURIFetcher{}.Fetch(context.Background(), request.NewBuilder("data:image/gif;base64,R0lGODlh").Build())
	if err != nil {
		t.Fatal(err)
	}
	if r.MimeType != "image/gif" || string(bytesOf(t, r)) != "GIF89a" {
		t.Fatalf("mime=%s body=%q", r.MimeType, bytesOf(t, r))
	}
	if _, err := (DataURIFetcher{}).Fetch(context.Background(), request.NewBuilder("data:nocomma").Build()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestMemoryFetcher(t *testing.T) {
	t.Parallel()
	m := NewMemory()
	uri := m.Put("a.png", pngMagic, "")
	r, err := m.Fetch(context.Background(), request.NewBuilder(uri).Build())
	if err != nil {
		t.Fatal(err)
	}
	if r.MimeType != "image/png" || m.Fetches() != 1 {
		t.Fatalf("mime=%s fetches=%d", r.MimeType, m.Fetches())
	}
	if _, err := m.Fetch(context.Background(), request.NewBuilder("memory://none").Build()); err == nil {
		t.Fatal("expected miss")
	}
}

func TestDetectMimeType(t *testing.T) {
	t.Parallel()
	cases := []struct {
		uri, ct string
		head    []byte
		want    string
	}{
		{"http://sample.com/sample.jpeg", "", nil, "image/jpeg"},
		{"http://sample.com/sample.jpeg", " ", nil, "image/jpeg"},
		{"http://sample.com/sample.jpeg", "text/plain; charset=utf-8", nil, "image/jpeg"},
		{"http://sample.com/sample.jpeg", "image/png", nil, "image/png"},
		{"http://sample.com/noext", "", pngMagic, "image/png"},
		{"http://sample.com/noext", "", []byte("hello"), ""},
	}
	for _, c := range cases {
		if got := DetectMimeType(c.uri, c.ct, c.head); got != c.want {
			t.Errorf("DetectMimeType(%q,%q)=%q want %q", c.uri, c.ct, got, c.want)
		}
	}
}
