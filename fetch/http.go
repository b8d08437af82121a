package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/request"
)

// DefaultMaxDownload bounds response bodies when HTTPOptions.MaxBytes is unset.
const DefaultMaxDownload = 64 << 20

// HTTPOptions configures an HTTPFetcher. Zero values are safe:
//   - nil Client   => http.DefaultClient
//   - MaxBytes <= 0 => DefaultMaxDownload
//   - nil Cache    => no download cache
//   - nil Logger   => discard
type HTTPOptions struct {
	Client *http.Client
	// Cache is the download cache, keyed by request.DownloadCacheKey.
	Cache     diskcache.Cache
	MaxBytes  int64
	UserAgent string
	Logger    *slog.Logger
}

// HTTPFetcher serves http and https uris, through the download cache when
// the request's download cache policy allows.
type HTTPFetcher struct {
	client *http.Client
	cache  diskcache.Cache
	max    int64
	ua     string
	log    *slog.Logger
}

// NewHTTP builds an HTTPFetcher from opt.
func NewHTTP(opt HTTPOptions) *HTTPFetcher {
	if opt.Client == nil {
		opt.Client = http.DefaultClient
	}
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxDownload
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPFetcher{
		client: opt.Client,
		cache:  opt.Cache,
		max:    opt.MaxBytes,
		ua:     opt.UserAgent,
		log:    opt.Logger.With("component", "fetch.http"),
	}
}

// Create implements Factory.
func (f *HTTPFetcher) Create(req *request.Request) Fetcher {
	u := strings.ToLower(req.URI())
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return f
	}
	return nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, req *request.Request) (*Result, error) {
	uri := req.URI()
	key := req.DownloadCacheKey()
	policy := req.DownloadCachePolicy()

	if f.cache != nil && policy.ReadEnabled() {
		snap, err := f.cache.OpenSnapshot(ctx, key)
		switch {
		case err == nil:
			return &Result{
				Source:   SnapshotSource{Snapshot: snap},
				MimeType: DetectMimeType(uri, "", head(snap.Bytes())),
				DataFrom: bitmap.FromDownloadCache,
			}, nil
		case !diskcache.IsMiss(err):
			f.log.Warn("download cache read", "uri", uri, "err", err)
		}
	}

	if !req.Depth().Allows(request.DepthNetwork) {
		return nil, request.NewDepthError(req)
	}

	body, contentType, err := f.get(ctx, uri)
	if err != nil {
		return nil, err
	}

	if f.cache != nil && policy.WriteEnabled() {
		if err := diskcache.Put(ctx, f.cache, key, body); err != nil {
			if errors.Is(err, diskcache.ErrWriteConflict) {
				f.log.Debug("download cache write conflict", "uri", uri)
			} else {
				f.log.Warn("download cache write", "uri", uri, "err", err)
			}
		}
	}
	return &Result{
		Source:   BytesSource(body),
		MimeType: DetectMimeType(uri, contentType, head(body)),
		DataFrom: bitmap.FromNetwork,
	}, nil
}

func (f *HTTPFetcher) get(ctx context.Context, uri string) ([]byte, string, error) {
	hreq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", &Error{URI: uri, Op: "get", Err: err}
	}
	if f.ua != "" {
		hreq.Header.Set("User-Agent", f.ua)
	}
	resp, err := f.client.Do(hreq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", &Error{URI: uri, Op: "get", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", &Error{URI: uri, Op: "get", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.max+1))
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", &Error{URI: uri, Op: "read", Err: err}
	}
	if int64(len(body)) > f.max {
		return nil, "", &Error{URI: uri, Op: "read", Err: fmt.Errorf("body exceeds %d bytes", f.max)}
	}
	if resp.ContentLength > 0 && int64(len(body)) != resp.ContentLength {
		return nil, "", &Error{URI: uri, Op: "read", Err: io.ErrUnexpectedEOF}
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func head(b []byte) []byte {
	if len(b) > 512 {
		return b[:512]
	}
	return b
}
