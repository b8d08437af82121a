package engine

import (
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/IvanBrykalov/pixcache/decode"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/memcache"
	"github.com/IvanBrykalov/pixcache/pool"
	"github.com/IvanBrykalov/pixcache/request"
)

// Options configures an Engine. Zero values are safe; defaults are applied
// in New():
//   - nil MemoryCache        => memcache.New with default budget
//   - nil Pool               => pool.New with default budget
//   - nil Codec              => decode.ImagingCodec
//   - nil Fetchers           => http(s) (through DownloadCache), file and data uris
//   - nil DecodeInterceptors => decode.DefaultInterceptors over ResultCache
//   - Workers <= 0           => GOMAXPROCS
//   - nil Logger             => discard
//   - nil Metrics            => NoopMetrics
//
// Caches and pools passed in are shared by reference and are not closed by
// Shutdown; the ones New creates are.
type Options struct {
	MemoryCache   *memcache.Cache
	ResultCache   diskcache.Cache
	DownloadCache diskcache.Cache
	Pool          *pool.Pool
	Codec         decode.Codec
	Fetchers      *fetch.Registry

	// RequestInterceptors run in order before the terminal EngineInterceptor.
	RequestInterceptors []RequestInterceptor
	// DecodeInterceptors replaces the whole decode chain; it must end with
	// a terminal stage such as decode.EngineDecodeInterceptor.
	DecodeInterceptors []decode.Interceptor

	// Defaults are merged under every request's own options.
	Defaults request.Options

	Workers    int
	HTTPClient *http.Client
	Logger     *slog.Logger
	Metrics    Metrics
}

func (o *Options) applyDefaults() (owned []func() error) {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Metrics == nil {
		o.Metrics = NoopMetrics{}
	}
	if o.Pool == nil {
		o.Pool = pool.New(pool.Options{Logger: o.Logger})
		owned = append(owned, o.Pool.Close)
	}
	if o.MemoryCache == nil {
		o.MemoryCache = memcache.New(memcache.Options{Logger: o.Logger})
		owned = append(owned, o.MemoryCache.Close)
	}
	if o.Codec == nil {
		o.Codec = decode.ImagingCodec{}
	}
	if o.Fetchers == nil {
		o.Fetchers = fetch.NewRegistry(
			fetch.NewHTTP(fetch.HTTPOptions{Client: o.HTTPClient, Cache: o.DownloadCache, Logger: o.Logger}),
			&fetch.FileFetcher{FS: osfs.New("/")},
			fetch.DataURIFetcher{},
		)
	}
	if o.DecodeInterceptors == nil {
		o.DecodeInterceptors = decode.DefaultInterceptors(decode.NewResultCacheInterceptor(o.ResultCache, o.Logger))
	}
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	return owned
}
