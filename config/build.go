package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/IvanBrykalov/pixcache/cache"
	"github.com/IvanBrykalov/pixcache/diskcache"
	"github.com/IvanBrykalov/pixcache/diskcache/rediscache"
	"github.com/IvanBrykalov/pixcache/engine"
	"github.com/IvanBrykalov/pixcache/fetch"
	"github.com/IvanBrykalov/pixcache/memcache"
	"github.com/IvanBrykalov/pixcache/metrics/prom"
	"github.com/IvanBrykalov/pixcache/pool"
)

// Build constructs engine options from c. Metrics are registered with reg
// unless it is nil; log may be nil.
//
// The caches, pool and clients Build creates are handed to the engine by
// reference, so engine.Shutdown leaves them open: call the returned close
// function after it.
func (c Config) Build(ctx context.Context, reg prometheus.Registerer, log *slog.Logger) (engine.Options, func() error, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	var closers []func() error
	closeAll := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (engine.Options, func() error, error) {
		_ = closeAll()
		return engine.Options{}, nil, err
	}

	ns := c.Metrics.Namespace
	cacheMetrics := func(sub string) cache.Metrics {
		if reg == nil {
			return nil
		}
		return prom.New(reg, ns, sub, nil)
	}

	popt := pool.Options{MaxBytes: int64(c.Pool.MaxBytes), MaxOversize: c.Pool.MaxOversize, Logger: log}
	if reg != nil {
		popt.Metrics = prom.NewPool(reg, ns, nil)
	}
	pl := pool.New(popt)
	closers = append(closers, pl.Close)

	mem := memcache.New(memcache.Options{
		MaxBytes: int64(c.Memory.MaxBytes),
		Shards:   c.Memory.Shards,
		Metrics:  cacheMetrics("memory"),
		Logger:   log,
	})
	closers = append(closers, mem.Close)

	var result diskcache.Cache
	switch {
	case c.Redis.Addr != "":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{c.Redis.Addr},
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("config: redis %s: %w", c.Redis.Addr, err))
		}
		rc := rediscache.New(rdb, rediscache.Options{
			Prefix:   c.Redis.Prefix,
			MaxBytes: int64(c.Redis.MaxBytes),
			TTL:      time.Duration(c.Redis.TTL),
			Compress: c.Redis.Compress,
			Logger:   log,
		})
		closers = append(closers, rc.Close)
		result = rc
	case c.Result.Dir != "":
		d, err := openDisk(c.Result, cacheMetrics("result_disk"), log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, d.Close)
		result = d
	}

	var download diskcache.Cache
	if c.Download.Dir != "" {
		d, err := openDisk(c.Download, cacheMetrics("download_disk"), log)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, d.Close)
		download = d
	}

	defaults, err := c.Defaults.options()
	if err != nil {
		return fail(err)
	}

	client := &http.Client{Timeout: time.Duration(c.HTTP.Timeout)}
	opt := engine.Options{
		MemoryCache:   mem,
		ResultCache:   result,
		DownloadCache: download,
		Pool:          pl,
		Fetchers: fetch.NewRegistry(
			fetch.NewHTTP(fetch.HTTPOptions{
				Client:    client,
				Cache:     download,
				MaxBytes:  int64(c.HTTP.MaxDownload),
				UserAgent: c.HTTP.UserAgent,
				Logger:    log,
			}),
			&fetch.FileFetcher{FS: osfs.New("/")},
			fetch.DataURIFetcher{},
		),
		Defaults:   defaults,
		Workers:    c.Workers,
		HTTPClient: client,
		Logger:     log,
	}
	if reg != nil {
		opt.Metrics = prom.NewEngine(reg, ns, nil)
	}
	return opt, closeAll, nil
}

func openDisk(c DiskConfig, m cache.Metrics, log *slog.Logger) (*diskcache.Disk, error) {
	d, err := diskcache.New(osfs.New(c.Dir), diskcache.Options{
		MaxBytes: int64(c.MaxBytes),
		Compress: c.Compress,
		Metrics:  m,
		Logger:   log,
	})
	if err != nil {
		return nil, fmt.Errorf("config: disk cache %s: %w", c.Dir, err)
	}
	return d, nil
}
