package memcache

import (
	"log/slog"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/cache"
	"github.com/IvanBrykalov/pixcache/request"
)

// DefaultMaxBytes is the budget used when Options.MaxBytes is unset.
const DefaultMaxBytes = 64 << 20

// Options configures a Cache. Zero values are safe:
//   - MaxBytes <= 0 => DefaultMaxBytes
//   - Shards <= 0   => 1 (strict global LRU)
//   - nil Metrics   => cache.NoopMetrics
//   - nil Logger    => discard
type Options struct {
	MaxBytes int64
	// Shards > 1 trades global LRU order for less lock contention; the
	// budget is then split evenly between shards.
	Shards  int
	Metrics cache.Metrics
	Logger  *slog.Logger
}

// Cache holds decoded images keyed by request cache key, bounded by their
// total byte size.
//
// The cache owns one reference per entry. Get hands out an additional
// reference that the caller must Release; eviction drops only the cache's
// own reference, so pixels go back to the pool when the last holder lets go.
type Cache struct {
	c   cache.Cache[string, *bitmap.Image]
	max int64
	log *slog.Logger
}

// New builds a Cache from opt.
func New(opt Options) *Cache {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.Shards <= 0 {
		opt.Shards = 1
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	m := &Cache{max: opt.MaxBytes, log: opt.Logger.With("component", "memcache")}
	m.c = cache.New(cache.Options[string, *bitmap.Image]{
		MaxCost: opt.MaxBytes,
		Shards:  opt.Shards,
		Cost:    func(img *bitmap.Image) int64 { return img.ByteCount() },
		OnEvict: m.onEvict,
		Metrics: opt.Metrics,
	})
	return m
}

func (m *Cache) onEvict(key string, img *bitmap.Image, reason cache.EvictReason) {
	m.log.Debug("evict", "key", key, "bytes", img.ByteCount(), "reason", reason.String())
	img.Release()
}

// Get returns a retained reference to the image for key. Write-only and
// disabled policies miss without consulting the cache.
func (m *Cache) Get(key string, policy request.CachePolicy) (*bitmap.Image, bool) {
	if !policy.ReadEnabled() {
		return nil, false
	}
	img, ok := m.c.Get(key)
	if !ok {
		return nil, false
	}
	// The entry may have been evicted and released between Get and here.
	if !img.TryRetain() {
		return nil, false
	}
	return img, true
}

// Put stores img under key, taking the cache's own reference; the caller
// keeps its reference. A previous image for key is released. It returns
// false when the policy forbids writes, the image is already released or it
// alone exceeds the budget.
func (m *Cache) Put(key string, img *bitmap.Image, policy request.CachePolicy) bool {
	if img == nil || !policy.WriteEnabled() {
		return false
	}
	if !img.TryRetain() {
		return false
	}
	if !m.c.Set(key, img) {
		m.log.Debug("image exceeds budget", "key", key, "bytes", img.ByteCount(), "max", m.max)
		img.Release()
		return false
	}
	return true
}

// Contains reports presence without promotion.
func (m *Cache) Contains(key string) bool {
	_, ok := m.c.Peek(key)
	return ok
}

// Remove drops the entry for key.
func (m *Cache) Remove(key string) bool { return m.c.Remove(key) }

// TrimToSize evicts least recently used entries until Size() <= bytes.
func (m *Cache) TrimToSize(bytes int64) { m.c.Trim(bytes) }

// Clear evicts every entry.
func (m *Cache) Clear() { m.c.Clear() }

// Size is the total byte size of resident images.
func (m *Cache) Size() int64 { return m.c.Cost() }

// MaxSize is the configured budget.
func (m *Cache) MaxSize() int64 { return m.max }

// Len is the number of entries.
func (m *Cache) Len() int { return m.c.Len() }

// Keys returns resident keys, most recently used first.
func (m *Cache) Keys() []string { return m.c.Keys() }

// Close evicts everything; later Puts are rejected.
func (m *Cache) Close() error { return m.c.Close() }
