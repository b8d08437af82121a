package cache

import (
	"context"

	"github.com/IvanBrykalov/pixcache/policy"
)

// EvictReason explains why an entry left the cache.
type EvictReason int

const (
	// EvictPolicy: removed by the active eviction policy.
	EvictPolicy EvictReason = iota
	// EvictCapacity: removed to satisfy the entry-count or cost budget.
	EvictCapacity
	// EvictReplace: the value was overwritten by Set.
	EvictReplace
	// EvictRemove: removed explicitly via Remove.
	EvictRemove
	// EvictClear: removed by Trim, Clear or Close.
	EvictClear
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictReplace:
		return "replace"
	case EvictRemove:
		return "remove"
	case EvictClear:
		return "clear"
	default:
		return "policy"
	}
}

// Metrics exposes cache-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	Hit()
	Miss()
	Evict(reason EvictReason)
	Size(entries int, cost int64)
}

// Options configures the cache behavior. Zero values are safe;
// defaults are applied in New():
//   - nil Policy   => LRU
//   - Shards <= 0  => auto (rounded up to power of two)
//   - nil Metrics  => NoopMetrics
type Options[K comparable, V any] struct {
	// Capacity is the entry count limit (0 = unlimited; MaxCost must be set).
	Capacity int

	// Shards defines the number of shards. If 0, an automatic value is chosen
	// (≈ 2*GOMAXPROCS) and rounded to the next power of two. Capacity and
	// MaxCost are split evenly, so strict global LRU needs Shards: 1.
	Shards int

	// Policy is a pluggable eviction policy; nil => LRU.
	Policy policy.Policy[K, V]

	// Cost returns the weight of a value (bytes for image caches).
	// nil = all entries cost 0.
	Cost func(v V) int64
	// MaxCost is the total cost budget; 0 disables cost limiting.
	MaxCost int64

	// Loader fetches a value on cache miss. Used by GetOrLoad.
	Loader func(ctx context.Context, k K) (V, error)

	// OnEvict is called under the shard lock for every value that leaves the
	// cache, whatever the reason; keep callbacks lightweight and never call
	// back into the same cache.
	OnEvict func(k K, v V, reason EvictReason)
	Metrics Metrics
}
