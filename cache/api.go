package cache

import "context"

// Cache is a sharded, cost-bounded in-memory key/value cache.
// All methods are safe for concurrent use by multiple goroutines.
//
// Typical complexity for operations is amortized O(1):
// a map lookup plus constant-time list adjustments under a shard lock.
type Cache[K comparable, V any] interface {
	// Add inserts k→v only if k is not present.
	// Returns false if the key already exists or v alone exceeds the budget.
	Add(k K, v V) bool

	// Set inserts or updates k→v and promotes the entry.
	// A replaced value is reported to OnEvict with EvictReplace.
	// Returns false (storing nothing) when v alone exceeds the shard budget;
	// an existing entry for k is removed in that case.
	Set(k K, v V) bool

	// Get returns the value for k and a boolean flag indicating presence.
	// On hit, the entry is promoted according to the policy.
	Get(k K) (V, bool)

	// Peek is Get without promotion or hit/miss accounting.
	Peek(k K) (V, bool)

	// Remove deletes k if present and returns true on success.
	Remove(k K) bool

	// Len returns the total number of resident entries across all shards.
	Len() int

	// Cost returns the total resident cost across all shards.
	Cost() int64

	// MaxCost returns the configured total cost budget (0 = unlimited).
	MaxCost() int64

	// Trim evicts LRU entries until the total cost is <= cost.
	Trim(cost int64)

	// Clear evicts every entry.
	Clear()

	// Keys returns a snapshot of resident keys, MRU first within each shard.
	Keys() []K

	// Close evicts every entry and marks the cache closed; later calls are
	// ignored.
	Close() error

	// GetOrLoad returns the value for k, loading it via Options.Loader on miss.
	// Concurrent loads for the same key are coalesced (singleflight).
	// If no Loader was configured, returns ErrNoLoader.
	GetOrLoad(ctx context.Context, k K) (V, error)
}
