// Package cache provides a generic, sharded, cost-bounded in-memory cache with
// pluggable eviction policies (LRU by default), optional singleflight
// loading and lightweight metrics hooks. It is the storage engine behind the
// memory cache of decoded images.
//
// Design
//
//   - Concurrency: the cache is split into shards, each protected by an
//     RWMutex. The default shard count is a power of two derived from
//     GOMAXPROCS. Budgets are split evenly, so callers that need strict
//     global LRU ordering (the image memory cache) use a single shard.
//
//   - Storage: each shard keeps a map[K]*node for lookups and an intrusive
//     MRU↔LRU doubly linked list for ordering. All operations are O(1) expected.
//
//   - Cost: Options.Cost weighs each value (bytes for images) and MaxCost is
//     the budget. Every write that pushes a shard over budget evicts from the
//     LRU end until it fits again. A value that alone exceeds the budget is
//     rejected, so resident cost never exceeds MaxCost after a write.
//
//   - Ownership: OnEvict(k, v, reason) fires for every value that leaves the
//     cache, including replacement, explicit removal and Clear. Caches of
//     ref-counted values release their reference there.
//
//   - GetOrLoad: coalesces concurrent loads for the same key using singleflight.
//     If Loader is nil, GetOrLoad returns ErrNoLoader.
//
//   - Metrics: Options.Metrics receives Hit/Miss/Evict/Size signals.
//     By default NoopMetrics is used; metrics/prom exports them to Prometheus.
//
// Basic usage
//
//	c := cache.New[string, []byte](cache.Options[string, []byte]{
//	    MaxCost: 64 << 20,
//	    Cost:    func(b []byte) int64 { return int64(len(b)) },
//	})
//	c.Set("a", []byte("1"))
//	if v, ok := c.Get("a"); ok {
//	    _ = v
//	}
//	c.Remove("a")
package cache
