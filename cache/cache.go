package cache

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/IvanBrykalov/pixcache/internal/singleflight"
	"github.com/IvanBrykalov/pixcache/internal/util"
	"github.com/IvanBrykalov/pixcache/policy/lru"
)

// ErrNoLoader is returned by GetOrLoad when no Loader was configured in Options.
var ErrNoLoader = errors.New("cache: no Loader provided")

// cache is a sharded in-memory KV store with a pluggable eviction policy.
type cache[K comparable, V any] struct {
	shards []*shard[K, V]
	hash   func(K) uint64
	closed atomic.Bool

	opt Options[K, V]

	// singleflight group for coalescing concurrent loads in GetOrLoad.
	sf singleflight.Group[K, V]
}

// New constructs a cache with the provided Options.
// Defaults:
//   - nil Metrics  -> NoopMetrics
//   - nil Policy   -> LRU
//   - Shards <= 0  -> auto, rounded up to the next power of two
//
// New panics if neither Capacity nor MaxCost is positive.
func New[K comparable, V any](opt Options[K, V]) Cache[K, V] {
	if opt.Capacity <= 0 && opt.MaxCost <= 0 {
		panic("cache: Capacity or MaxCost must be > 0")
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Policy == nil {
		opt.Policy = lru.New[K, V]()
	}

	sh := opt.Shards
	if sh <= 0 {
		sh = util.ReasonableShardCount()
	} else {
		sh = int(util.NextPow2(uint64(sh)))
	}

	// split budgets evenly (ceil)
	perShardCap := 0
	if opt.Capacity > 0 {
		perShardCap = util.CeilDiv(opt.Capacity, sh)
	}
	var perShardCost int64
	if opt.MaxCost > 0 {
		perShardCost = (opt.MaxCost + int64(sh) - 1) / int64(sh)
	}

	cs := make([]*shard[K, V], sh)
	for i := range cs {
		cs[i] = newShard[K, V](perShardCap, perShardCost, opt.Policy, opt)
	}

	return &cache[K, V]{
		shards: cs,
		hash:   util.Hash64[K],
		opt:    opt,
	}
}

// ---- Cache[K,V] implementation ----

func (c *cache[K, V]) Add(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(k).Add(k, v, c.costOf(v))
}

func (c *cache[K, V]) Set(k K, v V) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(k).Set(k, v, c.costOf(v))
}

func (c *cache[K, V]) Get(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.getShard(k).Get(k)
}

func (c *cache[K, V]) Peek(k K) (V, bool) {
	if c.closed.Load() {
		var zero V
		return zero, false
	}
	return c.getShard(k).Peek(k)
}

func (c *cache[K, V]) Remove(k K) bool {
	if c.closed.Load() {
		return false
	}
	return c.getShard(k).Remove(k)
}

func (c *cache[K, V]) Len() int {
	total := 0
	for _, s := range c.shards {
		total += s.Len()
	}
	return total
}

func (c *cache[K, V]) Cost() int64 {
	var total int64
	for _, s := range c.shards {
		total += s.Cost()
	}
	return total
}

func (c *cache[K, V]) MaxCost() int64 { return c.opt.MaxCost }

// Trim splits the target evenly across shards, matching how budgets are split.
func (c *cache[K, V]) Trim(cost int64) {
	if cost < 0 {
		cost = 0
	}
	per := cost / int64(len(c.shards))
	for _, s := range c.shards {
		s.Trim(per)
	}
}

func (c *cache[K, V]) Clear() {
	for _, s := range c.shards {
		s.Trim(0)
	}
}

func (c *cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.Len())
	for _, s := range c.shards {
		keys = s.appendKeys(keys)
	}
	return keys
}

// Close evicts everything (so OnEvict can release owned values) and marks
// the cache closed.
func (c *cache[K, V]) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	for _, s := range c.shards {
		s.Trim(0)
	}
	return nil
}

// GetOrLoad returns the value for k; on miss it loads via Options.Loader,
// coalescing concurrent loads for the same key (singleflight).
func (c *cache[K, V]) GetOrLoad(ctx context.Context, k K) (V, error) {
	// fast path
	if v, ok := c.Get(k); ok {
		return v, nil
	}
	if c.opt.Loader == nil {
		var zero V
		return zero, ErrNoLoader
	}

	v, _, err := c.sf.Do(ctx, k, func(ctx context.Context) (V, error) {
		// double-check after flight join
		if v, ok := c.Peek(k); ok {
			return v, nil
		}
		v, err := c.opt.Loader(ctx, k)
		if err == nil {
			c.Set(k, v)
		}
		return v, err
	})
	return v, err
}

// ---- helpers ----

func (c *cache[K, V]) getShard(k K) *shard[K, V] {
	return c.shards[util.ShardIndex(c.hash(k), len(c.shards))]
}

func (c *cache[K, V]) costOf(v V) int64 {
	if c.opt.Cost == nil {
		return 0
	}
	if n := c.opt.Cost(v); n > 0 {
		return n
	}
	return 0
}
