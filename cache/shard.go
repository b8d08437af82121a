package cache

import (
	"sync"
	"sync/atomic"

	"github.com/IvanBrykalov/pixcache/policy"
)

// shard is an independent partition of the cache with its own lock, map,
// and an intrusive doubly linked list (head=MRU, tail=LRU).
type shard[K comparable, V any] struct {
	// ---- guarded by mu ----
	mu      sync.RWMutex
	m       map[K]*node[K, V]
	head    *node[K, V] // MRU
	tail    *node[K, V] // LRU
	len     int         // number of resident entries
	cost    int64       // total resident cost
	cap     int         // per-shard entry capacity (0 = unlimited)
	maxCost int64       // per-shard cost limit (0 = unlimited)

	pol policy.ShardPolicy[K, V]
	opt Options[K, V]

	hits   atomic.Int64
	misses atomic.Int64
	evicts atomic.Uint64
}

func newShard[K comparable, V any](capacity int, maxCost int64, pol policy.Policy[K, V], opt Options[K, V]) *shard[K, V] {
	s := &shard[K, V]{
		m:       make(map[K]*node[K, V]),
		cap:     capacity,
		maxCost: maxCost,
		opt:     opt,
	}
	s.pol = pol.New(shardHooks[K, V]{s: s})
	return s
}

// oversize reports whether a single value can never fit this shard.
func (s *shard[K, V]) oversize(cost int64) bool {
	return s.maxCost > 0 && cost > s.maxCost
}

// Add inserts a NEW entry (no update) as MRU via policy hooks.
func (s *shard[K, V]) Add(k K, v V, cost int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.m[k]; exists {
		return false
	}
	if s.oversize(cost) {
		return false
	}
	s.admitLocked(k, v, cost)
	return true
}

// Set inserts or updates an entry and promotes it according to the policy.
func (s *shard[K, V]) Set(k K, v V, cost int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if s.oversize(cost) {
		if ok {
			s.evictNode(n, EvictReplace)
			s.opt.Metrics.Size(s.len, s.cost)
		}
		return false
	}
	if ok {
		old := n.val
		n.val = v
		s.cost += cost - n.cost
		n.cost = cost
		s.pol.OnUpdate(n)
		s.notify(k, old, EvictReplace)
		s.enforceLimitsLocked(n)
		return true
	}
	s.admitLocked(k, v, cost)
	return true
}

func (s *shard[K, V]) admitLocked(k K, v V, cost int64) {
	n := &node[K, V]{key: k, val: v, cost: cost}
	s.m[k] = n
	if ev := s.pol.OnAdd(n); ev != nil {
		s.evictNode(ev.(*node[K, V]), EvictPolicy)
	}
	s.enforceLimitsLocked(n)
}

// Get returns the value and promotes the entry according to the policy.
func (s *shard[K, V]) Get(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		s.misses.Add(1)
		s.opt.Metrics.Miss()
		var zero V
		return zero, false
	}
	s.pol.OnGet(n)
	s.hits.Add(1)
	s.opt.Metrics.Hit()
	return n.val, true
}

func (s *shard[K, V]) Peek(k K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.m[k]; ok {
		return n.val, true
	}
	var zero V
	return zero, false
}

// Remove deletes an entry by key. Returns true if the entry existed.
func (s *shard[K, V]) Remove(k K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.m[k]
	if !ok {
		return false
	}
	s.evictNode(n, EvictRemove)
	s.opt.Metrics.Size(s.len, s.cost)
	return true
}

// Trim evicts from the LRU end until cost <= target.
func (s *shard[K, V]) Trim(target int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.cost > target || (target == 0 && s.len > 0) {
		tail := s.back()
		if tail == nil {
			break
		}
		s.evictNode(tail, EvictClear)
	}
	s.opt.Metrics.Size(s.len, s.cost)
}

func (s *shard[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.len
}

func (s *shard[K, V]) Cost() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cost
}

func (s *shard[K, V]) appendKeys(dst []K) []K {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for n := s.head; n != nil; n = n.next {
		dst = append(dst, n.key)
	}
	return dst
}

// -------------------- internals (mu held) --------------------

// insertFront inserts n at MRU in O(1).
func (s *shard[K, V]) insertFront(n *node[K, V]) {
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
	s.len++
	s.cost += n.cost
}

// moveToFront promotes n to MRU in O(1).
func (s *shard[K, V]) moveToFront(n *node[K, V]) {
	if n == s.head {
		return
	}
	// detach
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.tail == n {
		s.tail = n.prev
	}
	// insert at head
	n.prev = nil
	n.next = s.head
	if s.head != nil {
		s.head.prev = n
	}
	s.head = n
	if s.tail == nil {
		s.tail = n
	}
}

// removeNode unlinks n and updates counters in O(1).
func (s *shard[K, V]) removeNode(n *node[K, V]) {
	if n.prev != nil {
		n.prev.next = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	}
	if s.head == n {
		s.head = n.next
	}
	if s.tail == n {
		s.tail = n.prev
	}
	n.prev, n.next = nil, nil
	s.len--
	s.cost -= n.cost
}

func (s *shard[K, V]) back() *node[K, V] { return s.tail }

// evictNode removes the node, updates metrics/counters, and calls OnEvict.
func (s *shard[K, V]) evictNode(n *node[K, V], reason EvictReason) {
	s.pol.OnRemove(n)
	s.removeNode(n)
	delete(s.m, n.key)
	if reason == EvictPolicy || reason == EvictCapacity {
		s.evicts.Add(1)
		s.opt.Metrics.Evict(reason)
	}
	s.notify(n.key, n.val, reason)
}

func (s *shard[K, V]) notify(k K, v V, reason EvictReason) {
	if cb := s.opt.OnEvict; cb != nil {
		cb(k, v, reason)
	}
}

// enforceLimitsLocked evicts LRU items until both count and cost limits are
// satisfied. keep (the entry just written) is never chosen: callers have
// already rejected values that cannot fit on their own.
func (s *shard[K, V]) enforceLimitsLocked(keep *node[K, V]) {
	if s.cap > 0 {
		for s.len > s.cap {
			tail := s.back()
			if tail == nil || tail == keep {
				break
			}
			s.evictNode(tail, EvictPolicy)
		}
	}
	if s.maxCost > 0 {
		for s.cost > s.maxCost {
			tail := s.back()
			if tail == nil || tail == keep {
				break
			}
			s.evictNode(tail, EvictCapacity)
		}
	}
	s.opt.Metrics.Size(s.len, s.cost)
}

// -------------------- policy hooks --------------------

// shardHooks adapts the shard's list operations to policy.Hooks.
type shardHooks[K comparable, V any] struct{ s *shard[K, V] }

func (h shardHooks[K, V]) MoveToFront(x policy.Node[K, V]) { h.s.moveToFront(x.(*node[K, V])) }
func (h shardHooks[K, V]) PushFront(x policy.Node[K, V])   { h.s.insertFront(x.(*node[K, V])) }
func (h shardHooks[K, V]) Remove(x policy.Node[K, V])      { h.s.removeNode(x.(*node[K, V])) }
func (h shardHooks[K, V]) Back() policy.Node[K, V] {
	if t := h.s.back(); t != nil {
		return t
	}
	return nil
}
func (h shardHooks[K, V]) Len() int { return h.s.len }
