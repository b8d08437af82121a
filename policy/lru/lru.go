// Package lru implements the LRU eviction policy.
package lru

import "github.com/IvanBrykalov/pixcache/policy"

// lru is a classic "move-to-front" Least-Recently-Used policy.
// Insertion order defines recency; a hit promotes the entry to MRU.
type lru[K comparable, V any] struct {
	h policy.Hooks[K, V]
}

type lruPolicy[K comparable, V any] struct{}

// New returns a Policy factory that constructs per-shard LRU instances.
func New[K comparable, V any]() policy.Policy[K, V] { return lruPolicy[K, V]{} }

func (lruPolicy[K, V]) New(h policy.Hooks[K, V]) policy.ShardPolicy[K, V] {
	return &lru[K, V]{h: h}
}

// OnAdd places the new entry at MRU. Budget enforcement (evicting from the
// LRU end) is done by the shard, so LRU never proposes a victim itself.
func (p *lru[K, V]) OnAdd(n policy.Node[K, V]) (evict policy.Node[K, V]) {
	p.h.PushFront(n)
	return nil
}

func (p *lru[K, V]) OnGet(n policy.Node[K, V]) { p.h.MoveToFront(n) }

// OnUpdate treats a replacement as recent use.
func (p *lru[K, V]) OnUpdate(n policy.Node[K, V]) { p.h.MoveToFront(n) }

func (p *lru[K, V]) OnRemove(_ policy.Node[K, V]) {}
