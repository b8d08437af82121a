// Package policy defines the pluggable eviction policy contract used by the
// cache shards.
package policy

// Node is the minimal contract a cache entry must satisfy for a policy.
// It exposes the key, a pointer to the value and the entry's cost (bytes for
// the image caches).
type Node[K comparable, V any] interface {
	Key() K
	Value() *V
	Cost() int64
}

// Hooks expose O(1) list operations that a policy can use to manipulate
// the shard's intrusive MRU/LRU list. Implementations are provided by the shard.
//
// Concurrency: all hook calls happen under the shard lock.
// Hooks manage only the list; the shard owns the key->node map and the
// cost accounting.
type Hooks[K comparable, V any] interface {
	// MoveToFront promotes the node to MRU.
	MoveToFront(Node[K, V])
	// PushFront inserts the node at MRU (used on admission).
	PushFront(Node[K, V])
	// Remove detaches the node from the list.
	Remove(Node[K, V])
	// Back returns the current LRU node (or nil if empty).
	Back() Node[K, V]
	// Len returns the number of resident nodes in the shard.
	Len() int
}

// ShardPolicy is a per-shard eviction policy instance bound to shard hooks.
// All methods are invoked under the shard lock.
//
// Semantics:
//   - OnAdd may return an eviction candidate; the shard evicts it and calls
//     OnRemove for it.
//   - OnGet/OnUpdate typically promote the node.
//   - OnRemove notifies the policy so it can drop internal state.
type ShardPolicy[K comparable, V any] interface {
	OnAdd(Node[K, V]) (evict Node[K, V])
	OnGet(Node[K, V])
	OnUpdate(Node[K, V])
	OnRemove(Node[K, V])
}

// Policy is a factory that creates shard-local policy instances
// bound to a particular shard's hooks.
type Policy[K comparable, V any] interface {
	New(Hooks[K, V]) ShardPolicy[K, V]
}
