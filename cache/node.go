package cache

// node is an intrusive doubly linked list element owned by a shard.
type node[K comparable, V any] struct {
	key K
	val V

	// Intrusive list links: head is MRU, tail is LRU.
	prev *node[K, V]
	next *node[K, V]

	// cost is captured at insertion so accounting stays exact even when the
	// value's own size changes later (a released image reports 0 bytes).
	cost int64
}

func (n *node[K, V]) Key() K      { return n.key }
func (n *node[K, V]) Cost() int64 { return n.cost }

// Value returns a pointer to the stored value.
// Callers must only read/write through it while holding the shard lock.
func (n *node[K, V]) Value() *V { return &n.val }
