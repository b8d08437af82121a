package pool

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// Metrics exposes pool-level observability hooks.
type Metrics interface {
	Acquire(hit bool)
	Discard()
	Size(freeBytes int64, outstanding int)
}

// NoopMetrics does nothing; it is the default.
type NoopMetrics struct{}

func (NoopMetrics) Acquire(bool)    {}
func (NoopMetrics) Discard()        {}
func (NoopMetrics) Size(int64, int) {}

// Options configures a Pool. Zero values are safe:
//   - MaxBytes <= 0  => DefaultMaxBytes
//   - MaxOversize <= 0 => 4 (reuse buffers up to 4× the needed bytes)
//   - nil Metrics    => NoopMetrics
//   - nil Logger     => discard
type Options struct {
	MaxBytes    int64
	MaxOversize int
	Metrics     Metrics
	Logger      *slog.Logger
}

// DefaultMaxBytes is the free-buffer budget used when Options.MaxBytes is unset.
const DefaultMaxBytes = 32 << 20

// Stats is a point-in-time snapshot of pool accounting.
type Stats struct {
	Size        int64 // bytes held by free buffers
	MaxBytes    int64
	Free        int // free buffers
	Outstanding int // checked-out buffers
	Hits        uint64
	Misses      uint64
	Released    uint64
	Discards    uint64
}

// entry is an intrusive release-order list element (head = most recently
// released, tail = least recently released).
type entry struct {
	buf        *bitmap.Buffer
	prev, next *entry
}

// bucket groups free buffers of one format by exact byte length.
type bucket struct {
	sizes  []int64 // sorted ascending, unique
	bySize map[int64][]*entry
}

// Pool is a budget-limited pool of reusable pixel buffers.
// All methods are safe for concurrent use; state is guarded by one mutex and
// no method blocks on I/O.
type Pool struct {
	mu          sync.Mutex
	maxBytes    int64
	maxOversize int64
	size        int64
	head, tail  *entry
	free        map[bitmap.Format]*bucket
	nfree       int
	out         map[*bitmap.Buffer]struct{}
	closed      bool

	hits, misses, released, discards uint64

	metrics Metrics
	log     *slog.Logger
}

// New builds a Pool from opt.
func New(opt Options) *Pool {
	if opt.MaxBytes <= 0 {
		opt.MaxBytes = DefaultMaxBytes
	}
	if opt.MaxOversize <= 0 {
		opt.MaxOversize = 4
	}
	if opt.Metrics == nil {
		opt.Metrics = NoopMetrics{}
	}
	if opt.Logger == nil {
		opt.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		maxBytes:    opt.MaxBytes,
		maxOversize: int64(opt.MaxOversize),
		free:        make(map[bitmap.Format]*bucket),
		out:         make(map[*bitmap.Buffer]struct{}),
		metrics:     opt.Metrics,
		log:         opt.Logger.With("component", "pool"),
	}
}

// Acquire returns a free buffer able to hold a w×h image in format f, or nil.
//
// An exact (w, h, f) match is preferred. Otherwise the smallest free buffer of
// the same format whose byte length is >= the needed bytes (and at most
// MaxOversize times larger) is reshaped to w×h. The returned buffer is
// checked out and never handed to another caller until released.
func (p *Pool) Acquire(w, h int, f bitmap.Format) *bitmap.Buffer {
	if w <= 0 || h <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	e := p.takeLocked(w, h, f)
	if e == nil {
		p.misses++
		p.metrics.Acquire(false)
		return nil
	}
	buf := e.buf
	buf.Reshape(w, h)
	p.out[buf] = struct{}{}
	p.hits++
	p.metrics.Acquire(true)
	p.metrics.Size(p.size, len(p.out))
	return buf
}

// AcquireOrNew is Acquire falling back to New.
func (p *Pool) AcquireOrNew(w, h int, f bitmap.Format) *bitmap.Buffer {
	if buf := p.Acquire(w, h, f); buf != nil {
		return buf
	}
	return p.New(w, h, f)
}

// New allocates a fresh buffer, bypassing the free list, and tracks it as
// checked out like a pooled buffer.
func (p *Pool) New(w, h int, f bitmap.Format) *bitmap.Buffer {
	buf := bitmap.NewBuffer(w, h, f)
	p.mu.Lock()
	p.out[buf] = struct{}{}
	p.metrics.Size(p.size, len(p.out))
	p.mu.Unlock()
	return buf
}

// Release gives a checked-out buffer back. It returns false for buffers that
// are not checked out (double release, foreign buffers), which are ignored.
//
// The buffer is kept for reuse unless it alone exceeds the budget or the
// pool is closed. Keeping it may push the pool over budget, in which case the
// least recently released buffers are discarded first.
func (p *Pool) Release(buf *bitmap.Buffer) bool {
	if buf == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.out[buf]; !ok {
		p.log.Debug("release of buffer not checked out", "id", buf.ID)
		return false
	}
	delete(p.out, buf)
	p.released++

	if p.closed || buf.ByteCount() > p.maxBytes {
		p.discardLocked()
		p.metrics.Size(p.size, len(p.out))
		return true
	}

	e := &entry{buf: buf}
	p.pushFrontLocked(e)
	p.bucketFor(buf.Format).add(e)
	p.trimLocked(p.maxBytes)
	p.metrics.Size(p.size, len(p.out))
	return true
}

// Trim discards least recently released buffers until the free bytes are
// <= bytes.
func (p *Pool) Trim(bytes int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trimLocked(bytes)
	p.metrics.Size(p.size, len(p.out))
}

// Clear discards every free buffer. Checked-out buffers are unaffected.
func (p *Pool) Clear() { p.Trim(0) }

// Close clears the pool; afterwards Acquire returns nil and released
// buffers are discarded.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Clear()
	return nil
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:        p.size,
		MaxBytes:    p.maxBytes,
		Free:        p.nfree,
		Outstanding: len(p.out),
		Hits:        p.hits,
		Misses:      p.misses,
		Released:    p.released,
		Discards:    p.discards,
	}
}

// CheckedOut reports whether buf is currently checked out of this pool.
func (p *Pool) CheckedOut(buf *bitmap.Buffer) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.out[buf]
	return ok
}

var _ bitmap.Recycler = (*Pool)(nil)

// -------------------- internals (mu held) --------------------

func (p *Pool) takeLocked(w, h int, f bitmap.Format) *entry {
	b := p.free[f]
	if b == nil || len(b.sizes) == 0 {
		return nil
	}
	need := bitmap.Needed(w, h, f)
	i := sort.Search(len(b.sizes), func(i int) bool { return b.sizes[i] >= need })
	if i == len(b.sizes) || b.sizes[i] > need*p.maxOversize {
		return nil
	}
	size := b.sizes[i]
	list := b.bySize[size]

	// exact dimensions first, else the most recently released of this size
	pick := len(list) - 1
	if size == need {
		for j := len(list) - 1; j >= 0; j-- {
			if list[j].buf.Width == w && list[j].buf.Height == h {
				pick = j
				break
			}
		}
	}
	e := list[pick]
	b.remove(size, pick)
	p.unlinkLocked(e)
	return e
}

func (p *Pool) bucketFor(f bitmap.Format) *bucket {
	b := p.free[f]
	if b == nil {
		b = &bucket{bySize: make(map[int64][]*entry)}
		p.free[f] = b
	}
	return b
}

func (p *Pool) trimLocked(limit int64) {
	for p.size > limit && p.tail != nil {
		e := p.tail
		p.unlinkLocked(e)
		b := p.free[e.buf.Format]
		list := b.bySize[e.buf.ByteCount()]
		for j := range list {
			if list[j] == e {
				b.remove(e.buf.ByteCount(), j)
				break
			}
		}
		p.discardLocked()
	}
}

func (p *Pool) discardLocked() {
	p.discards++
	p.metrics.Discard()
}

func (p *Pool) pushFrontLocked(e *entry) {
	e.prev = nil
	e.next = p.head
	if p.head != nil {
		p.head.prev = e
	}
	p.head = e
	if p.tail == nil {
		p.tail = e
	}
	p.size += e.buf.ByteCount()
	p.nfree++
}

func (p *Pool) unlinkLocked(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if p.head == e {
		p.head = e.next
	}
	if p.tail == e {
		p.tail = e.prev
	}
	e.prev, e.next = nil, nil
	p.size -= e.buf.ByteCount()
	p.nfree--
}

func (b *bucket) add(e *entry) {
	size := e.buf.ByteCount()
	if _, ok := b.bySize[size]; !ok {
		i := sort.Search(len(b.sizes), func(i int) bool { return b.sizes[i] >= size })
		b.sizes = append(b.sizes, 0)
		copy(b.sizes[i+1:], b.sizes[i:])
		b.sizes[i] = size
	}
	b.bySize[size] = append(b.bySize[size], e)
}

func (b *bucket) remove(size int64, idx int) {
	list := b.bySize[size]
	list = append(list[:idx], list[idx+1:]...)
	if len(list) > 0 {
		b.bySize[size] = list
		return
	}
	delete(b.bySize, size)
	i := sort.Search(len(b.sizes), func(i int) bool { return b.sizes[i] >= size })
	if i < len(b.sizes) && b.sizes[i] == size {
		b.sizes = append(b.sizes[:i], b.sizes[i+1:]...)
	}
}
