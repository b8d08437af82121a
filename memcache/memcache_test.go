package memcache

import (
	"fmt"
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/pool"
	"github.com/IvanBrykalov/pixcache/request"
)

// img returns a w×1 gray image: exactly w bytes.
func img(p *pool.Pool, w int) *bitmap.Image {
	return bitmap.NewImage(p.AcquireOrNew(w, 1, bitmap.FormatGray), "image/png", bitmap.FromLocal, p)
}

func TestMemcache_PutGetSameInstance(t *testing.T) {
	t.Parallel()
	p := pool.New(pool.Options{})
	c := New(Options{MaxBytes: 100})

	a := img(p, 10)
	if !c.Put("a", a, request.Enabled) {
		t.Fatal("put rejected")
	}
	got, ok := c.Get("a", request.Enabled)
	if !ok || got != a {
		t.Fatalf("got=%v ok=%v", got, ok)
	}
	if a.RefCount() != 3 {
		t.Fatalf("refs=%d, want creator+cache+getter", a.RefCount())
	}
	got.Release()
	a.Release()
	if a.Released() {
		t.Fatal("cache reference lost")
	}
	c.Remove("a")
	if !a.Released() {
		t.Fatal("remove should drop the last reference")
	}
	if st := p.Stats(); st.Free != 1 || st.Outstanding != 0 {
		t.Fatalf("pool stats=%+v", st)
	}
}

func TestMemcache_StrictLRU(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 20})
	p := pool.New(pool.Options{})

	a, b, cc := img(p, 10), img(p, 10), img(p, 10)
	c.Put("A", a, request.Enabled)
	c.Put("B", b, request.Enabled)
	c.Put("C", cc, request.Enabled)

	if c.Contains("A") {
		t.Fatal("A should be evicted")
	}
	if !c.Contains("B") || !c.Contains("C") {
		t.Fatal("B and C should be resident")
	}
	if c.Size() != 20 || c.Size() > c.MaxSize() {
		t.Fatalf("size=%d", c.Size())
	}
	if a.RefCount() != 1 {
		t.Fatalf("A refs=%d, creator only", a.RefCount())
	}
}

func TestMemcache_GetPromotes(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 20})
	p := pool.New(pool.Options{})

	c.Put("A", img(p, 10), request.Enabled)
	c.Put("B", img(p, 10), request.Enabled)
	if got, ok := c.Get("A", request.Enabled); ok {
		got.Release()
	}
	c.Put("C", img(p, 10), request.Enabled)
	if !c.Contains("A") || c.Contains("B") {
		t.Fatalf("keys=%v", c.Keys())
	}
}

func TestMemcache_Policies(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 100})
	p := pool.New(pool.Options{})
	a := img(p, 10)

	if c.Put("a", a, request.ReadOnly) || c.Put("a", a, request.Disabled) {
		t.Fatal("read-only/disabled must not write")
	}
	if !c.Put("a", a, request.WriteOnly) {
		t.Fatal("write-only should write")
	}
	if _, ok := c.Get("a", request.WriteOnly); ok {
		t.Fatal("write-only must miss")
	}
	if _, ok := c.Get("a", request.Disabled); ok {
		t.Fatal("disabled must miss")
	}
	got, ok := c.Get("a", request.ReadOnly)
	if !ok {
		t.Fatal("read-only should hit")
	}
	got.Release()
}

func TestMemcache_OversizeRejected(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 10})
	p := pool.New(pool.Options{})

	c.Put("small", img(p, 5), request.Enabled)
	big := img(p, 11)
	if c.Put("big", big, request.Enabled) {
		t.Fatal("oversize image accepted")
	}
	if big.RefCount() != 1 {
		t.Fatalf("refs=%d", big.RefCount())
	}
	if !c.Contains("small") || c.Size() != 5 {
		t.Fatalf("size=%d keys=%v", c.Size(), c.Keys())
	}
}

func TestMemcache_ReplaceReleasesOld(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 100})
	p := pool.New(pool.Options{})

	old, nw := img(p, 10), img(p, 20)
	c.Put("k", old, request.Enabled)
	old.Release()
	c.Put("k", nw, request.Enabled)
	if !old.Released() {
		t.Fatal("replaced image not released")
	}
	if c.Size() != 20 || c.Len() != 1 {
		t.Fatalf("size=%d len=%d", c.Size(), c.Len())
	}

	// Putting the same instance twice keeps exactly one cache reference.
	c.Put("k", nw, request.Enabled)
	if nw.RefCount() != 2 {
		t.Fatalf("refs=%d", nw.RefCount())
	}
}

func TestMemcache_TrimAndClear(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 100})
	p := pool.New(pool.Options{})
	for i := range 5 {
		im := img(p, 10)
		c.Put(fmt.Sprint(i), im, request.Enabled)
		im.Release()
	}
	c.TrimToSize(25)
	if c.Size() != 20 || c.Len() != 2 {
		t.Fatalf("size=%d len=%d", c.Size(), c.Len())
	}
	c.Clear()
	if c.Size() != 0 || c.Len() != 0 {
		t.Fatalf("size=%d len=%d", c.Size(), c.Len())
	}
	if st := p.Stats(); st.Outstanding != 0 {
		t.Fatalf("outstanding=%d", st.Outstanding)
	}
}

func TestMemcache_ConcurrentAccounting(t *testing.T) {
	t.Parallel()
	c := New(Options{MaxBytes: 200})
	p := pool.New(pool.Options{})

	var g errgroup.Group
	for w := range 8 {
		g.Go(func() error {
			for i := range 200 {
				key := fmt.Sprint((w + i) % 30)
				im := img(p, 10+i%5)
				c.Put(key, im, request.Enabled)
				im.Release()
				if got, ok := c.Get(key, request.Enabled); ok {
					if got.Released() {
						return fmt.Errorf("got released image for %s", key)
					}
					got.Release()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if c.Size() > c.MaxSize() {
		t.Fatalf("size %d over budget %d", c.Size(), c.MaxSize())
	}
	c.Clear()
	if st := p.Stats(); st.Outstanding != 0 {
		t.Fatalf("leaked %d buffers", st.Outstanding)
	}
}
