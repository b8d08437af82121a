package cache

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

func byteCost(b []byte) int64 { return int64(len(b)) }

// Basic Add/Set/Get/Remove semantics.
func TestCache_BasicAddSetGetRemove(t *testing.T) {
	t.Parallel()

	c := New[string, int](Options[string, int]{Capacity: 8})
	t.Cleanup(func() { _ = c.Close() })

	if !c.Add("a", 1) {
		t.Fatal("Add a=1 must be true")
	}
	if c.Add("a", 2) {
		t.Fatal("Add duplicate must be false")
	}

	c.Set("a", 11)
	if v, ok := c.Get("a"); !ok || v != 11 {
		t.Fatalf("Get a want 11, got %v ok=%v", v, ok)
	}

	if !c.Remove("a") {
		t.Fatal("Remove a must be true")
	}
	if _, ok := c.Get("a"); ok {
		t.Fatal("a must be absent after Remove")
	}
}

// Insert A,B,C with a budget that fits two: A is evicted, B and C remain.
func TestCache_CostEvictionStrictLRU(t *testing.T) {
	t.Parallel()

	var evicted []string
	c := New[string, []byte](Options[string, []byte]{
		MaxCost: 20,
		Shards:  1,
		Cost:    byteCost,
		OnEvict: func(k string, _ []byte, r EvictReason) {
			if r == EvictCapacity {
				evicted = append(evicted, k)
			}
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("A", make([]byte, 10))
	c.Set("B", make([]byte, 10))
	c.Set("C", make([]byte, 10))

	if diff := cmp.Diff([]string{"A"}, evicted); diff != "" {
		t.Fatalf("evictions (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"C", "B"}, c.Keys()); diff != "" {
		t.Fatalf("resident keys (-want +got):\n%s", diff)
	}
	if c.Cost() != 20 {
		t.Fatalf("cost want 20, got %d", c.Cost())
	}
}

// A hit promotes; the next overflow evicts the untouched entry.
func TestCache_GetPromotes(t *testing.T) {
	t.Parallel()

	c := New[string, []byte](Options[string, []byte]{MaxCost: 20, Shards: 1, Cost: byteCost})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("a", make([]byte, 10))
	c.Set("b", make([]byte, 10))
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expect hit for a")
	}
	c.Set("c", make([]byte, 10))

	if _, ok := c.Peek("b"); ok {
		t.Fatal("b must be evicted")
	}
	if _, ok := c.Peek("a"); !ok {
		t.Fatal("a must survive (promoted)")
	}
}

// A value bigger than the whole budget is never stored and the cost
// invariant holds.
func TestCache_OversizeRejected(t *testing.T) {
	t.Parallel()

	c := New[string, []byte](Options[string, []byte]{MaxCost: 16, Shards: 1, Cost: byteCost})
	t.Cleanup(func() { _ = c.Close() })

	c.Set("small", make([]byte, 8))
	if c.Set("huge", make([]byte, 17)) {
		t.Fatal("oversize Set must report false")
	}
	if _, ok := c.Peek("huge"); ok {
		t.Fatal("oversize value must not be resident")
	}
	if _, ok := c.Peek("small"); !ok {
		t.Fatal("rejecting an oversize value must not evict others")
	}
	if c.Cost() > c.MaxCost() {
		t.Fatalf("cost %d exceeds budget %d", c.Cost(), c.MaxCost())
	}
}

// Every path out of the cache reports the value exactly once.
func TestCache_OnEvictReasons(t *testing.T) {
	t.Parallel()

	got := map[EvictReason]int{}
	c := New[string, int](Options[string, int]{
		Capacity: 8,
		Shards:   1,
		OnEvict:  func(_ string, _ int, r EvictReason) { got[r]++ },
	})

	c.Set("a", 1)
	c.Set("a", 2) // replace
	c.Set("b", 1)
	c.Remove("b")
	c.Set("c", 1)
	c.Set("d", 1)
	c.Trim(0)
	_ = c.Close()

	want := map[EvictReason]int{EvictReplace: 1, EvictRemove: 1, EvictClear: 3}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("reasons (-want +got):\n%s", diff)
	}
	if c.Len() != 0 || c.Cost() != 0 {
		t.Fatal("cache must be empty after Close")
	}
}

// Concurrent GetOrLoad calls for the same key trigger the Loader once.
func TestCache_GetOrLoad_Singleflight(t *testing.T) {
	var calls int64

	c := New[string, string](Options[string, string]{
		Capacity: 64,
		Loader: func(_ context.Context, k string) (string, error) {
			atomic.AddInt64(&calls, 1)
			time.Sleep(5 * time.Millisecond) // simulate I/O
			return "v:" + k, nil
		},
	})
	t.Cleanup(func() { _ = c.Close() })

	const N = 64
	var g errgroup.Group
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < N; i++ {
		g.Go(func() error {
			v, err := c.GetOrLoad(ctx, "k")
			if err != nil {
				return err
			}
			if v != "v:k" {
				return fmt.Errorf("got %q", v)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Fatalf("loader must run exactly once, got %d", got)
	}
}

func TestCache_GetOrLoad_NoLoader(t *testing.T) {
	t.Parallel()

	c := New[string, string](Options[string, string]{Capacity: 1})
	if _, err := c.GetOrLoad(context.Background(), "x"); err != ErrNoLoader {
		t.Fatalf("want ErrNoLoader, got %v", err)
	}
}
