package singleflight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Concurrent callers for one key run fn once and all get the value;
// Share sees every waiter.
func TestGroup_CoalescesAndShares(t *testing.T) {
	t.Parallel()

	var calls, shared atomic.Int64
	g := &Group[string, int]{Share: func(_ int, n int) { shared.Store(int64(n)) }}

	release := make(chan struct{})
	const N = 16
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		go func() {
			defer wg.Done()
			v, _, err := g.Do(context.Background(), "k", func(context.Context) (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			if err != nil || v != 42 {
				t.Errorf("got %d, %v", v, err)
			}
		}()
	}
	// Wait until everyone has joined the flight.
	for g.waiters("k") < N {
		time.Sleep(time.Millisecond)
	}
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("fn must run once, got %d", calls.Load())
	}
	if shared.Load() != N {
		t.Fatalf("share must see %d waiters, got %d", N, shared.Load())
	}
}

// The work is cancelled only after the last waiter leaves.
func TestGroup_CancelWhenAllWaitersLeave(t *testing.T) {
	t.Parallel()

	g := &Group[string, int]{}
	started := make(chan struct{})
	workErr := make(chan error, 1)

	ctx1, cancel1 := context.WithCancel(context.Background())
	ctx2, cancel2 := context.WithCancel(context.Background())

	errs := make(chan error, 2)
	go func() {
		_, _, err := g.Do(ctx1, "k", func(ctx context.Context) (int, error) {
			close(started)
			<-ctx.Done()
			workErr <- ctx.Err()
			return 0, ctx.Err()
		})
		errs <- err
	}()
	<-started
	go func() {
		_, shared, err := g.Do(ctx2, "k", func(context.Context) (int, error) { return 0, nil })
		if !shared {
			t.Error("second caller must join the flight")
		}
		errs <- err
	}()
	for g.waiters("k") < 2 {
		time.Sleep(time.Millisecond)
	}

	cancel1()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("first waiter: %v", err)
	}
	select {
	case <-workErr:
		t.Fatal("work cancelled while a waiter remained")
	case <-time.After(20 * time.Millisecond):
	}

	cancel2()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("second waiter: %v", err)
	}
	select {
	case err := <-workErr:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("work ctx err: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("work not cancelled after all waiters left")
	}
}

// A caller arriving after every waiter left gets a fresh flight instead of
// the cancelled one.
func TestGroup_RestartsAbandonedFlight(t *testing.T) {
	t.Parallel()

	g := &Group[string, int]{}
	started := make(chan struct{})
	unblock := make(chan struct{})

	ctx1, cancel1 := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx1, "k", func(ctx context.Context) (int, error) {
			close(started)
			<-unblock
			return 0, ctx.Err()
		})
		errs <- err
	}()
	<-started
	cancel1()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("first waiter: %v", err)
	}

	// The abandoned work is still running; a new caller must not join it.
	v, shared, err := g.Do(context.Background(), "k", func(context.Context) (int, error) { return 7, nil })
	if err != nil || shared || v != 7 {
		t.Fatalf("Do = %d, shared=%v, err=%v; want 7, false, nil", v, shared, err)
	}
	close(unblock)
}

// waiters is a test helper reporting the waiter count of an in-flight key.
func (g *Group[K, V]) waiters(key K) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.m[key]; ok {
		return c.waiters
	}
	return 0
}
