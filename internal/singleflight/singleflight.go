// Package singleflight coalesces concurrent work for the same key.
package singleflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent calls for the same key so that fn runs at most
// once per in-flight key. Every caller waits for the shared result.
//
// Concurrency notes:
//   - The first caller for a key starts fn in its own goroutine with a work
//     context detached from the caller's cancellation.
//   - Each waiter (including the first) may cancel independently. The work
//     context is cancelled only when every waiter has gone, so one caller
//     leaving never aborts a result others still want.
//   - Publishing (val, err) happens-before close(done).
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]

	// Share is called once per successful flight with the number of waiters
	// that will receive the value, before any of them is woken. Values that
	// carry ownership (ref-counted images) use it to hand each waiter its own
	// reference; n == 0 means nobody is left to receive it.
	Share func(v V, n int)
}

type call[V any] struct {
	done    chan struct{}
	val     V
	err     error
	waiters int
	cancel  context.CancelFunc
}

// Do runs fn once for key. shared reports whether this caller joined a flight
// started by someone else. If ctx is cancelled before the result is
// published, Do returns ctx.Err(); the work keeps running while other waiters
// remain.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func(ctx context.Context) (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	// A flight every waiter abandoned is already cancelled; start afresh.
	c, ok := g.m[key]
	if ok && c.waiters > 0 {
		c.waiters++
		g.mu.Unlock()
		v, err = g.wait(ctx, c)
		return v, true, err
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c = &call[V]{done: make(chan struct{}), waiters: 1, cancel: cancel}
	g.m[key] = c
	g.mu.Unlock()

	go g.run(workCtx, key, c, fn)

	v, err = g.wait(ctx, c)
	return v, false, err
}

// InFlight reports the number of keys currently being worked on.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}

func (g *Group[K, V]) run(ctx context.Context, key K, c *call[V], fn func(ctx context.Context) (V, error)) {
	v, err := fn(ctx)
	c.cancel()

	g.mu.Lock()
	if g.m[key] == c {
		delete(g.m, key)
	}
	c.val, c.err = v, err
	if err == nil && g.Share != nil {
		g.Share(v, c.waiters)
	}
	close(c.done)
	g.mu.Unlock()
}

func (g *Group[K, V]) wait(ctx context.Context, c *call[V]) (V, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-c.done:
		// Published while we were cancelling: our share is already counted.
		return c.val, c.err
	default:
	}
	c.waiters--
	if c.waiters == 0 {
		c.cancel()
	}
	var zero V
	return zero, ctx.Err()
}
