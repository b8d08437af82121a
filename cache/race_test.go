package cache

import (
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"testing"
	"time"
)

// A mixed workload of concurrent Set/Get/Remove/Trim on random keys.
// Should pass under `-race` and keep the cost invariant.
func TestRace_Basic(t *testing.T) {
	c := New[string, []byte](Options[string, []byte]{
		MaxCost: 1 << 16,
		Shards:  32,
		Cost:    byteCost,
	})
	t.Cleanup(func() { _ = c.Close() })

	workers := 4 * runtime.GOMAXPROCS(0)
	keyspace := 50_000
	deadline := time.Now().Add(500 * time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)*9973))
			for time.Now().Before(deadline) {
				k := "k:" + strconv.Itoa(r.Intn(keyspace))
				switch r.Intn(100) {
				case 0, 1, 2, 3, 4: // ~5%: Remove
					c.Remove(k)
				case 5: // ~1%: Trim
					c.Trim(1 << 15)
				case 10, 11, 12, 13, 14, 15, 16, 17, 18, 19: // ~10%: Set
					c.Set(k, make([]byte, 1+r.Intn(256)))
				default: // Get
					c.Get(k)
				}
			}
		}(w)
	}
	wg.Wait()

	if c.Cost() > c.MaxCost()+int64(32) {
		t.Fatalf("cost %d above budget %d", c.Cost(), c.MaxCost())
	}
}
