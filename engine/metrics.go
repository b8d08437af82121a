package engine

import (
	"time"

	"github.com/IvanBrykalov/pixcache/bitmap"
)

// Metrics exposes engine-level observability hooks.
// A NoopMetrics implementation is provided and used by default.
type Metrics interface {
	// Completed is called once per finished request. from is only
	// meaningful for StateSuccess.
	Completed(state State, from bitmap.DataFrom, elapsed time.Duration)
	// Coalesced is called when a request joins a decode already in flight.
	Coalesced()
}

// NoopMetrics is a drop-in Metrics implementation that does nothing.
type NoopMetrics struct{}

func (NoopMetrics) Completed(State, bitmap.DataFrom, time.Duration) {}
func (NoopMetrics) Coalesced()                                      {}

var _ Metrics = NoopMetrics{}
