package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/pixcache/bitmap"
	"github.com/IvanBrykalov/pixcache/engine"
)

// EngineAdapter implements engine.Metrics.
type EngineAdapter struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	coalesced prometheus.Counter
}

// NewEngine registers request metrics under ns_engine_*.
func NewEngine(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *EngineAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const sub = "engine"
	a := &EngineAdapter{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "requests_total",
			Help:        "Finished requests by state and data source",
			ConstLabels: constLabels,
		}, []string{"state", "from"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "request_duration_seconds",
			Help:        "Request latency by state",
			Buckets:     prometheus.ExponentialBuckets(0.0005, 2, 14),
			ConstLabels: constLabels,
		}, []string{"state"}),
		coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "coalesced_total",
			Help:        "Requests that joined a decode already in flight",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.requests, a.latency, a.coalesced)
	return a
}

func (a *EngineAdapter) Completed(state engine.State, from bitmap.DataFrom, elapsed time.Duration) {
	src := ""
	if state == engine.StateSuccess {
		src = from.String()
	}
	a.requests.WithLabelValues(state.String(), src).Inc()
	a.latency.WithLabelValues(state.String()).Observe(elapsed.Seconds())
}

func (a *EngineAdapter) Coalesced() { a.coalesced.Inc() }

var _ engine.Metrics = (*EngineAdapter)(nil)
