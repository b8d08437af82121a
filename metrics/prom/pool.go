package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/IvanBrykalov/pixcache/pool"
)

// PoolAdapter implements pool.Metrics.
type PoolAdapter struct {
	acquires    *prometheus.CounterVec
	discards    prometheus.Counter
	freeBytes   prometheus.Gauge
	outstanding prometheus.Gauge
}

// NewPool registers buffer pool metrics under ns_pool_*.
func NewPool(reg prometheus.Registerer, ns string, constLabels prometheus.Labels) *PoolAdapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	const sub = "pool"
	a := &PoolAdapter{
		acquires: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "acquires_total",
			Help:        "Buffer acquisitions by result",
			ConstLabels: constLabels,
		}, []string{"result"}),
		discards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "discards_total",
			Help:        "Buffers dropped to stay within budget",
			ConstLabels: constLabels,
		}),
		freeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "free_bytes",
			Help:        "Bytes held by free buffers",
			ConstLabels: constLabels,
		}),
		outstanding: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "outstanding_buffers",
			Help:        "Buffers currently checked out",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.acquires, a.discards, a.freeBytes, a.outstanding)
	return a
}

func (a *PoolAdapter) Acquire(hit bool) {
	if hit {
		a.acquires.WithLabelValues("hit").Inc()
		return
	}
	a.acquires.WithLabelValues("miss").Inc()
}

func (a *PoolAdapter) Discard() { a.discards.Inc() }

func (a *PoolAdapter) Size(freeBytes int64, outstanding int) {
	a.freeBytes.Set(float64(freeBytes))
	a.outstanding.Set(float64(outstanding))
}

var _ pool.Metrics = (*PoolAdapter)(nil)
