// internal/transaction/metrics.go
package transaction

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the lifecycle collectors. A nil *Metrics records nothing.
type Metrics struct {
	transitions       *prometheus.CounterVec
	failures          *prometheus.CounterVec
	reorgs            prometheus.Counter
	tracked           prometheus.Gauge
	durationHistogram prometheus.Histogram
}

// NewMetrics registers the collectors with registry, or prometheus.DefaultRegisterer when nil.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txlife_transitions_total",
			Help: "Total number of lifecycle transitions by target state",
		}, []string{"state"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "txlife_failures_total",
			Help: "Total number of failed transactions by classified kind",
		}, []string{"kind"}),
		reorgs: factory.NewCounter(prometheus.CounterOpts{
			Name: "txlife_reorgs_total",
			Help: "Total number of inclusion blocks dropped by a reorg",
		}),
		tracked: factory.NewGauge(prometheus.GaugeOpts{
			Name: "txlife_tracked_transactions",
			Help: "Number of transactions currently being tracked",
		}),
		durationHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "txlife_finality_duration_seconds",
			Help:    "Time from submission to finality in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

func (m *Metrics) ObserveTransition(state State) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(state.String()).Inc()
}

func (m *Metrics) ObserveFailure(kind Kind) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(StateError.String()).Inc()
	m.failures.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) ObserveReorg() {
	if m == nil {
		return
	}
	m.reorgs.Inc()
}

func (m *Metrics) TrackStarted() {
	if m == nil {
		return
	}
	m.tracked.Inc()
}

func (m *Metrics) TrackStopped() {
	if m == nil {
		return
	}
	m.tracked.Dec()
}

// TrackFinality records the time from start to finality.
func (m *Metrics) TrackFinality(start time.Time) {
	if m == nil {
		return
	}
	m.durationHistogram.Observe(time.Since(start).Seconds())
}
