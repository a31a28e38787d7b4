// Package observability exposes Prometheus metrics for the manifest build
// pipeline. Metrics are served on /metrics by the runtime HTTP server.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pacs_connector"

// Metrics holds the connector's Prometheus collectors. Construct once at
// startup with NewMetrics; a nil *Metrics disables recording, which keeps
// tests free of global registry collisions.
type Metrics struct {
	JobsSubmitted prometheus.Counter
	JobsCompleted *prometheus.CounterVec
	JobsEvicted   prometheus.Counter
	BuildsActive  prometheus.Gauge
	BuildSeconds  prometheus.Histogram
}

// NewMetrics registers the connector metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_submitted_total",
			Help:      "Manifest build jobs accepted.",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_completed_total",
			Help:      "Manifest build jobs finished, by outcome.",
		}, []string{"outcome"}),
		JobsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_evicted_total",
			Help:      "Jobs reclaimed by the registry reaper before retrieval.",
		}),
		BuildsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "builds_active",
			Help:      "Manifest builds currently executing.",
		}),
		BuildSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "build_duration_seconds",
			Help:      "Wall time of manifest build execution.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveSubmitted() {
	if m != nil {
		m.JobsSubmitted.Inc()
	}
}

func (m *Metrics) ObserveCompleted(outcome string, seconds float64) {
	if m != nil {
		m.JobsCompleted.WithLabelValues(outcome).Inc()
		m.BuildSeconds.Observe(seconds)
	}
}

func (m *Metrics) ObserveEvicted() {
	if m != nil {
		m.JobsEvicted.Inc()
	}
}

func (m *Metrics) SetActiveDelta(d float64) {
	if m != nil {
		m.BuildsActive.Add(d)
	}
}
