// Package telemetry holds the Prometheus collectors shared across the
// pipeline. Collectors register on an injected registry so tests can build
// isolated instances.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	RunsTotal          *prometheus.CounterVec
	RunDuration        prometheus.Histogram
	ProviderLatency    *prometheus.HistogramVec
	ProviderFailures   *prometheus.CounterVec
	SuspensionsExpired prometheus.Counter
	PassagesRetrieved  prometheus.Histogram
}

// New registers the collectors on reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "runs_total",
			Help:      "Workflow runs by terminal status.",
		}, []string{"status"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scour",
			Name:      "run_duration_seconds",
			Help:      "Wall time from run start to terminal status.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scour",
			Name:      "provider_latency_seconds",
			Help:      "Search provider call latency.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"provider"}),
		ProviderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "provider_failures_total",
			Help:      "Failed provider calls by provider and error kind.",
		}, []string{"provider", "kind"}),
		SuspensionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scour",
			Name:      "suspensions_expired_total",
			Help:      "Suspended runs reaped after exceeding the TTL.",
		}),
		PassagesRetrieved: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scour",
			Name:      "passages_retrieved",
			Help:      "Passages returned per retrieval.",
			Buckets:   prometheus.LinearBuckets(0, 2, 8),
		}),
	}
	reg.MustRegister(m.RunsTotal, m.RunDuration, m.ProviderLatency, m.ProviderFailures, m.SuspensionsExpired, m.PassagesRetrieved)
	return m
}

// ObserveProviderCall records one provider invocation outcome.
func (m *Metrics) ObserveProviderCall(provider string, latency time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.ProviderLatency.WithLabelValues(provider).Observe(latency.Seconds())
	if errKind != "" {
		m.ProviderFailures.WithLabelValues(provider, errKind).Inc()
	}
}

// ObserveRun records a terminal run status with its duration.
func (m *Metrics) ObserveRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RunDuration.Observe(duration.Seconds())
}
