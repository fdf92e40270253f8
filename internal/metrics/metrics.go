// Package metrics exposes Prometheus collectors for pipeline runs.
//
// All recording methods are safe to call on a nil *Metrics so components can
// run without instrumentation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "factorytwin"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	Registry *prometheus.Registry

	generationAttempts *prometheus.CounterVec
	assetOutcomes      *prometheus.CounterVec
	phaseDuration      *prometheus.HistogramVec
	runs               *prometheus.CounterVec
	activeRuns         prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		generationAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_attempts_total",
			Help:      "Mesh generation requests by result.",
		}, []string{"result"}),
		assetOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "asset_outcomes_total",
			Help:      "Final per-entity asset resolution status.",
		}, []string{"status"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of each pipeline phase.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"phase"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished pipeline runs by status.",
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Pipeline runs currently executing.",
		}),
	}
	m.Registry.MustRegister(
		m.generationAttempts,
		m.assetOutcomes,
		m.phaseDuration,
		m.runs,
		m.activeRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// GenerationAttempt counts one request to the generation service.
// result is one of success, transient, rejected.
func (m *Metrics) GenerationAttempt(result string) {
	if m == nil {
		return
	}
	m.generationAttempts.WithLabelValues(result).Inc()
}

// AssetOutcome counts a final resolution status.
func (m *Metrics) AssetOutcome(status string) {
	if m == nil {
		return
	}
	m.assetOutcomes.WithLabelValues(status).Inc()
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RunStarted increments the active run gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.activeRuns.Inc()
}

// RunFinished decrements the active run gauge and counts the final status.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runs.WithLabelValues(status).Inc()
}
