// Package telemetry exports Prometheus metrics for the collector, event
// router, dashboard and AI router. All Record methods are safe on a nil
// *Metrics so components can run without instrumentation.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pulse"

// Metrics holds all pulse Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// Collector
	CollectorCycles *prometheus.CounterVec
	FamilyDuration  *prometheus.HistogramVec
	MetricsWritten  *prometheus.CounterVec

	// Event router
	EventsRouted *prometheus.CounterVec

	// Dashboard
	DashboardCache *prometheus.CounterVec
	DashboardBuild prometheus.Histogram

	// AI router
	AICalls      *prometheus.CounterVec
	AICostUSD    *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec

	// Alerts
	AlertsRaised *prometheus.CounterVec
}

// New registers every metric on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CollectorCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_cycles_total",
			Help:      "Collection cycles by tier and outcome (ok, partial, failed, skipped)",
		}, []string{"tier", "outcome"}),
		FamilyDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collector_family_duration_seconds",
			Help:      "Time spent collecting one metric family",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"family"}),
		MetricsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collector_metrics_written_total",
			Help:      "Business metrics appended per family",
		}, []string{"family"}),
		EventsRouted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_routed_total",
			Help:      "System events routed by type and outcome",
		}, []string{"event_type", "outcome"}),
		DashboardCache: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dashboard_cache_total",
			Help:      "Dashboard cache lookups by result (hit, miss)",
		}, []string{"result"}),
		DashboardBuild: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dashboard_build_seconds",
			Help:      "Time to assemble an uncached dashboard",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}),
		AICalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_calls_total",
			Help:      "AI provider calls by provider and outcome",
		}, []string{"provider", "outcome"}),
		AICostUSD: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ai_cost_usd_total",
			Help:      "Estimated AI spend in USD",
		}, []string{"provider"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per service (0 closed, 1 open, 2 half-open)",
		}, []string{"service"}),
		AlertsRaised: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts persisted by severity",
		}, []string{"severity"}),
	}
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordCycle records one collection cycle for tier.
func (m *Metrics) RecordCycle(tier, outcome string) {
	if m == nil {
		return
	}
	m.CollectorCycles.WithLabelValues(tier, outcome).Inc()
}

// RecordFamily records the duration and output size of one family run.
func (m *Metrics) RecordFamily(family string, d time.Duration, written int) {
	if m == nil {
		return
	}
	m.FamilyDuration.WithLabelValues(family).Observe(d.Seconds())
	m.MetricsWritten.WithLabelValues(family).Add(float64(written))
}

// RecordEvent records one routed event.
func (m *Metrics) RecordEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsRouted.WithLabelValues(eventType, outcome).Inc()
}

// RecordDashboardCache records a dashboard cache hit or miss.
func (m *Metrics) RecordDashboardCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.DashboardCache.WithLabelValues(result).Inc()
}

// RecordDashboardBuild records how long an uncached build took.
func (m *Metrics) RecordDashboardBuild(d time.Duration) {
	if m == nil {
		return
	}
	m.DashboardBuild.Observe(d.Seconds())
}

// RecordAICall records one provider attempt and its estimated cost.
func (m *Metrics) RecordAICall(provider, outcome string, costUSD float64) {
	if m == nil {
		return
	}
	m.AICalls.WithLabelValues(provider, outcome).Inc()
	if costUSD > 0 {
		m.AICostUSD.WithLabelValues(provider).Add(costUSD)
	}
}

// SetBreakerState records a breaker transition. state follows the
// resilience.BreakerState ordinal.
func (m *Metrics) SetBreakerState(service string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(service).Set(float64(state))
}

// RecordAlert records one persisted alert.
func (m *Metrics) RecordAlert(severity string) {
	if m == nil {
		return
	}
	m.AlertsRaised.WithLabelValues(severity).Inc()
}
