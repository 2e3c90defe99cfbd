// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantfall/riskbrain/internal/domain"
)

// Registry holds all engine metrics on a private Prometheus registry.
type Registry struct {
	registry *prometheus.Registry

	Decisions      *prometheus.CounterVec
	Vetoes         *prometheus.CounterVec
	BreakerState   prometheus.Gauge
	BreakerTrips   prometheus.Counter
	DefconLevel    prometheus.Gauge
	PublishLatency prometheus.Histogram
	DeadLetters    prometheus.Counter
	Heartbeats     prometheus.Counter
}

// NewRegistry creates and registers all engine metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		Decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbrain_decisions_total",
				Help: "Signal decisions by terminating gate",
			},
			[]string{"gate"},
		),

		Vetoes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "riskbrain_vetoes_total",
				Help: "Risk vetoes by stable reason prefix",
			},
			[]string{"reason"},
		),

		BreakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskbrain_breaker_state",
				Help: "Circuit breaker state (0=inactive, 1=soft, 2=hard)",
			},
		),

		BreakerTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskbrain_breaker_trips_total",
				Help: "Total circuit breaker trips",
			},
		),

		DefconLevel: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "riskbrain_defcon_level",
				Help: "Governance posture (0=normal, 1=caution, 2=defensive, 3=emergency)",
			},
		),

		PublishLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "riskbrain_publish_latency_seconds",
				Help:    "Execution-link publish latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
		),

		DeadLetters: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskbrain_dead_letters_total",
				Help: "Intents routed to the dead-letter queue",
			},
		),

		Heartbeats: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "riskbrain_heartbeats_total",
				Help: "Risk-state heartbeats published",
			},
		),
	}

	r.registry.MustRegister(
		r.Decisions,
		r.Vetoes,
		r.BreakerState,
		r.BreakerTrips,
		r.DefconLevel,
		r.PublishLatency,
		r.DeadLetters,
		r.Heartbeats,
	)
	return r
}

// Handler serves the registry in Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry for tests.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// RecordDecision counts a terminated signal by gate, and by reason
// prefix when the gate vetoed.
func (r *Registry) RecordDecision(gate, reason string, approved bool) {
	r.Decisions.WithLabelValues(gate).Inc()
	if !approved {
		r.Vetoes.WithLabelValues(reasonPrefix(reason)).Inc()
	}
}

// SetBreaker mirrors circuit-breaker state into the gauge.
func (r *Registry) SetBreaker(active bool, hard bool) {
	switch {
	case !active:
		r.BreakerState.Set(0)
	case hard:
		r.BreakerState.Set(2)
	default:
		r.BreakerState.Set(1)
	}
}

// SetDefcon mirrors the governance posture into the gauge.
func (r *Registry) SetDefcon(level domain.DefconLevel) {
	r.DefconLevel.Set(float64(level))
}

// ObservePublish records one execution-link publish duration.
func (r *Registry) ObservePublish(d time.Duration) {
	r.PublishLatency.Observe(d.Seconds())
}

// reasonPrefix keeps veto labels bounded: everything before the first
// colon, which is the stable gate reason code.
func reasonPrefix(reason string) string {
	if i := strings.IndexByte(reason, ':'); i > 0 {
		return reason[:i]
	}
	return reason
}
