// Package metrics exposes Prometheus instrumentation for the coaching service.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics holds the coach_* collectors.
type Metrics struct {
	TurnsTotal          *prometheus.CounterVec
	TurnDuration        *prometheus.HistogramVec
	GenerationErrors    *prometheus.CounterVec
	ExtractionsTotal    *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	ProgramsCompleted   prometheus.Counter
	PersistenceFailures *prometheus.CounterVec
	CachedSessions      prometheus.Gauge
	SessionsEvicted     prometheus.Counter
	ActiveConnections   prometheus.Gauge
	RateLimited         prometheus.Counter
}

// New returns the process-wide metrics, registering them on first use.
//
// Metrics:
//   - coach_turns_total{phase,outcome}
//   - coach_turn_duration_seconds{phase}
//   - coach_generation_errors_total{kind}
//   - coach_extractions_total{kind,outcome}
//   - coach_transitions_total{signal}
//   - coach_programs_completed_total
//   - coach_persistence_failures_total{op}
//   - coach_cached_sessions
//   - coach_sessions_evicted_total
//   - coach_ws_connections
//   - coach_rate_limited_total
func New() *Metrics {
	once.Do(func() {
		global = &Metrics{
			TurnsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_turns_total",
					Help: "Total number of user turns processed",
				},
				[]string{"phase", "outcome"}, // "ok", "generation_error", "timeout", "rejected"
			),
			TurnDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "coach_turn_duration_seconds",
					Help:    "End-to-end turn latency including generation",
					Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
				},
				[]string{"phase"},
			),
			GenerationErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_generation_errors_total",
					Help: "Generator failures by collaborator",
				},
				[]string{"kind"}, // "text" or "structured"
			),
			ExtractionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_extractions_total",
					Help: "Structured record extractions by record kind and outcome",
				},
				[]string{"kind", "outcome"}, // "ok", "generation_error", "schema_error"
			),
			TransitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_transitions_total",
					Help: "Phase transitions by triggering signal",
				},
				[]string{"signal"},
			),
			ProgramsCompleted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "coach_programs_completed_total",
					Help: "Programs finalized into a plan document",
				},
			),
			PersistenceFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "coach_persistence_failures_total",
					Help: "Failed writes to the record store or document sink",
				},
				[]string{"op"},
			),
			CachedSessions: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "coach_cached_sessions",
					Help: "Sessions currently held in the in-process cache",
				},
			),
			SessionsEvicted: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "coach_sessions_evicted_total",
					Help: "Sessions evicted from the cache by the idle sweeper",
				},
			),
			ActiveConnections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "coach_ws_connections",
					Help: "Open coaching WebSocket connections",
				},
			),
			RateLimited: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "coach_rate_limited_total",
					Help: "Chat requests rejected by the per-user rate limiter",
				},
			),
		}
	})
	return global
}

// ObserveTurn records the outcome and latency of a turn.
func (m *Metrics) ObserveTurn(phase, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(phase, outcome).Inc()
	m.TurnDuration.WithLabelValues(phase).Observe(time.Since(started).Seconds())
}
