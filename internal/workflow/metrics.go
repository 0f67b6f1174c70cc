package workflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the orchestrator.
//
// Metrics:
//   - handoff_phase_runs_total{phase,outcome}
//   - handoff_phase_duration_seconds{phase}
//   - handoff_workflows_total{status} - workflows reaching a stop state
//   - handoff_gate_decisions_total{verdict}
//   - handoff_loop_backs_total
type Metrics struct {
	PhaseRuns     *prometheus.CounterVec
	PhaseDuration *prometheus.HistogramVec
	Workflows     *prometheus.CounterVec
	GateDecisions *prometheus.CounterVec
	LoopBacks     prometheus.Counter
}

// NewMetrics creates the orchestrator metrics and registers them with reg.
// A nil reg creates unregistered metrics, which tests use to avoid duplicate
// registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PhaseRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_phase_runs_total",
				Help: "Total number of phase executions by outcome",
			},
			[]string{"phase", "outcome"},
		),
		PhaseDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "handoff_phase_duration_seconds",
				Help:    "Duration of phase execution in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			},
			[]string{"phase"},
		),
		Workflows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_workflows_total",
				Help: "Workflows that stopped, by status",
			},
			[]string{"status"},
		),
		GateDecisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "handoff_gate_decisions_total",
				Help: "Quality gate decisions by verdict",
			},
			[]string{"verdict"},
		),
		LoopBacks: f.NewCounter(
			prometheus.CounterOpts{
				Name: "handoff_loop_backs_total",
				Help: "Loop-backs to Verify after a fix decision",
			},
		),
	}
}
