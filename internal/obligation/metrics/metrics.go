package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the obligation lifecycle.
type Metrics struct {
	// Status transitions by origin, destination and trigger (manual/sweep/synthesis)
	Transitions *prometheus.CounterVec

	// Action plans opened by the adverse-status side effect
	PlansOpened prometheus.Counter

	// Deadline sweep executions and the transitions they caused
	SweepRuns        prometheus.Counter
	SweepTransitions *prometheus.CounterVec
}

// New creates a Metrics instance with all obligation metrics registered.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conformo_obligation_transitions_total",
			Help: "Total obligation status transitions by origin, destination and trigger",
		}, []string{"from", "to", "trigger"}),

		PlansOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conformo_action_plans_opened_total",
			Help: "Total action plans opened on adverse high-risk transitions",
		}),

		SweepRuns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "conformo_deadline_sweep_runs_total",
			Help: "Total deadline sweep executions",
		}),

		SweepTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "conformo_deadline_sweep_transitions_total",
			Help: "Total automatic transitions applied by the deadline sweep",
		}, []string{"to"}),
	}
}

// IncrementTransition records one status transition.
func (m *Metrics) IncrementTransition(from, to, trigger string) {
	if m != nil {
		m.Transitions.WithLabelValues(from, to, trigger).Inc()
	}
}

// IncrementPlansOpened records one action plan creation.
func (m *Metrics) IncrementPlansOpened() {
	if m != nil {
		m.PlansOpened.Inc()
	}
}

// IncrementSweepRun records one sweep execution.
func (m *Metrics) IncrementSweepRun() {
	if m != nil {
		m.SweepRuns.Inc()
	}
}

// IncrementSweepTransition records one automatic sweep transition.
func (m *Metrics) IncrementSweepTransition(to string) {
	if m != nil {
		m.SweepTransitions.WithLabelValues(to).Inc()
	}
}
