package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the case lifecycle.
// Tracks trigger outcomes and durations, intake and invalidation counts.
type Metrics struct {
	Transitions     *prometheus.CounterVec
	TriggerDuration *prometheus.HistogramVec
	Registered      prometheus.Counter
	Invalidated     prometheus.Counter
	Escalations     prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_case_transitions_total",
			Help: "Lifecycle triggers by trigger and outcome (ok or error code)",
		}, []string{"trigger", "outcome"}),
		TriggerDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mortuary_case_trigger_duration_seconds",
			Help:    "Duration of lifecycle triggers including commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"trigger"}),
		Registered: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_cases_registered_total",
			Help: "Total number of cases registered at intake",
		}),
		Invalidated: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_cases_invalidated_total",
			Help: "Total number of soft-invalidated cases",
		}),
		Escalations: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_case_rejection_escalations_total",
			Help: "Cases whose rejected-entry cycle reached the configured cap",
		}),
	}
}

// ObserveTrigger records the outcome of one trigger.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTrigger(trigger, outcome string, start time.Time) {
	m.Transitions.WithLabelValues(trigger, outcome).Inc()
	m.TriggerDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementRegistered()  { m.Registered.Inc() }
func (m *Metrics) IncrementInvalidated() { m.Invalidated.Inc() }
func (m *Metrics) IncrementEscalated()   { m.Escalations.Inc() }
