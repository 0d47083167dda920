package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for retrieval finalization.
type Metrics struct {
	Finalized          *prometheus.CounterVec
	FinalizeDuration   prometheus.Histogram
	Permanence         prometheus.Histogram
	PermanenceExceeded prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Finalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_retrieval_finalize_total",
			Help: "Finalize attempts by outcome (released or error code)",
		}, []string{"outcome"}),
		FinalizeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mortuary_retrieval_finalize_duration_seconds",
			Help:    "Duration of Finalize operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		Permanence: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mortuary_case_permanence_hours",
			Help:    "Hours from intake to release",
			Buckets: []float64{6, 12, 24, 36, 48, 72, 96, 168, 336},
		}),
		PermanenceExceeded: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_case_permanence_exceeded_total",
			Help: "Released cases whose permanence exceeded the configured limit",
		}),
	}
}

// ObserveFinalize records the duration and outcome of a Finalize call.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveFinalize(start time.Time, outcome string) {
	m.FinalizeDuration.Observe(time.Since(start).Seconds())
	m.Finalized.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePermanence(d time.Duration, exceeded bool) {
	m.Permanence.Observe(d.Hours())
	if exceeded {
		m.PermanenceExceeded.Inc()
	}
}
