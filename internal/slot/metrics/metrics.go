package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the slot registry.
// Tracks assignments, lost assignment races, releases and occupancy.
type Metrics struct {
	Assignments       prometheus.Counter
	Conflicts         prometheus.Counter
	Releases          *prometheus.CounterVec
	Occupied          prometheus.Gauge
	OccupancyDuration prometheus.Histogram
	StateChanges      *prometheus.CounterVec
}

// New registers the slot metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Assignments: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_slot_assignments_total",
			Help: "Total number of successful slot assignments",
		}),
		Conflicts: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_slot_conflicts_total",
			Help: "Total number of slot assignments that lost a race or found the slot taken",
		}),
		Releases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_slot_releases_total",
			Help: "Total number of slot releases by kind (normal, emergency, noop)",
		}, []string{"kind"}),
		Occupied: f.NewGauge(prometheus.GaugeOpts{
			Name: "mortuary_slots_occupied",
			Help: "Slots occupied, adjusted on every committed assign and release",
		}),
		OccupancyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mortuary_slot_occupancy_hours",
			Help:    "Hours a case occupied a slot, observed at release",
			Buckets: []float64{1, 6, 12, 24, 48, 72, 168, 336},
		}),
		StateChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_slot_state_changes_total",
			Help: "Maintenance and service state changes by target state",
		}, []string{"state"}),
	}
}

func (m *Metrics) IncrementAssigned() {
	m.Assignments.Inc()
	m.Occupied.Inc()
}

func (m *Metrics) IncrementConflict() {
	m.Conflicts.Inc()
}

// ObserveRelease records a committed release. Pass the time the case spent in
// the slot; a no-op release is counted but not observed.
func (m *Metrics) ObserveRelease(kind string, occupancy time.Duration) {
	m.Releases.WithLabelValues(kind).Inc()
	if kind == "noop" {
		return
	}
	m.Occupied.Dec()
	m.OccupancyDuration.Observe(occupancy.Hours())
}

// SetOccupied resets the gauge from a full count, e.g. at startup.
func (m *Metrics) SetOccupied(n int) {
	m.Occupied.Set(float64(n))
}

func (m *Metrics) IncrementStateChange(state string) {
	m.StateChanges.WithLabelValues(state).Inc()
}
