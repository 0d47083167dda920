package notify

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for outbound notifications.
type Metrics struct {
	Delivered           *prometheus.CounterVec
	Dropped             *prometheus.CounterVec
	Failed              prometheus.Counter
	Queued              prometheus.Gauge
	CircuitBreakerState prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Delivered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_notifications_delivered_total",
			Help: "Notifications accepted by the sink, by event type",
		}, []string{"type"}),
		Dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_notifications_dropped_total",
			Help: "Notifications dropped before delivery, by reason",
		}, []string{"reason"}),
		Failed: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_notifications_failed_total",
			Help: "Notifications the sink rejected",
		}),
		Queued: f.NewGauge(prometheus.GaugeOpts{
			Name: "mortuary_notifications_queued",
			Help: "Notifications waiting in the dispatcher buffer",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "mortuary_notifications_circuit_breaker_state",
			Help: "Sink circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncDelivered(t EventType) {
	m.Delivered.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) IncDropped(reason string) {
	m.Dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncFailed() {
	m.Failed.Inc()
}

func (m *Metrics) SetCircuitBreakerState(open bool) {
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
