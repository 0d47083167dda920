// Package metrics holds process-level HTTP metrics. Bounded contexts keep
// their own metrics packages.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	Requests        *prometheus.CounterVec
	Panics          prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mortuary_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route"}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_http_requests_total",
			Help: "HTTP requests by route pattern and status class",
		}, []string{"method", "route", "status"}),
		Panics: f.NewCounter(prometheus.CounterOpts{
			Name: "mortuary_http_panics_total",
			Help: "Handler panics recovered by middleware",
		}),
	}
}

func (m *Metrics) ObserveRequest(method, route string, status int, start time.Time) {
	m.RequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	m.Requests.WithLabelValues(method, route, statusClass(status)).Inc()
}

func (m *Metrics) IncPanic() {
	m.Panics.Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
