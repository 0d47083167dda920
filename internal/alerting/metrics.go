package alerting

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Scans        *prometheus.CounterVec
	ScanErrors   *prometheus.CounterVec
	Raised       *prometheus.CounterVec
	Suppressed   *prometheus.CounterVec
	ScanDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Scans: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_alert_scans_total",
			Help: "Alert scans run, by kind",
		}, []string{"kind"}),
		ScanErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_alert_scan_errors_total",
			Help: "Alert scans that failed to read state, by kind",
		}, []string{"kind"}),
		Raised: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_alerts_raised_total",
			Help: "Alerts published, by kind",
		}, []string{"kind"}),
		Suppressed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "mortuary_alerts_suppressed_total",
			Help: "Alerts already raised within the dedupe window, by kind",
		}, []string{"kind"}),
		ScanDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "mortuary_alert_scan_duration_seconds",
			Help:    "Duration of a full alert pass",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveScan(kind Kind, err error) {
	m.Scans.WithLabelValues(string(kind)).Inc()
	if err != nil {
		m.ScanErrors.WithLabelValues(string(kind)).Inc()
	}
}

func (m *Metrics) IncRaised(kind Kind)     { m.Raised.WithLabelValues(string(kind)).Inc() }
func (m *Metrics) IncSuppressed(kind Kind) { m.Suppressed.WithLabelValues(string(kind)).Inc() }

func (m *Metrics) ObservePass(start time.Time) {
	m.ScanDuration.Observe(time.Since(start).Seconds())
}
