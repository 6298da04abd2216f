package web

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/JonMunkholm/healthexport/internal/core"
)

// Metrics holds the Prometheus metrics for the conversion server.
type Metrics struct {
	ConversionsTotal   *prometheus.CounterVec
	ConversionDuration prometheus.Histogram
	RowsWritten        prometheus.Counter
	RecordsSkipped     prometheus.Counter
	InFlight           prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConversionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "health_export_conversions_total",
			Help: "Total number of archive conversions by outcome code",
		}, []string{"code"}),
		ConversionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "health_export_conversion_duration_seconds",
			Help:    "Time spent converting one archive",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		RowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "health_export_rows_written_total",
			Help: "Total number of CSV data rows produced",
		}),
		RecordsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "health_export_records_skipped_total",
			Help: "Total number of records left out of the output",
		}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "health_export_conversions_in_flight",
			Help: "Number of conversions currently running",
		}),
	}
}

// ObserveConversion records the outcome of one conversion. res may be nil
// when the conversion never started.
func (m *Metrics) ObserveConversion(res *core.Result, err error) {
	code := "OK"
	if err != nil {
		code = core.MapError(err).Code
	}
	m.ConversionsTotal.WithLabelValues(code).Inc()

	if res == nil {
		return
	}
	m.ConversionDuration.Observe(res.Duration.Seconds())
	m.RowsWritten.Add(float64(res.Rows))
	m.RecordsSkipped.Add(float64(res.Skipped()))
}

// TrackInFlight increments the in-flight gauge and returns its undo.
func (m *Metrics) TrackInFlight() func() {
	m.InFlight.Inc()
	return m.InFlight.Dec
}
