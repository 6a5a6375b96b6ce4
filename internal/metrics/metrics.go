// Package metrics holds the Prometheus instruments for the backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for the pipeline.
type Metrics struct {
	// Polling engine
	PollsTotal      prometheus.Counter
	PollErrorsTotal prometheus.Counter
	ReconnectsTotal prometheus.Counter
	BufferLength    prometheus.Gauge

	// Cycle processing
	CyclesTotal      *prometheus.CounterVec
	InferenceLatency prometheus.Histogram

	// Storage
	RecordsTotal      prometheus.Counter
	RecordErrorsTotal prometheus.Counter
	DBSizeMB          prometheus.Gauge

	// Faults
	ActiveFaults prometheus.Gauge
}

// New creates and registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PollsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldpj_polls_total",
			Help: "Total number of successful PLC polls",
		}),

		PollErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldpj_poll_errors_total",
			Help: "Total number of failed PLC polls",
		}),

		ReconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldpj_plc_reconnects_total",
			Help: "Total number of successful PLC reconnects",
		}),

		BufferLength: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ldpj_poll_buffer_length",
			Help: "Current occupancy of the poll frame ring buffer",
		}),

		CyclesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ldpj_cycles_total",
			Help: "Total number of completed test cycles by outcome",
		}, []string{"result"}), // result: ok, leak, unavailable, skipped

		InferenceLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ldpj_inference_latency_seconds",
			Help:    "Latency of feature extraction plus model inference",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		RecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldpj_records_total",
			Help: "Total number of test records persisted",
		}),

		RecordErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ldpj_record_errors_total",
			Help: "Total number of failed record inserts",
		}),

		DBSizeMB: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ldpj_db_size_mb",
			Help: "On-disk size of the record store in megabytes",
		}),

		ActiveFaults: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ldpj_active_faults",
			Help: "Number of currently active fault codes",
		}),
	}
}
