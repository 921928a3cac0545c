package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core bridge metrics shared across components.
// Stage-specific metrics live with their stage; these cover the event
// lifecycle as a whole.
type Metrics struct {
	// Pipeline metrics
	EventsIngested     prometheus.Counter
	EventsMapped       prometheus.Counter
	EventsDropped      *prometheus.CounterVec   // labeled by drop reason
	DispatchOutcomes   *prometheus.CounterVec   // labeled by status
	DispatchDuration   prometheus.Histogram     // full fan-out duration
	ProcessingDuration *prometheus.HistogramVec // per pipeline stage

	// Transport metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
	HubConnected   prometheus.Gauge

	// Event log metrics
	LogRecordsWritten prometheus.Counter
	LogWriteFailures  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core bridge metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EventsIngested: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "pipeline",
				Name:      "events_ingested_total",
				Help:      "Total ingress events entering the pipeline",
			},
		),

		EventsMapped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "pipeline",
				Name:      "events_mapped_total",
				Help:      "Total events successfully mapped to an object",
			},
		),

		EventsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "pipeline",
				Name:      "events_dropped_total",
				Help:      "Total events dropped before dispatch",
			},
			[]string{"reason"}, // unmapped_tag, value_cast, no_targets, parse_error
		),

		DispatchOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "dispatch",
				Name:      "outcomes_total",
				Help:      "Per-device dispatch outcomes",
			},
			[]string{"status"}, // sent, failed
		),

		DispatchDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "iotbridge",
				Subsystem: "dispatch",
				Name:      "fanout_duration_seconds",
				Help:      "Duration of the full per-event dispatch fan-out",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),

		ProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "iotbridge",
				Subsystem: "pipeline",
				Name:      "stage_duration_seconds",
				Help:      "Per-stage processing duration",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "iotbridge",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total NATS reconnections",
			},
		),

		HubConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "iotbridge",
				Subsystem: "hub",
				Name:      "connected",
				Help:      "Hub relay connection status (0=disconnected, 1=connected)",
			},
		),

		LogRecordsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "eventlog",
				Name:      "records_written_total",
				Help:      "Total records appended to the event log",
			},
		),

		LogWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "iotbridge",
				Subsystem: "eventlog",
				Name:      "write_failures_total",
				Help:      "Total event log write failures",
			},
		),
	}
}
