package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCounter(name string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "iotbridge",
		Subsystem: "testsvc",
		Name:      name,
	})
}

func TestMetricsRegistry_RegisterCounter(t *testing.T) {
	r := NewMetricsRegistry()

	require.NoError(t, r.RegisterCounter("testsvc", "things_total", testCounter("things_total")))

	err := r.RegisterCounter("testsvc", "things_total", testCounter("things_total"))
	require.Error(t, err, "same service/metric key must be rejected")
}

func TestMetricsRegistry_PrometheusConflict(t *testing.T) {
	r := NewMetricsRegistry()

	require.NoError(t, r.RegisterCounter("svc-a", "shared_total", testCounter("shared_total")))

	// Different registry key, identical Prometheus identity.
	err := r.RegisterCounter("svc-b", "shared_total", testCounter("shared_total"))
	require.Error(t, err)
}

func TestMetricsRegistry_Unregister(t *testing.T) {
	r := NewMetricsRegistry()

	require.NoError(t, r.RegisterCounter("testsvc", "gone_total", testCounter("gone_total")))
	assert.True(t, r.Unregister("testsvc", "gone_total"))
	assert.False(t, r.Unregister("testsvc", "gone_total"), "second unregister finds nothing")

	// The identity is free again after unregistering.
	require.NoError(t, r.RegisterCounter("testsvc", "gone_total", testCounter("gone_total")))
}

func TestMetricsRegistry_RegisterGaugeAndHistogram(t *testing.T) {
	r := NewMetricsRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "iotbridge", Subsystem: "testsvc", Name: "level",
	})
	require.NoError(t, r.RegisterGauge("testsvc", "level", gauge))

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "iotbridge", Subsystem: "testsvc", Name: "latency_seconds",
	})
	require.NoError(t, r.RegisterHistogram("testsvc", "latency_seconds", hist))

	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "iotbridge", Subsystem: "testsvc", Name: "results_total",
	}, []string{"status"})
	require.NoError(t, r.RegisterCounterVec("testsvc", "results_total", vec))
}

func TestMetricsRegistry_CoreMetricsGather(t *testing.T) {
	r := NewMetricsRegistry()

	m := r.CoreMetrics()
	require.NotNil(t, m)
	m.EventsIngested.Inc()
	m.EventsDropped.WithLabelValues("unmapped_tag").Inc()
	m.DispatchOutcomes.WithLabelValues("sent").Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["iotbridge_pipeline_events_ingested_total"])
	assert.True(t, names["iotbridge_pipeline_events_dropped_total"])
	assert.True(t, names["iotbridge_dispatch_outcomes_total"])
}
