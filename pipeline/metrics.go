package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/PopoGonry/iot-data-bridge/metric"
)

// stageCounter builds one per-stage counter in the bridge namespace.
func stageCounter(stage, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "iotbridge",
		Subsystem: stage,
		Name:      name,
		Help:      help,
	})
}

// registerStageCounters registers a stage's counters with the shared
// registry. A nil registrar leaves the counters unregistered, which is
// fine for stages built standalone in tests.
func registerStageCounters(reg metric.MetricsRegistrar, stage string, counters map[string]prometheus.Counter) error {
	if reg == nil {
		return nil
	}
	for name, c := range counters {
		if err := reg.RegisterCounter(stage, name, c); err != nil {
			return err
		}
	}
	return nil
}
