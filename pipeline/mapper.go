// Package pipeline chains the processing stages that carry one ingress
// event from normalized reading to per-device delivery outcomes: mapping,
// device resolution, and transport dispatch. Stages share nothing but the
// event moving between them; each event is processed independently.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PopoGonry/iot-data-bridge/catalog"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
)

// MapperDeps holds dependencies for the mapping stage.
type MapperDeps struct {
	Catalog   *catalog.MappingCatalog
	Logger    *slog.Logger
	Registrar metric.MetricsRegistrar
}

// Mapper translates (equipment tag, message id) pairs into canonical
// objects and casts the raw value to the rule's declared type. Lookup
// misses and cast failures are terminal per-event outcomes, not faults.
type Mapper struct {
	catalog *catalog.MappingCatalog
	logger  *slog.Logger

	mapped   atomic.Int64
	unmapped atomic.Int64
	castErrs atomic.Int64

	mappedMetric   prometheus.Counter
	unmappedMetric prometheus.Counter
	castErrMetric  prometheus.Counter
}

// NewMapper creates the mapping stage and registers its counters.
func NewMapper(deps MapperDeps) (*Mapper, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "mapper")
	}

	m := &Mapper{
		catalog:        deps.Catalog,
		logger:         logger,
		mappedMetric:   stageCounter("mapper", "mapped_total", "Events mapped to a canonical object"),
		unmappedMetric: stageCounter("mapper", "unmapped_total", "Events with no mapping rule"),
		castErrMetric:  stageCounter("mapper", "cast_failures_total", "Events whose value failed the declared-type cast"),
	}

	err := registerStageCounters(deps.Registrar, "mapper", map[string]prometheus.Counter{
		"mapped_total":        m.mappedMetric,
		"unmapped_total":      m.unmappedMetric,
		"cast_failures_total": m.castErrMetric,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// Map resolves the event's tag/message pair and casts its raw value.
// Returns ErrUnmappedTag when no rule exists and ErrValueCast when the
// raw value does not fit the rule's type; the trace id survives either way.
func (m *Mapper) Map(ev message.IngressEvent) (message.MappedEvent, error) {
	rule, ok := m.catalog.Lookup(ev.EquipmentTag, ev.MessageID)
	if !ok {
		m.unmapped.Add(1)
		m.unmappedMetric.Inc()
		return message.MappedEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s/%s", errors.ErrUnmappedTag, ev.EquipmentTag, ev.MessageID),
			"Mapper", "Map", "rule lookup")
	}

	value, err := message.Cast(ev.RawValue, rule.Type)
	if err != nil {
		m.castErrs.Add(1)
		m.castErrMetric.Inc()
		return message.MappedEvent{}, errors.WrapInvalid(
			fmt.Errorf("object %s: %w", rule.Object, err),
			"Mapper", "Map", "value cast")
	}

	m.mapped.Add(1)
	m.mappedMetric.Inc()
	m.logger.Debug("event mapped",
		"trace_id", ev.TraceID,
		"equip_tag", ev.EquipmentTag,
		"message_id", ev.MessageID,
		"object", rule.Object)

	return message.MappedEvent{
		TraceID:  ev.TraceID,
		Object:   rule.Object,
		Value:    value,
		Type:     rule.Type,
		MappedAt: time.Now(),
	}, nil
}

// Counts returns mapped, unmapped and cast-failure totals.
func (m *Mapper) Counts() (mapped, unmapped, castErrs int64) {
	return m.mapped.Load(), m.unmapped.Load(), m.castErrs.Load()
}
