package pipeline

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PopoGonry/iot-data-bridge/catalog"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
)

// ResolverDeps holds dependencies for the resolution stage.
type ResolverDeps struct {
	Catalog   *catalog.DeviceCatalog
	Logger    *slog.Logger
	Registrar metric.MetricsRegistrar
}

// Resolver joins a mapped event with its target device list. An object
// with no interested devices is a terminal no-targets outcome.
type Resolver struct {
	catalog *catalog.DeviceCatalog
	logger  *slog.Logger

	resolved  atomic.Int64
	noTargets atomic.Int64

	resolvedMetric  prometheus.Counter
	noTargetsMetric prometheus.Counter
}

// NewResolver creates the resolution stage and registers its counters.
func NewResolver(deps ResolverDeps) (*Resolver, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "resolver")
	}

	r := &Resolver{
		catalog:         deps.Catalog,
		logger:          logger,
		resolvedMetric:  stageCounter("resolver", "resolved_total", "Events joined with at least one target device"),
		noTargetsMetric: stageCounter("resolver", "no_targets_total", "Events whose object has no subscribed devices"),
	}

	err := registerStageCounters(deps.Registrar, "resolver", map[string]prometheus.Counter{
		"resolved_total":   r.resolvedMetric,
		"no_targets_total": r.noTargetsMetric,
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve returns the event joined with its targets in catalog order.
// Returns ErrNoTargets when no device subscribes to the object.
func (r *Resolver) Resolve(ev message.MappedEvent) (message.ResolvedEvent, error) {
	targets := r.catalog.Lookup(ev.Object)
	if len(targets) == 0 {
		r.noTargets.Add(1)
		r.noTargetsMetric.Inc()
		return message.ResolvedEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrNoTargets, ev.Object),
			"Resolver", "Resolve", "target lookup")
	}

	r.resolved.Add(1)
	r.resolvedMetric.Inc()
	r.logger.Debug("event resolved",
		"trace_id", ev.TraceID,
		"object", ev.Object,
		"target_count", len(targets))

	return message.ResolvedEvent{
		TraceID: ev.TraceID,
		Object:  ev.Object,
		Value:   ev.Value,
		Targets: targets,
	}, nil
}

// Counts returns resolved and no-targets totals.
func (r *Resolver) Counts() (resolved, noTargets int64) {
	return r.resolved.Load(), r.noTargets.Load()
}
