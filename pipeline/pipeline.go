package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/eventlog"
	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
)

// Recorder is the slice of the event log the pipeline writes to.
type Recorder interface {
	AppendOutcome(o message.DispatchOutcome) error
	AppendSummary(traceID, object string, sendDevices []string) error
	AppendDrop(rec eventlog.DropRecord) error
}

// Deps holds the stages and sinks of one pipeline instance.
type Deps struct {
	Mapper     *Mapper
	Resolver   *Resolver
	Dispatcher *Dispatcher
	Recorder   Recorder
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// Pipeline carries one ingress event through mapping, resolution and
// dispatch, then records every outcome. Events are independent; a drop
// or failed fan-out never touches its neighbors.
type Pipeline struct {
	mapper     *Mapper
	resolver   *Resolver
	dispatcher *Dispatcher
	recorder   Recorder
	logger     *slog.Logger
	metrics    *metric.Metrics

	accepting atomic.Bool
	inflight  sync.WaitGroup
}

// New creates a pipeline from its stages.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "pipeline")
	}
	p := &Pipeline{
		mapper:     deps.Mapper,
		resolver:   deps.Resolver,
		dispatcher: deps.Dispatcher,
		recorder:   deps.Recorder,
		logger:     logger,
		metrics:    deps.Metrics,
	}
	p.accepting.Store(true)
	return p
}

// Submit processes the event on its own goroutine so a slow fan-out
// never delays the next ingress message. Returns ErrShuttingDown once
// Drain has started.
//
// Processing is detached from the caller's context: the subscribe
// context is cancelled the moment shutdown begins, and an accepted
// event must drain through its fan-out during the grace period rather
// than have every send fail on a dead context. Per-send deadlines in
// the dispatch stage still bound each delivery.
func (p *Pipeline) Submit(ctx context.Context, ev message.IngressEvent) error {
	if !p.accepting.Load() {
		return errors.WrapTransient(errors.ErrShuttingDown, "Pipeline", "Submit", "accept check")
	}

	procCtx := context.WithoutCancel(ctx)
	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.Process(procCtx, ev)
	}()
	return nil
}

// Process runs one event through every stage synchronously. All exits
// leave a record: a drop record before dispatch, per-device outcomes and
// a summary after it.
func (p *Pipeline) Process(ctx context.Context, ev message.IngressEvent) {
	if p.metrics != nil {
		p.metrics.EventsIngested.Inc()
	}

	mapStart := time.Now()
	mapped, err := p.mapper.Map(ev)
	p.observeStage("map", mapStart)
	if err != nil {
		p.recordDrop(eventlog.DropRecord{
			TraceID:      ev.TraceID,
			Reason:       dropReason(err),
			EquipmentTag: ev.EquipmentTag,
			MessageID:    ev.MessageID,
			Detail:       err.Error(),
		})
		return
	}
	if p.metrics != nil {
		p.metrics.EventsMapped.Inc()
	}

	resolveStart := time.Now()
	resolved, err := p.resolver.Resolve(mapped)
	p.observeStage("resolve", resolveStart)
	if err != nil {
		p.recordDrop(eventlog.DropRecord{
			TraceID: ev.TraceID,
			Reason:  dropReason(err),
			Object:  mapped.Object,
			Detail:  err.Error(),
		})
		return
	}

	dispatchStart := time.Now()
	outcomes := p.dispatcher.Dispatch(ctx, resolved)
	p.observeStage("dispatch", dispatchStart)
	if p.metrics != nil {
		p.metrics.DispatchDuration.Observe(time.Since(dispatchStart).Seconds())
	}

	sentDevices := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if p.metrics != nil {
			p.metrics.DispatchOutcomes.WithLabelValues(string(o.Status)).Inc()
		}
		if err := p.recorder.AppendOutcome(o); err != nil {
			p.logger.Error("outcome record failed",
				"trace_id", o.TraceID, "device_id", o.DeviceID, "error", err)
		}
		if o.Status == message.StatusSent {
			sentDevices = append(sentDevices, o.DeviceID)
		}
	}

	if err := p.recorder.AppendSummary(resolved.TraceID, resolved.Object, sentDevices); err != nil {
		p.logger.Error("summary record failed", "trace_id", resolved.TraceID, "error", err)
	}

	p.logger.Info("event dispatched",
		"trace_id", resolved.TraceID,
		"object", resolved.Object,
		"targets", len(outcomes),
		"sent", len(sentDevices))
}

// Drain stops accepting events and waits for in-flight fan-outs.
func (p *Pipeline) Drain(timeout time.Duration) error {
	p.accepting.Store(false)

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "Pipeline", "Drain", "in-flight wait")
	}
}

func (p *Pipeline) recordDrop(rec eventlog.DropRecord) {
	if p.metrics != nil {
		p.metrics.EventsDropped.WithLabelValues(rec.Reason).Inc()
	}

	// A cast failure means a catalog rule and the gateway disagree about
	// a value's type; that is an operator problem, not routine traffic.
	if rec.Reason == "value_cast" {
		p.logger.Error("event dropped",
			"trace_id", rec.TraceID, "reason", rec.Reason, "detail", rec.Detail)
	} else {
		p.logger.Warn("event dropped",
			"trace_id", rec.TraceID, "reason", rec.Reason, "detail", rec.Detail)
	}

	if err := p.recorder.AppendDrop(rec); err != nil {
		p.logger.Error("drop record failed", "trace_id", rec.TraceID, "error", err)
	}
}

// observeStage records one stage's duration when metrics are wired.
func (p *Pipeline) observeStage(stage string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ProcessingDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

// dropReason names a terminal per-event outcome for metrics and records.
func dropReason(err error) string {
	if !errors.IsDrop(err) {
		return "error"
	}
	switch {
	case errors.Is(err, errors.ErrUnmappedTag):
		return "unmapped_tag"
	case errors.Is(err, errors.ErrValueCast):
		return "value_cast"
	default:
		return "no_targets"
	}
}
