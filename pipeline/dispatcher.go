package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
	"github.com/PopoGonry/iot-data-bridge/transport"
)

// DispatcherDeps holds dependencies for the dispatch stage.
type DispatcherDeps struct {
	Registry    *transport.Registry
	Logger      *slog.Logger
	SendTimeout time.Duration // per-device send deadline
	Registrar   metric.MetricsRegistrar
}

// DefaultSendTimeout bounds one device send when no timeout is configured.
const DefaultSendTimeout = 5 * time.Second

// Dispatcher fans a resolved event out to every target device. Sends run
// concurrently, each bounded by its own deadline, and every target gets
// exactly one outcome whatever its siblings do. There is no retry; a
// failed send is a recorded outcome, not a recoverable condition.
type Dispatcher struct {
	registry    *transport.Registry
	logger      *slog.Logger
	sendTimeout time.Duration

	sent   atomic.Int64
	failed atomic.Int64

	sentMetric   prometheus.Counter
	failedMetric prometheus.Counter
}

// NewDispatcher creates the dispatch stage and registers its counters.
func NewDispatcher(deps DispatcherDeps) (*Dispatcher, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatcher")
	}
	timeout := deps.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	d := &Dispatcher{
		registry:     deps.Registry,
		logger:       logger,
		sendTimeout:  timeout,
		sentMetric:   stageCounter("dispatcher", "sent_total", "Per-device sends accepted by a transport"),
		failedMetric: stageCounter("dispatcher", "failed_total", "Per-device sends that failed or timed out"),
	}

	err := registerStageCounters(deps.Registrar, "dispatcher", map[string]prometheus.Counter{
		"sent_total":   d.sentMetric,
		"failed_total": d.failedMetric,
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Dispatch sends the event to all targets and returns one outcome per
// target, in target order. It never returns early: slow or failing sends
// only affect their own slot in the result.
func (d *Dispatcher) Dispatch(ctx context.Context, ev message.ResolvedEvent) []message.DispatchOutcome {
	outcomes := make([]message.DispatchOutcome, len(ev.Targets))

	payload, err := message.NewDevicePayload(ev.Object, ev.Value, time.Now()).Encode()
	if err != nil {
		// Unencodable value fails every target identically.
		now := time.Now()
		for i, target := range ev.Targets {
			outcomes[i] = d.failedOutcome(ev, target, err.Error(), now)
		}
		return outcomes
	}

	var wg sync.WaitGroup
	for i, target := range ev.Targets {
		wg.Add(1)
		go func(slot int, target message.DeviceTarget) {
			defer wg.Done()
			outcomes[slot] = d.sendOne(ctx, ev, target, payload)
		}(i, target)
	}
	wg.Wait()

	return outcomes
}

// sendOne delivers the payload to a single target and builds its outcome.
func (d *Dispatcher) sendOne(ctx context.Context, ev message.ResolvedEvent, target message.DeviceTarget, payload []byte) message.DispatchOutcome {
	sender, err := d.registry.For(target.Transport)
	if err != nil {
		return d.failedOutcome(ev, target, err.Error(), time.Now())
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := sender.Send(sendCtx, transport.ChannelFor(target), payload); err != nil {
		d.logger.Warn("device send failed",
			"trace_id", ev.TraceID,
			"device_id", target.DeviceID,
			"object", ev.Object,
			"error", err)
		return d.failedOutcome(ev, target, err.Error(), time.Now())
	}

	d.sent.Add(1)
	d.sentMetric.Inc()
	return message.DispatchOutcome{
		TraceID:     ev.TraceID,
		DeviceID:    target.DeviceID,
		Object:      ev.Object,
		Value:       ev.Value,
		Status:      message.StatusSent,
		CompletedAt: time.Now(),
	}
}

func (d *Dispatcher) failedOutcome(ev message.ResolvedEvent, target message.DeviceTarget, detail string, at time.Time) message.DispatchOutcome {
	d.failed.Add(1)
	d.failedMetric.Inc()
	return message.DispatchOutcome{
		TraceID:     ev.TraceID,
		DeviceID:    target.DeviceID,
		Object:      ev.Object,
		Value:       ev.Value,
		Status:      message.StatusFailed,
		ErrorDetail: detail,
		CompletedAt: at,
	}
}

// Counts returns sent and failed send totals.
func (d *Dispatcher) Counts() (sent, failed int64) {
	return d.sent.Load(), d.failed.Load()
}
