// Package ingress subscribes to the gateway subject and feeds decoded
// envelopes into the pipeline. It is the only place the wire format is
// parsed; everything downstream works on normalized events.
package ingress

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/PopoGonry/iot-data-bridge/component"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/metric"
	"github.com/PopoGonry/iot-data-bridge/natsclient"
)

// DefaultSubject is the gateway publish subject when none is configured.
const DefaultSubject = "bridge/ingress"

// Submitter accepts normalized events for processing.
type Submitter interface {
	Submit(ctx context.Context, ev message.IngressEvent) error
}

// Config holds ingress adapter configuration.
type Config struct {
	Subject string // gateway subject to subscribe on
}

// Deps holds runtime dependencies for the ingress adapter.
type Deps struct {
	Config     Config
	NATSClient *natsclient.Client
	Pipeline   Submitter
	Logger     *slog.Logger
	Metrics    *metric.Metrics
}

// Adapter receives gateway envelopes and submits them to the pipeline.
// Malformed envelopes are logged and counted, never forwarded.
type Adapter struct {
	subject  string
	client   *natsclient.Client
	pipeline Submitter
	logger   *slog.Logger
	metrics  *metric.Metrics

	shutdown  chan struct{}
	running   atomic.Bool
	startTime time.Time

	received     atomic.Int64
	bytesIn      atomic.Int64
	parseErrors  atomic.Int64
	submitErrors atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

var _ component.LifecycleComponent = (*Adapter)(nil)

// NewAdapter creates the ingress adapter.
func NewAdapter(deps Deps) *Adapter {
	subject := deps.Config.Subject
	if subject == "" {
		subject = DefaultSubject
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ingress")
	}

	a := &Adapter{
		subject:   subject,
		client:    deps.NATSClient,
		pipeline:  deps.Pipeline,
		logger:    logger,
		metrics:   deps.Metrics,
		startTime: time.Now(),
	}
	a.lastActivity.Store(time.Time{})
	return a
}

// Initialize validates dependencies before start.
func (a *Adapter) Initialize() error {
	if a.client == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ingress", "Initialize", "nats client validation")
	}
	if a.pipeline == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "ingress", "Initialize", "pipeline validation")
	}
	return nil
}

// Start subscribes to the gateway subject. The NATS client must already
// be connected; subscription failures are startup failures.
func (a *Adapter) Start(ctx context.Context) error {
	if a.running.Load() {
		return nil // Already running, idempotent
	}

	a.shutdown = make(chan struct{})

	if err := a.client.Subscribe(ctx, a.subject, a.handleMessage); err != nil {
		return errors.WrapTransient(err, "ingress", "Start", "subject subscription")
	}

	a.running.Store(true)
	a.startTime = time.Now()

	a.logger.Info("ingress adapter started", "subject", a.subject)
	return nil
}

// handleMessage decodes one gateway envelope and hands it to the pipeline.
func (a *Adapter) handleMessage(ctx context.Context, data []byte) {
	if !a.running.Load() {
		return
	}

	a.received.Add(1)
	a.bytesIn.Add(int64(len(data)))
	a.lastActivity.Store(time.Now())

	ev, err := message.ParseEnvelope(data, time.Now())
	if err != nil {
		a.parseErrors.Add(1)
		if a.metrics != nil {
			a.metrics.EventsDropped.WithLabelValues("parse_error").Inc()
		}
		a.logger.Warn("envelope parse failed", "error", err, "bytes", len(data))
		return
	}

	a.logger.Debug("envelope received",
		"trace_id", ev.TraceID,
		"equip_tag", ev.EquipmentTag,
		"message_id", ev.MessageID,
		"source", ev.Source)

	if err := a.pipeline.Submit(ctx, ev); err != nil {
		a.submitErrors.Add(1)
		a.logger.Warn("event submit failed", "trace_id", ev.TraceID, "error", err)
	}
}

// Stop stops accepting messages. The subscription itself is torn down
// when the shared NATS client drains.
func (a *Adapter) Stop(timeout time.Duration) error {
	if !a.running.Load() {
		return nil
	}
	a.running.Store(false)
	close(a.shutdown)

	a.logger.Info("ingress adapter stopped",
		"received", a.received.Load(),
		"parse_errors", a.parseErrors.Load())
	return nil
}

// Meta returns the component metadata
func (a *Adapter) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ingress",
		Type:        "input",
		Description: "Gateway envelope subscriber feeding the pipeline",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the adapter
func (a *Adapter) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    a.running.Load() && a.client.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(a.parseErrors.Load() + a.submitErrors.Load()),
		Uptime:     time.Since(a.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (a *Adapter) DataFlow() component.FlowMetrics {
	received := a.received.Load()
	bytes := a.bytesIn.Load()
	errCount := a.parseErrors.Load() + a.submitErrors.Load()
	lastActivity, _ := a.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(a.startTime).Seconds(); uptime > 0 {
		perSecond = float64(received) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if received > 0 {
		errorRate = float64(errCount) / float64(received)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
