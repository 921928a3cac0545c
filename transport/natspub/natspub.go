// Package natspub implements the broker-style transport: payloads are
// published to per-device topics over the shared NATS connection.
package natspub

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/PopoGonry/iot-data-bridge/component"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/natsclient"
	"github.com/PopoGonry/iot-data-bridge/transport"
)

// PublisherDeps holds runtime dependencies for the broker transport.
type PublisherDeps struct {
	NATSClient  *natsclient.Client
	Logger      *slog.Logger
	SendTimeout time.Duration // flush timeout per send; 0 means fire-and-forget
}

// Publisher sends device payloads to broker topics. One Publisher serves
// all events targeting the configured endpoint; the underlying connection
// is owned by the NATS client, not the pipeline.
type Publisher struct {
	client      *natsclient.Client
	logger      *slog.Logger
	sendTimeout time.Duration
	startTime   time.Time

	sent         atomic.Int64
	bytesSent    atomic.Int64
	sendErrors   atomic.Int64
	lastActivity atomic.Value // stores time.Time
}

var _ transport.Sender = (*Publisher)(nil)
var _ component.Discoverable = (*Publisher)(nil)

// NewPublisher creates a broker transport over an existing NATS client.
func NewPublisher(deps PublisherDeps) *Publisher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "natspub")
	}

	p := &Publisher{
		client:      deps.NATSClient,
		logger:      logger,
		sendTimeout: deps.SendTimeout,
		startTime:   time.Now(),
	}
	p.lastActivity.Store(time.Time{})
	return p
}

// Send publishes the payload to the channel's topic. A failed or timed-out
// publish returns an error wrapped as ErrSendFailed; the caller records
// the outcome and moves on, there is no retry here.
func (p *Publisher) Send(ctx context.Context, ch transport.Channel, payload []byte) error {
	if err := ctx.Err(); err != nil {
		p.sendErrors.Add(1)
		return errors.WrapTransient(err, "natspub", "Send", "context check")
	}

	if err := p.client.Publish(ch.Topic, payload); err != nil {
		p.sendErrors.Add(1)
		return errors.WrapTransient(err, "natspub", "Send", "publish to "+ch.Topic)
	}

	if p.sendTimeout > 0 {
		conn := p.client.GetConnection()
		if conn != nil {
			if err := conn.FlushTimeout(p.sendTimeout); err != nil {
				p.sendErrors.Add(1)
				return errors.WrapTransient(err, "natspub", "Send", "flush after publish")
			}
		}
	}

	p.sent.Add(1)
	p.bytesSent.Add(int64(len(payload)))
	p.lastActivity.Store(time.Now())
	return nil
}

// Meta returns the component metadata
func (p *Publisher) Meta() component.Metadata {
	return component.Metadata{
		Name:        "natspub",
		Type:        "transport",
		Description: "Broker transport publishing device payloads to NATS topics",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the transport
func (p *Publisher) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    p.client != nil && p.client.IsHealthy(),
		LastCheck:  time.Now(),
		ErrorCount: int(p.sendErrors.Load()),
		Uptime:     time.Since(p.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (p *Publisher) DataFlow() component.FlowMetrics {
	sent := p.sent.Load()
	bytes := p.bytesSent.Load()
	errCount := p.sendErrors.Load()
	lastActivity, _ := p.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(p.startTime).Seconds(); uptime > 0 {
		perSecond = float64(sent) / uptime
		bytesPerSecond = float64(bytes) / uptime
	}
	if sent > 0 {
		errorRate = float64(errCount) / float64(sent)
	}

	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		BytesPerSecond:    bytesPerSecond,
		ErrorRate:         errorRate,
		LastActivity:      lastActivity,
	}
}
