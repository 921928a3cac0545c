// Package wshub implements the hub-style transport: payloads are sent to
// a named group/target pair over a websocket connection to the hub relay
// service. The relay fans the frame out to devices joined to the group.
package wshub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PopoGonry/iot-data-bridge/component"
	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/pkg/retry"
	"github.com/PopoGonry/iot-data-bridge/transport"
)

// Frame is the wire format sent to the hub relay.
type Frame struct {
	Kind    string          `json:"kind"` // always "send"
	Group   string          `json:"group"`
	Target  string          `json:"target"`
	Payload json.RawMessage `json:"payload"`
}

// ClientConfig holds configuration for the hub transport.
type ClientConfig struct {
	Endpoint     string        // ws:// or wss:// URL of the hub relay
	SendTimeout  time.Duration // write deadline per send
	PingInterval time.Duration // keepalive ping period
	DialTimeout  time.Duration // handshake timeout
}

// DefaultConfig returns sensible defaults for the hub transport.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		SendTimeout:  5 * time.Second,
		PingInterval: 30 * time.Second,
		DialTimeout:  10 * time.Second,
	}
}

// ClientDeps holds runtime dependencies for the hub transport.
type ClientDeps struct {
	Config ClientConfig
	Logger *slog.Logger
}

// Client maintains one websocket session to the hub relay, shared by all
// events targeting hub devices. gorilla/websocket allows one concurrent
// writer, so all sends serialize on writeMu.
type Client struct {
	endpoint     string
	sendTimeout  time.Duration
	pingInterval time.Duration
	dialTimeout  time.Duration
	logger       *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex
	connMu  sync.RWMutex
	dialMu  sync.Mutex // serializes redials; holders re-check conn before dialing

	// Lifecycle
	shutdown  chan struct{}
	done      chan struct{}
	running   atomic.Bool
	startTime time.Time

	// Stats
	sent         atomic.Int64
	bytesSent    atomic.Int64
	sendErrors   atomic.Int64
	reconnects   atomic.Int64
	lastActivity atomic.Value // stores time.Time

	// Connection state callback (used to keep the hub gauge current)
	onStateChange func(connected bool)
}

var _ transport.Sender = (*Client)(nil)
var _ component.LifecycleComponent = (*Client)(nil)

// NewClient creates a hub transport client.
func NewClient(deps ClientDeps) *Client {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "wshub")
	}

	c := &Client{
		endpoint:     cfg.Endpoint,
		sendTimeout:  cfg.SendTimeout,
		pingInterval: cfg.PingInterval,
		dialTimeout:  cfg.DialTimeout,
		logger:       logger,
		startTime:    time.Now(),
	}
	c.lastActivity.Store(time.Time{})
	return c
}

// OnStateChange registers a callback invoked when the hub connection is
// established or lost.
func (c *Client) OnStateChange(fn func(connected bool)) {
	c.onStateChange = fn
}

// Initialize validates configuration before start.
func (c *Client) Initialize() error {
	if c.endpoint == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "wshub", "Initialize", "endpoint validation")
	}
	return nil
}

// Start dials the hub relay and begins the keepalive loop. The initial
// dial is retried with backoff; a relay that never answers is a startup
// failure, not a per-event one.
func (c *Client) Start(ctx context.Context) error {
	if c.running.Load() {
		return nil // Already running, idempotent
	}

	c.shutdown = make(chan struct{})
	c.done = make(chan struct{})

	dialOperation := func() error {
		return c.dial(ctx)
	}
	if err := retry.Do(ctx, retry.DefaultConfig(), dialOperation); err != nil {
		return errors.WrapTransient(err, "wshub", "Start", "hub dial")
	}

	c.running.Store(true)
	c.startTime = time.Now()

	go c.pingLoop(ctx)

	c.logger.Info("hub transport started", "endpoint", c.endpoint)
	return nil
}

// dial establishes the websocket session.
func (c *Client) dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.dialTimeout}

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(dialCtx, c.endpoint, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.WrapTransient(err, "wshub", "dial", "websocket handshake")
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	if c.onStateChange != nil {
		c.onStateChange(true)
	}
	return nil
}

// Send writes one frame addressed to the channel's group/target. A write
// failure or timeout drops the connection (the next send redials) and
// returns an error; it never blocks sibling sends beyond the serialized
// write itself.
func (c *Client) Send(ctx context.Context, ch transport.Channel, payload []byte) error {
	if err := ctx.Err(); err != nil {
		c.sendErrors.Add(1)
		return errors.WrapTransient(err, "wshub", "Send", "context check")
	}
	if !c.running.Load() {
		c.sendErrors.Add(1)
		return errors.WrapTransient(errors.ErrNotStarted, "wshub", "Send", "lifecycle check")
	}

	conn, err := c.ensureConnected(ctx)
	if err != nil {
		c.sendErrors.Add(1)
		return err
	}

	frame := Frame{
		Kind:    "send",
		Group:   ch.Group,
		Target:  ch.Target,
		Payload: payload,
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	if err := conn.WriteJSON(frame); err != nil {
		c.sendErrors.Add(1)
		c.dropConnection(conn)
		return errors.WrapTransient(err, "wshub", "Send", "write to "+ch.String())
	}

	c.sent.Add(1)
	c.bytesSent.Add(int64(len(payload)))
	c.lastActivity.Store(time.Now())
	return nil
}

// ensureConnected returns the live connection, redialing once if the
// previous session was dropped. Concurrent sends that all observe a dead
// session serialize on dialMu so exactly one of them redials.
func (c *Client) ensureConnected(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		return conn, nil
	}

	c.dialMu.Lock()
	defer c.dialMu.Unlock()

	// Another send may have redialed while we waited.
	c.connMu.RLock()
	conn = c.conn
	c.connMu.RUnlock()
	if conn != nil {
		return conn, nil
	}

	if err := c.dial(ctx); err != nil {
		return nil, err
	}
	c.reconnects.Add(1)

	c.connMu.RLock()
	conn = c.conn
	c.connMu.RUnlock()
	if conn == nil {
		return nil, errors.WrapTransient(errors.ErrNoConnection, "wshub", "ensureConnected", "post-dial check")
	}
	return conn, nil
}

// dropConnection closes and clears a failed session so the next send
// redials. Only drops the exact connection that failed.
func (c *Client) dropConnection(failed *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == failed {
		_ = c.conn.Close()
		c.conn = nil
		if c.onStateChange != nil {
			c.onStateChange(false)
		}
	}
	c.connMu.Unlock()
}

// pingLoop keeps the session alive and detects dead peers.
func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdown:
			return
		case <-ticker.C:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()
			if conn == nil {
				continue
			}

			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()

			if err != nil {
				c.logger.Warn("hub ping failed, dropping connection", "error", err)
				c.dropConnection(conn)
			}
		}
	}
}

// Stop closes the session and waits for the keepalive loop to exit.
func (c *Client) Stop(timeout time.Duration) error {
	if !c.running.Load() {
		return nil
	}
	c.running.Store(false)

	close(c.shutdown)

	select {
	case <-c.done:
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrConnectionTimeout, "wshub", "Stop", "keepalive shutdown")
	}

	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(time.Second))
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	if c.onStateChange != nil {
		c.onStateChange(false)
	}

	c.logger.Info("hub transport stopped")
	return nil
}

// Meta returns the component metadata
func (c *Client) Meta() component.Metadata {
	return component.Metadata{
		Name:        "wshub",
		Type:        "transport",
		Description: "Hub transport sending device payloads to named groups over websocket",
		Version:     "1.0.0",
	}
}

// Health returns the current health status of the transport
func (c *Client) Health() component.HealthStatus {
	c.connMu.RLock()
	connected := c.conn != nil
	c.connMu.RUnlock()

	return component.HealthStatus{
		Healthy:    c.running.Load() && connected,
		LastCheck:  time.Now(),
		ErrorCount: int(c.sendErrors.Load()),
		Uptime:     time.Since(c.startTime),
	}
}

// DataFlow returns the current data flow metrics
func (c *Client) DataFlow() component.FlowMetrics {
	sent := c.sent.Load()
	bytes := c.bytesSent.Load()
	errCount := c.sendErrors.Load()
	lastActivity, _ := c.lastActivity.Load().(time.Time)

	var perSecond, bytesPerSecond, errorRate float64
	if uptime := time.Since(c.startTime).Seconds(); uptime > 0 {
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
