// Package transport defines the single capability the dispatch stage
// depends on: send a named payload to a named channel, succeed or fail.
// Per-protocol implementations (broker publish, hub group send) are
// interchangeable behind the Sender interface; pipeline code never
// branches on transport kind.
package transport

import (
	"context"
	"fmt"

	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
)

// Channel names the destination of one send. Broker-style transports use
// Topic; hub-style transports address a named Group and Target.
type Channel struct {
	Topic  string
	Group  string
	Target string
}

// String renders the channel for log output.
func (c Channel) String() string {
	if c.Topic != "" {
		return c.Topic
	}
	return c.Group + "/" + c.Target
}

// ChannelFor derives the send channel for a catalog device target.
func ChannelFor(t message.DeviceTarget) Channel {
	if t.Transport == message.TransportHub {
		return Channel{Group: t.DeviceID, Target: t.IngressChannel()}
	}
	return Channel{Topic: t.IngressChannel()}
}

// Sender delivers one payload to one channel. Implementations own their
// connection lifecycle and per-send timeout; a timed-out send returns an
// error like any other failure and must not affect concurrent sends.
type Sender interface {
	Send(ctx context.Context, ch Channel, payload []byte) error
}

// Registry maps transport kinds to their Sender implementation.
// Populated once at startup; read-only afterwards.
type Registry struct {
	senders map[message.TransportKind]Sender
}

// NewRegistry creates an empty transport registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[message.TransportKind]Sender)}
}

// Register binds a sender to a transport kind. Registering the same kind
// twice is a configuration error.
func (r *Registry) Register(kind message.TransportKind, s Sender) error {
	if s == nil {
		return errors.WrapInvalid(
			fmt.Errorf("nil sender for %s: %w", kind, errors.ErrInvalidConfig),
			"Registry", "Register", "sender validation")
	}
	if _, exists := r.senders[kind]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("transport %s already registered: %w", kind, errors.ErrInvalidConfig),
			"Registry", "Register", "duplicate transport")
	}
	r.senders[kind] = s
	return nil
}

// For returns the sender for a transport kind.
func (r *Registry) For(kind message.TransportKind) (Sender, error) {
	s, ok := r.senders[kind]
	if !ok {
		return nil, errors.WrapInvalid(
			fmt.Errorf("no transport registered for %s: %w", kind, errors.ErrInvalidConfig),
			"Registry", "For", "transport lookup")
	}
	return s, nil
}

// Kinds returns the registered transport kinds.
func (r *Registry) Kinds() []message.TransportKind {
	kinds := make([]message.TransportKind, 0, len(r.senders))
	for k := range r.senders {
		kinds = append(kinds, k)
	}
	return kinds
}
