package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PopoGonry/iot-data-bridge/message"
)

type stubSender struct {
	sends int
}

func (s *stubSender) Send(_ context.Context, _ Channel, _ []byte) error {
	s.sends++
	return nil
}

func TestChannel_String(t *testing.T) {
	assert.Equal(t, "devices/vm-a/ingress", Channel{Topic: "devices/vm-a/ingress"}.String())
	assert.Equal(t, "VM-C/ingress", Channel{Group: "VM-C", Target: "ingress"}.String())
}

func TestChannelFor_Broker(t *testing.T) {
	ch := ChannelFor(message.DeviceTarget{
		DeviceID:  "VM-A",
		Transport: message.TransportNATS,
	})
	assert.Equal(t, "devices/vm-a/ingress", ch.Topic)
	assert.Empty(t, ch.Group)
	assert.Empty(t, ch.Target)
}

func TestChannelFor_BrokerExplicitChannel(t *testing.T) {
	ch := ChannelFor(message.DeviceTarget{
		DeviceID:  "VM-A",
		Transport: message.TransportNATS,
		Channel:   "fleet/vm-a/in",
	})
	assert.Equal(t, "fleet/vm-a/in", ch.Topic)
}

func TestChannelFor_Hub(t *testing.T) {
	ch := ChannelFor(message.DeviceTarget{
		DeviceID:  "VM-C",
		Transport: message.TransportHub,
	})
	assert.Empty(t, ch.Topic)
	assert.Equal(t, "VM-C", ch.Group)
	assert.Equal(t, "ingress", ch.Target)
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	broker := &stubSender{}
	hub := &stubSender{}

	require.NoError(t, r.Register(message.TransportNATS, broker))
	require.NoError(t, r.Register(message.TransportHub, hub))

	got, err := r.For(message.TransportNATS)
	require.NoError(t, err)
	assert.Same(t, Sender(broker), got)

	got, err = r.For(message.TransportHub)
	require.NoError(t, err)
	assert.Same(t, Sender(hub), got)

	assert.Len(t, r.Kinds(), 2)
}

func TestRegistry_RejectsNilSender(t *testing.T) {
	r := NewRegistry()
	err := r.Register(message.TransportNATS, nil)
	require.Error(t, err)
}

func TestRegistry_RejectsDuplicateKind(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(message.TransportNATS, &stubSender{}))

	err := r.Register(message.TransportNATS, &stubSender{})
	require.Error(t, err)
}

func TestRegistry_UnknownKind(t *testing.T) {
	r := NewRegistry()
	_, err := r.For(message.TransportHub)
	require.Error(t, err)
}
