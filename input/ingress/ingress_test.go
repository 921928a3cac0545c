package ingress

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PopoGonry/iot-data-bridge/message"
	"github.com/PopoGonry/iot-data-bridge/natsclient"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	events []message.IngressEvent
}

func (f *fakeSubmitter) Submit(_ context.Context, ev message.IngressEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func testAdapter(t *testing.T) (*Adapter, *fakeSubmitter) {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	sub := &fakeSubmitter{}
	a := NewAdapter(Deps{NATSClient: client, Pipeline: sub})
	require.NoError(t, a.Initialize())
	a.running.Store(true)
	return a, sub
}

func TestNewAdapter_DefaultSubject(t *testing.T) {
	a := NewAdapter(Deps{})
	assert.Equal(t, DefaultSubject, a.subject)

	a = NewAdapter(Deps{Config: Config{Subject: "fleet/ingress"}})
	assert.Equal(t, "fleet/ingress", a.subject)
}

func TestInitialize_RequiresDependencies(t *testing.T) {
	a := NewAdapter(Deps{})
	require.Error(t, a.Initialize())

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	a = NewAdapter(Deps{NATSClient: client})
	require.Error(t, a.Initialize(), "pipeline is required")
}

func TestHandleMessage_ValidEnvelope(t *testing.T) {
	a, sub := testAdapter(t)

	raw := []byte(`{
		"header": {"UUID": "abc-123", "SRC": "GW-01", "DEST": "IoTDataBridge", "TYPE": "data"},
		"payload": {"Equip.Tag": "GPS001", "Message.ID": "GLL001", "VALUE": 37.52}
	}`)
	a.handleMessage(context.Background(), raw)

	require.Len(t, sub.events, 1)
	ev := sub.events[0]
	assert.Equal(t, "abc-123", ev.TraceID)
	assert.Equal(t, "GW-01", ev.Source)
	assert.Equal(t, "GPS001", ev.EquipmentTag)
	assert.Equal(t, "GLL001", ev.MessageID)
	assert.Equal(t, 37.52, ev.RawValue)
	assert.Equal(t, int64(1), a.received.Load())
}

func TestHandleMessage_GeneratesTraceID(t *testing.T) {
	a, sub := testAdapter(t)

	raw := []byte(`{
		"header": {"SRC": "GW-01"},
		"payload": {"Equip.Tag": "GPS001", "Message.ID": "GLL001", "VALUE": "37.52"}
	}`)
	a.handleMessage(context.Background(), raw)

	require.Len(t, sub.events, 1)
	assert.NotEmpty(t, sub.events[0].TraceID, "trace id is generated when the header has none")
}

func TestHandleMessage_MalformedJSON(t *testing.T) {
	a, sub := testAdapter(t)

	a.handleMessage(context.Background(), []byte(`{not json`))

	assert.Empty(t, sub.events)
	assert.Equal(t, int64(1), a.parseErrors.Load())
}

func TestHandleMessage_MissingPayloadFields(t *testing.T) {
	a, sub := testAdapter(t)

	raw := []byte(`{"header": {"UUID": "abc"}, "payload": {"Equip.Tag": "GPS001"}}`)
	a.handleMessage(context.Background(), raw)

	assert.Empty(t, sub.events)
	assert.Equal(t, int64(1), a.parseErrors.Load())
}

func TestHandleMessage_AfterStop(t *testing.T) {
	a, sub := testAdapter(t)
	a.shutdown = make(chan struct{})
	require.NoError(t, a.Stop(0))

	raw := []byte(`{
		"header": {"UUID": "abc"},
		"payload": {"Equip.Tag": "GPS001", "Message.ID": "GLL001", "VALUE": 1}
	}`)
	a.handleMessage(context.Background(), raw)

	assert.Empty(t, sub.events, "stopped adapter ignores messages")
}

func TestAdapter_Discovery(t *testing.T) {
	a, _ := testAdapter(t)

	meta := a.Meta()
	assert.Equal(t, "ingress", meta.Name)
	assert.Equal(t, "input", meta.Type)
}
