package message

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PopoGonry/iot-data-bridge/errors"
)

func TestParseEnvelope(t *testing.T) {
	raw := []byte(`{
		"header": {"UUID": "trace-123", "TIME": "2026-01-02T03:04:05Z", "SRC": "gateway-1", "DEST": "IoTDataBridge", "TYPE": "telemetry"},
		"payload": {"Equip.Tag": "GPS001", "Message.ID": "GLL001", "VALUE": 37.5665}
	}`)

	now := time.Now()
	ev, err := ParseEnvelope(raw, now)
	require.NoError(t, err)

	assert.Equal(t, "trace-123", ev.TraceID)
	assert.Equal(t, "gateway-1", ev.Source)
	assert.Equal(t, "GPS001", ev.EquipmentTag)
	assert.Equal(t, "GLL001", ev.MessageID)
	assert.Equal(t, 37.5665, ev.RawValue)
	assert.Equal(t, now, ev.ReceivedAt)
}

func TestParseEnvelope_GeneratesTraceID(t *testing.T) {
	raw := []byte(`{
		"header": {"SRC": "gateway-1"},
		"payload": {"Equip.Tag": "GPS001", "Message.ID": "GLL001", "VALUE": "x"}
	}`)

	ev, err := ParseEnvelope(raw, time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, ev.TraceID)

	ev2, err := ParseEnvelope(raw, time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, ev.TraceID, ev2.TraceID, "generated trace ids must be unique")
}

func TestParseEnvelope_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"malformed json", `{"header": `},
		{"missing equip tag", `{"payload": {"Message.ID": "GLL001", "VALUE": 1}}`},
		{"missing message id", `{"payload": {"Equip.Tag": "GPS001", "VALUE": 1}}`},
		{"missing value", `{"payload": {"Equip.Tag": "GPS001", "Message.ID": "GLL001"}}`},
		{"blank equip tag", `{"payload": {"Equip.Tag": "  ", "Message.ID": "GLL001", "VALUE": 1}}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := ParseEnvelope([]byte(test.raw), time.Now())
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDevicePayload_Encode(t *testing.T) {
	at := time.Unix(1767322800, 500_000_000)
	payload := NewDevicePayload("Geo.Latitude", 37.5665, at)

	data, err := payload.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "Geo.Latitude", decoded["object"])
	assert.Equal(t, 37.5665, decoded["value"])
	assert.Equal(t, float64(1767322800), decoded["timestamp"], "timestamp is epoch seconds")
}

func TestDeviceTarget_IngressChannel(t *testing.T) {
	tests := []struct {
		name     string
		target   DeviceTarget
		expected string
	}{
		{
			"broker default lower-cases device id",
			DeviceTarget{DeviceID: "VM-A", Transport: TransportNATS},
			"devices/vm-a/ingress",
		},
		{
			"explicit channel wins",
			DeviceTarget{DeviceID: "VM-A", Transport: TransportNATS, Channel: "custom/topic"},
			"custom/topic",
		},
		{
			"hub default target",
			DeviceTarget{DeviceID: "VM-B", Transport: TransportHub},
			"ingress",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, test.target.IngressChannel())
		})
	}
}
