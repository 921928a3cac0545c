package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
)

func TestNewDeviceCatalog(t *testing.T) {
	records := []ObjectRecord{
		{
			Object: "Geo.Latitude",
			Devices: []DeviceRecord{
				{DeviceID: "VM-A", Transport: "nats", Endpoint: "nats://localhost:4222"},
				{DeviceID: "VM-C", Transport: "hub", Endpoint: "ws://localhost:5000/hub"},
			},
		},
		{Object: "Engine.RPM", Devices: nil},
	}

	cat, err := NewDeviceCatalog(records)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Objects())

	targets := cat.Lookup("Geo.Latitude")
	require.Len(t, targets, 2)
	assert.Equal(t, "VM-A", targets[0].DeviceID, "catalog order preserved")
	assert.Equal(t, message.TransportNATS, targets[0].Transport)
	assert.Equal(t, "VM-C", targets[1].DeviceID)
	assert.Equal(t, message.TransportHub, targets[1].Transport)

	assert.Nil(t, cat.Lookup("Engine.RPM"), "empty device list resolves to no targets")
	assert.Nil(t, cat.Lookup("Not.There"))
}

func TestNewDeviceCatalog_LookupReturnsCopy(t *testing.T) {
	cat, err := NewDeviceCatalog([]ObjectRecord{
		{Object: "O", Devices: []DeviceRecord{{DeviceID: "VM-A", Transport: "nats"}}},
	})
	require.NoError(t, err)

	first := cat.Lookup("O")
	first[0].DeviceID = "mutated"

	again := cat.Lookup("O")
	assert.Equal(t, "VM-A", again[0].DeviceID)
}

func TestNewDeviceCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		records []ObjectRecord
	}{
		{"missing object", []ObjectRecord{{Devices: []DeviceRecord{{DeviceID: "A", Transport: "nats"}}}}},
		{"duplicate object", []ObjectRecord{{Object: "O"}, {Object: "O"}}},
		{"missing device id", []ObjectRecord{{Object: "O", Devices: []DeviceRecord{{Transport: "nats"}}}}},
		{"unknown transport", []ObjectRecord{{Object: "O", Devices: []DeviceRecord{{DeviceID: "A", Transport: "carrier-pigeon"}}}}},
		{"unsafe device id", []ObjectRecord{{Object: "O", Devices: []DeviceRecord{{DeviceID: "a.b", Transport: "nats"}}}}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := NewDeviceCatalog(test.records)
			require.Error(t, err)
			assert.True(t, errors.IsFatal(err))
		})
	}
}

func TestNewDeviceCatalog_TransportAliases(t *testing.T) {
	cat, err := NewDeviceCatalog([]ObjectRecord{
		{Object: "O", Devices: []DeviceRecord{
			{DeviceID: "A", Transport: "mqtt"},
			{DeviceID: "B", Transport: "signalr"},
		}},
	})
	require.NoError(t, err)

	targets := cat.Lookup("O")
	assert.Equal(t, message.TransportNATS, targets[0].Transport)
	assert.Equal(t, message.TransportHub, targets[1].Transport)
}

func TestLoadDeviceCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "devices.yaml")
	content := `objects:
  - object: Geo.Latitude
    devices:
      - device_id: VM-A
        transport: nats
        endpoint: nats://localhost:4222
      - device_id: VM-C
        transport: nats
        endpoint: nats://localhost:4222
        channel: custom/vm-c/geo
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cat, err := LoadDeviceCatalog(path)
	require.NoError(t, err)

	targets := cat.Lookup("Geo.Latitude")
	require.Len(t, targets, 2)
	assert.Equal(t, "devices/vm-a/ingress", targets[0].IngressChannel())
	assert.Equal(t, "custom/vm-c/geo", targets[1].IngressChannel())
}
