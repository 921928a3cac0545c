package catalog

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PopoGonry/iot-data-bridge/errors"
	"github.com/PopoGonry/iot-data-bridge/message"
)

// DeviceRecord is the wire/file form of one device entry under an object.
type DeviceRecord struct {
	DeviceID  string `yaml:"device_id" json:"device_id"`
	Transport string `yaml:"transport" json:"transport"`
	Endpoint  string `yaml:"endpoint"  json:"endpoint"`
	Channel   string `yaml:"channel"   json:"channel"`
}

// ObjectRecord is the wire/file form of one device table entry.
type ObjectRecord struct {
	Object  string         `yaml:"object"  json:"object"`
	Devices []DeviceRecord `yaml:"devices" json:"devices"`
}

// deviceFile is the on-disk YAML layout of the device catalog.
type deviceFile struct {
	Objects []ObjectRecord `yaml:"objects"`
}

// DeviceCatalog is the immutable object -> ordered target devices table.
// Target order is declaration order; the dispatch stage preserves it.
type DeviceCatalog struct {
	targets map[string][]message.DeviceTarget
}

// NewDeviceCatalog validates records and builds the catalog.
// An object listed with zero devices is kept as an empty entry: resolution
// reports it as a no-targets drop, same as an absent object.
func NewDeviceCatalog(records []ObjectRecord) (*DeviceCatalog, error) {
	targets := make(map[string][]message.DeviceTarget, len(records))

	for i, rec := range records {
		object := strings.TrimSpace(rec.Object)
		if object == "" {
			return nil, errors.WrapFatal(
				fmt.Errorf("record %d: object is required: %w", i, errors.ErrInvalidConfig),
				"DeviceCatalog", "New", "record validation")
		}
		if _, exists := targets[object]; exists {
			return nil, errors.WrapFatal(
				fmt.Errorf("record %d: duplicate object %q: %w", i, object, errors.ErrInvalidConfig),
				"DeviceCatalog", "New", "duplicate object validation")
		}

		list := make([]message.DeviceTarget, 0, len(rec.Devices))
		for j, dev := range rec.Devices {
			target, err := newDeviceTarget(dev)
			if err != nil {
				return nil, errors.WrapFatal(
					fmt.Errorf("record %d device %d (object %s): %w", i, j, object, err),
					"DeviceCatalog", "New", "device validation")
			}
			list = append(list, target)
		}
		targets[object] = list
	}

	return &DeviceCatalog{targets: targets}, nil
}

func newDeviceTarget(rec DeviceRecord) (message.DeviceTarget, error) {
	deviceID := strings.TrimSpace(rec.DeviceID)
	if deviceID == "" {
		return message.DeviceTarget{}, fmt.Errorf("device_id is required: %w", errors.ErrInvalidConfig)
	}
	if !subjectSafe(deviceID) {
		// Device ids become broker subject tokens; restrict to characters
		// legal in both NATS subjects and hub group names.
		return message.DeviceTarget{}, fmt.Errorf(
			"device_id %q must contain only letters, digits, '-' or '_': %w",
			deviceID, errors.ErrInvalidConfig)
	}

	var kind message.TransportKind
	switch strings.ToLower(strings.TrimSpace(rec.Transport)) {
	case "nats", "broker", "mqtt":
		kind = message.TransportNATS
	case "hub", "signalr":
		kind = message.TransportHub
	default:
		return message.DeviceTarget{}, fmt.Errorf(
			"unknown transport %q for device %s: %w", rec.Transport, deviceID, errors.ErrInvalidConfig)
	}

	return message.DeviceTarget{
		DeviceID:  deviceID,
		Transport: kind,
		Endpoint:  strings.TrimSpace(rec.Endpoint),
		Channel:   strings.TrimSpace(rec.Channel),
	}, nil
}

// subjectSafe reports whether id is usable as a single broker subject token.
func subjectSafe(id string) bool {
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// LoadDeviceCatalog reads and validates a YAML device table.
func LoadDeviceCatalog(path string) (*DeviceCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "DeviceCatalog", "Load", "read catalog file")
	}

	var file deviceFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"DeviceCatalog", "Load", "parse catalog file")
	}

	return NewDeviceCatalog(file.Objects)
}

// Lookup returns the ordered targets for an object. The returned slice is
// a copy; callers may not observe or cause catalog mutation.
func (c *DeviceCatalog) Lookup(object string) []message.DeviceTarget {
	list, ok := c.targets[object]
	if !ok || len(list) == 0 {
		return nil
	}
	out := make([]message.DeviceTarget, len(list))
	copy(out, list)
	return out
}

// UsesTransport reports whether any device in the catalog is reached
// through the given transport. Startup uses this to decide which
// transports must be connected before accepting events.
func (c *DeviceCatalog) UsesTransport(kind message.TransportKind) bool {
	for _, list := range c.targets {
		for _, t := range list {
			if t.Transport == kind {
				return true
			}
		}
	}
	return false
}

// Objects returns the number of objects in the catalog.
func (c *DeviceCatalog) Objects() int {
	return len(c.targets)
}
