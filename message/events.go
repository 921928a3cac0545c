package message

import (
	"strings"
	"time"
)

// IngressEvent is the normalized form of one inbound gateway message.
// Created once by the ingress adapter and consumed by the mapping stage.
type IngressEvent struct {
	TraceID      string
	Source       string
	EquipmentTag string
	MessageID    string
	RawValue     any
	ReceivedAt   time.Time
}

// MappedEvent is an IngressEvent whose (equipment tag, message id) pair
// resolved to a canonical object, with the raw value cast to the rule's
// declared type.
type MappedEvent struct {
	TraceID  string
	Object   string
	Value    any
	Type     ValueType
	MappedAt time.Time
}

// TransportKind selects the transport variant that delivers to a device.
type TransportKind string

const (
	// TransportNATS publishes to a broker topic.
	TransportNATS TransportKind = "nats"
	// TransportHub sends to a named group/target pair on a hub relay.
	TransportHub TransportKind = "hub"
)

// DeviceTarget describes one downstream device and how to reach it.
// Targets come from the device catalog and are read-only.
type DeviceTarget struct {
	DeviceID  string
	Transport TransportKind
	Endpoint  string
	Channel   string
}

// IngressChannel returns the channel this target receives objects on.
// Broker-style targets default to devices/{device_id}/ingress with the
// device id lower-cased; hub-style targets address group = device id,
// target = "ingress". An explicit catalog channel wins.
func (t DeviceTarget) IngressChannel() string {
	if t.Channel != "" {
		return t.Channel
	}
	if t.Transport == TransportHub {
		return "ingress"
	}
	return "devices/" + strings.ToLower(t.DeviceID) + "/ingress"
}

// ResolvedEvent is a MappedEvent joined with the full target-device list.
// Target order is catalog declaration order; the dispatch stage produces
// exactly one outcome per entry.
type ResolvedEvent struct {
	TraceID string
	Object  string
	Value   any
	Targets []DeviceTarget
}

// DeviceIDs returns the target device ids in catalog order.
func (e ResolvedEvent) DeviceIDs() []string {
	ids := make([]string, len(e.Targets))
	for i, t := range e.Targets {
		ids[i] = t.DeviceID
	}
	return ids
}

// DispatchStatus is the terminal result of one per-device send.
type DispatchStatus string

const (
	// StatusSent indicates the transport accepted the payload.
	StatusSent DispatchStatus = "sent"
	// StatusFailed indicates the send failed; ErrorDetail explains why.
	StatusFailed DispatchStatus = "failed"
)

// DispatchOutcome records the result of one send to one target device.
// One outcome exists per target device per resolved event, written once
// to the event log.
type DispatchOutcome struct {
	TraceID     string
	DeviceID    string
	Object      string
	Value       any
	Status      DispatchStatus
	ErrorDetail string
	CompletedAt time.Time
}

// Failed reports whether the send did not reach the device.
func (o DispatchOutcome) Failed() bool {
	return o.Status == StatusFailed
}
