package eventlog

import (
	"time"

	"github.com/PopoGonry/iot-data-bridge/message"
)

// Record kinds written to the log. Every line carries a "record" field so
// consumers can filter without schema knowledge.
const (
	kindOutcome = "outcome"
	kindSummary = "summary"
	kindDrop    = "drop"
)

// OutcomeRecord is one per-device delivery result.
type OutcomeRecord struct {
	Record    string `json:"record"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
	DeviceID  string `json:"device_id"`
	Object    string `json:"object"`
	Value     any    `json:"value"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// SummaryRecord is one line per resolved event, listing every device the
// object was sent to. Written after the fan-out completes.
type SummaryRecord struct {
	Record      string   `json:"record"`
	Timestamp   string   `json:"timestamp"`
	TraceID     string   `json:"trace_id"`
	Object      string   `json:"object"`
	SendDevices []string `json:"send_devices"`
}

// DropRecord explains why an event left the pipeline before dispatch.
type DropRecord struct {
	Record       string `json:"record"`
	Timestamp    string `json:"timestamp"`
	TraceID      string `json:"trace_id"`
	Reason       string `json:"reason"`
	EquipmentTag string `json:"equip_tag,omitempty"`
	MessageID    string `json:"message_id,omitempty"`
	Object       string `json:"object,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func newOutcomeRecord(o message.DispatchOutcome) OutcomeRecord {
	ts := o.CompletedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return OutcomeRecord{
		Record:    kindOutcome,
		Timestamp: ts.UTC().Format(time.RFC3339Nano),
		TraceID:   o.TraceID,
		DeviceID:  o.DeviceID,
		Object:    o.Object,
		Value:     o.Value,
		Status:    string(o.Status),
		Error:     o.ErrorDetail,
	}
}
