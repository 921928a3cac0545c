package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PopoGonry/iot-data-bridge/errors"
)

// EnvelopeDest is the DEST header value addressed to this service.
const EnvelopeDest = "IoTDataBridge"

// EnvelopeHeader is the routing header of the ingress wire format.
type EnvelopeHeader struct {
	UUID string `json:"UUID"`
	Time string `json:"TIME"`
	Src  string `json:"SRC"`
	Dest string `json:"DEST"`
	Type string `json:"TYPE"`
}

// EnvelopePayload carries the equipment reading of an ingress message.
// RawValue stays untyped until the mapping stage casts it against the
// catalog's declared type.
type EnvelopePayload struct {
	EquipTag  string `json:"Equip.Tag"`
	MessageID string `json:"Message.ID"`
	RawValue  any    `json:"VALUE"`
}

// Envelope is the JSON wire format published by equipment gateways.
type Envelope struct {
	Header  EnvelopeHeader  `json:"header"`
	Payload EnvelopePayload `json:"payload"`
}

// ParseEnvelope decodes an ingress wire message and normalizes it into an
// IngressEvent. The trace id is taken from the header UUID when present,
// otherwise generated here; either way it never changes downstream.
// Missing payload fields are a parse error: the adapter logs and drops
// such messages without entering the pipeline.
func ParseEnvelope(data []byte, receivedAt time.Time) (IngressEvent, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return IngressEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"message", "ParseEnvelope", "envelope decode")
	}

	if strings.TrimSpace(env.Payload.EquipTag) == "" ||
		strings.TrimSpace(env.Payload.MessageID) == "" ||
		env.Payload.RawValue == nil {
		return IngressEvent{}, errors.WrapInvalid(
			fmt.Errorf("%w: payload requires Equip.Tag, Message.ID and VALUE", errors.ErrInvalidData),
			"message", "ParseEnvelope", "payload validation")
	}

	traceID := strings.TrimSpace(env.Header.UUID)
	if traceID == "" {
		traceID = uuid.NewString()
	}

	return IngressEvent{
		TraceID:      traceID,
		Source:       env.Header.Src,
		EquipmentTag: env.Payload.EquipTag,
		MessageID:    env.Payload.MessageID,
		RawValue:     env.Payload.RawValue,
		ReceivedAt:   receivedAt,
	}, nil
}

// DevicePayload is the per-device output payload published to each target
// device's channel.
type DevicePayload struct {
	Object    string `json:"object"`
	Value     any    `json:"value"`
	Timestamp int64  `json:"timestamp"` // epoch seconds
}

// NewDevicePayload builds the output payload for a resolved event.
func NewDevicePayload(object string, value any, at time.Time) DevicePayload {
	return DevicePayload{
		Object:    object,
		Value:     value,
		Timestamp: at.Unix(),
	}
}

// Encode renders the payload as JSON for the transport send.
func (p DevicePayload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.WrapInvalid(err, "message", "Encode", "payload marshal")
	}
	return data, nil
}
