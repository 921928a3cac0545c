// Package message defines the event model that flows through the bridge
// pipeline: the ingress wire envelope, the per-stage event types
// (IngressEvent, MappedEvent, ResolvedEvent), dispatch outcomes, and the
// value type system used to coerce raw telemetry values.
//
// Events are value types and treated as immutable: each stage constructs
// the next event rather than mutating its input, and the trace id assigned
// at ingress is carried unchanged through every derived record.
package message
