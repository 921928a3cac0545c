// Package iotbridge routes equipment telemetry from gateway ingress to
// target devices across heterogeneous transports.
//
// # Pipeline
//
// Every inbound message flows through the same stages:
//
//   - Ingress: decode the gateway envelope into a normalized event,
//     assigning a trace id that survives until the last outcome record.
//   - Mapping: translate the (equipment tag, message id) pair into a
//     canonical object and cast the raw value to its declared type.
//   - Resolution: join the object with the ordered list of devices that
//     subscribe to it.
//   - Dispatch: deliver the object to every target concurrently, each
//     send over the device's own transport with its own deadline. One
//     outcome per target, always.
//   - Event log: append per-device outcomes, a fan-out summary, and
//     drop records to a rotating JSON-lines file.
//
// Events are independent: a drop, a slow send or a failed device never
// affects neighboring events or sibling sends.
//
// # Transports
//
// Broker-style devices receive payloads on per-device NATS topics
// (devices/{device_id}/ingress). Hub-style devices receive them as
// group-addressed frames over a websocket relay. The dispatch stage
// selects a transport per target from the device catalog and never
// branches on protocol details itself.
//
// # Configuration
//
// The mapping and device tables are YAML catalogs validated at startup;
// duplicate mapping keys and malformed device entries fail fast rather
// than surprise at runtime. Service configuration is a single YAML file
// with environment overrides for deployment endpoints.
package iotbridge
