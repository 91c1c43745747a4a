// Package bridge connects the polling engine to the MQTT broker.
//
// The bridge is a thin adapter over the engine facade:
//
//	┌─────────────┐            ┌─────────────┐          ┌───────────┐
//	│   Polling   │  updates   │   Bridge    │   MQTT   │ Consumers │
//	│   Engine    │───────────►│ (this pkg)  │◄────────►│ (HA, ...) │
//	└─────────────┘  commands  └─────────────┘          └───────────┘
//
// # Key Responsibilities
//
//   - Publish every value or availability change to a retained state
//     topic: graymodbus/state/{device}/{unique_id}
//   - Consume commands from graymodbus/command/{unique_id} and forward
//     them to the engine
//   - Acknowledge every command on graymodbus/ack/{unique_id}
//   - Mirror device reachability to graymodbus/availability/{device}
//
// State publication is decoupled from the poll loops by a bounded
// queue: a slow or disconnected broker never stalls acquisition. The
// queue drops updates under sustained overload; retained topics make
// this safe because only the latest value matters to subscribers.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package bridge
