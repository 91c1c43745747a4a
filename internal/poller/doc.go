// Package poller schedules and executes register reads for configured
// Modbus devices and maintains the live entity value cache.
//
// Architecture:
//
//	┌─────────────┐   Reload/Command/GetValue   ┌──────────────┐
//	│ Coordinator │◄────────────────────────────│ API / MQTT   │
//	└──────┬──────┘                             └──────────────┘
//	       │ one task per device
//	┌──────▼──────┐    condition filter    ┌─────────────────┐
//	│ device task │───────────────────────►│ generation       │
//	│  (goroutine)│    planner groups      │ (immutable plan) │
//	└──────┬──────┘                        └─────────────────┘
//	       │ due groups, ascending address
//	┌──────▼──────┐     decode      ┌───────┐    events
//	│  transport  │────────────────►│ Cache │──────────────►
//	└─────────────┘                 └───────┘
//
// Each configured device runs one goroutine that walks the state
// machine init → connecting → connected ⇄ degraded → unloading →
// stopped. Connection attempts are bounded by the configured timeout
// and an unreachable device settles in the degraded state without
// blocking anything else; reconnects happen at a fixed interval with
// the poll schedule as the only throttle.
//
// A configuration generation is the filtered register set plus its
// batched read plan. Reload builds a complete new generation off to
// the side and swaps it atomically; results from reads issued against
// a previous generation are discarded when they land.
//
// The cache is written only by the owning device's task. Readers get
// value copies, never live references, so cross-device dependency
// lookups need no coordination beyond the cache's own lock.
package poller
