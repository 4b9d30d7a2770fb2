// Package device tracks per-device activity reported by a zigbee2mqtt bridge.
//
// Every bridge health report carries a device list with point-in-time
// counters (messages, leave count, network address changes). The Tracker
// keeps one Record per device and derives what the bridge does not report:
//
//   - messages_per_sec from consecutive message counts
//   - appearances_total, the number of health reports that listed the device
//   - first/last seen timestamps
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────┐
//	│                        Tracker                              │
//	│                                                             │
//	│  ┌──────────────────┐         ┌──────────────────┐          │
//	│  │  records map     │◀───────▶│  EvictionPolicy  │          │
//	│  │  (tracker.go)    │  Evict  │  (eviction.go)   │          │
//	│  │ • Observe        │         │ • NeverEvict     │          │
//	│  │ • Snapshot       │         │ • TTLEviction    │          │
//	│  └──────────────────┘         └──────────────────┘          │
//	└─────────────────────────────────────────────────────────────┘
//
// # Thread Safety
//
// Tracker is NOT safe for concurrent use. The owner (the telemetry store)
// serialises every call inside its own critical section so that a health
// report and its device updates land as one atomic transition.
//
// # Device Identity
//
// Records are keyed by NormalizeID: IEEE addresses are canonicalised to
// lower-case "0x"-prefixed hex so the same radio maps to the same key even
// when the user renames the device. Entries without a recognisable IEEE
// address fall back to the raw key string.
package device
