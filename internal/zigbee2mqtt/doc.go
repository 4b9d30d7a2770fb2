// Package zigbee2mqtt turns zigbee2mqtt bridge messages into telemetry.
//
// The pipeline sits between the MQTT connection manager and the telemetry
// store:
//
//	MQTT default handler ──Enqueue──▶ bounded queue ──▶ Run (single consumer)
//	                                                      │
//	                                    Router.Classify ◀─┘
//	                                          │
//	                   parse (outside lock) ◀─┘
//	                          │
//	          store.Update: samples + device tracker (one atomic commit)
//
// # Topics
//
// For base topic "zigbee2mqtt":
//
//   - zigbee2mqtt/bridge/health  health report, device list
//   - zigbee2mqtt/bridge/state   online/offline
//   - zigbee2mqtt/bridge/info    version, coordinator, network and settings
//   - zigbee2mqtt/+              device messages, counted only
//
// Other zigbee2mqtt/bridge/... topics are counted as bridge_other.
//
// # Fault Isolation
//
// A payload that fails to decode increments
// ziggy_mqtt_message_processing_errors_total{category,error_type} and leaves
// every other series untouched. Handler panics are recovered and counted the
// same way with error_type="handler".
//
// # Info Labels
//
// Bridge info families carry one label per enabled field (FieldRegistry)
// that the last info payload contained. Changing the registry re-renders the
// affected category immediately from that payload.
package zigbee2mqtt
