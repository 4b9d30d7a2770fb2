// Package telemetry owns every metric ziggy exports.
//
// Two families of metrics live here:
//
//   - Operational metrics (prefix ziggy_mqtt_) describe the subscriber itself:
//     connection attempts/failures, message counts, sizes and processing
//     durations. They are plain client_golang vectors updated atomically.
//   - Bridge telemetry (prefix ziggy_zigbee2mqtt_) mirrors what the bridge
//     reports. It is held by Store as one sample set per payload category and
//     exported by a custom collector.
//
// # Consistency
//
// Store is both the write side and the Prometheus collector. A handler
// builds a complete sample set, including labels, and commits it inside a
// single Update call; Collect copies everything under the read lock. A
// scrape therefore sees either the previous or the next state of a
// category, never a mix. Device activity records live in the same critical
// section so a health report and its device updates land together.
//
// # Usage
//
//	reg, err := telemetry.NewRegistry(telemetry.Options{BridgeName: "default"})
//	err := reg.Store().Update(func(tx *telemetry.Tx) error {
//	    return tx.Replace("state", samples)
//	})
//	http.Handle("/metrics", reg.Handler())
package telemetry
