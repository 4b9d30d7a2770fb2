// Package api implements the HTTP server for ziggy.
//
// # Endpoints
//
//	GET    /                                        service description and links
//	GET    /health                                  200, or 503 when MQTT is enabled but down
//	GET    /metrics                                 Prometheus exposition
//	GET    /api/v1/system                           runtime statistics
//	GET    /api/v1/mqtt/status                      connection state, masked broker settings
//	GET    /api/v1/mqtt/metrics                     operational metric families
//	GET    /api/v1/zigbee2mqtt/metrics              bridge metric families, enabled fields
//	GET    /api/v1/zigbee2mqtt/devices              device activity snapshot
//	GET    /api/v1/zigbee2mqtt/devices/{id}         one device record
//	GET    /api/v1/zigbee2mqtt/fields               enabled info fields
//	GET    /api/v1/zigbee2mqtt/fields/{category}    enabled fields of one category
//	POST   /api/v1/zigbee2mqtt/fields/{category}    {"field": "..."} enables a field
//	DELETE /api/v1/zigbee2mqtt/fields/{category}/{field}
//	GET    /api/v1/ws                               WebSocket event stream
//
// # Security
//
// When security.jwt.secret is set, the field mutation routes require an
// HS256 bearer token (see IssueToken). Everything else is read-only and open,
// matching what a Prometheus scrape target normally exposes.
//
// # WebSocket
//
// Clients subscribe with {"type":"subscribe","payload":{"channels":[...]}}
// or the channels query parameter. Events are published on
// connection.state_changed and bridge.state_changed. Each new subscription
// is followed by a "snapshot" frame with the channel's current value (the
// MQTT status, or the last bridge state once one has been seen). Slow
// clients miss events rather than block the publisher.
package api
