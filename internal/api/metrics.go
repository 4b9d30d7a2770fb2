package api

import (
	"net/http"
	"runtime"
	"time"
)

// SystemMetrics is the response of GET /api/v1/system.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Devices       DeviceMetrics  `json:"devices"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT connection statistics.
type MQTTMetrics struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	State     string `json:"state"`
}

// DeviceMetrics contains device tracker statistics.
type DeviceMetrics struct {
	Tracked int `json:"tracked"`
}

// handleSystem returns process-level statistics.
func (s *Server) handleSystem(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		MQTT: MQTTMetrics{
			State: "disabled",
		},
		Devices: DeviceMetrics{
			Tracked: s.telemetry.Store().DeviceCount(),
		},
	}

	if s.mqtt != nil {
		st := s.mqtt.Status()
		metrics.MQTT = MQTTMetrics{
			Enabled:   st.Enabled,
			Connected: st.Connected,
			State:     st.State.String(),
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
