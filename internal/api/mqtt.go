package api

import (
	"net/http"

	"github.com/nerrad567/ziggy/internal/infrastructure/mqtt"
	"github.com/nerrad567/ziggy/internal/telemetry"
)

// handleMQTTStatus returns the connection state and masked broker settings.
func (s *Server) handleMQTTStatus(w http.ResponseWriter, _ *http.Request) {
	if s.mqtt == nil {
		writeJSON(w, http.StatusOK, mqtt.Status{State: mqtt.StateDisconnected})
		return
	}
	writeJSON(w, http.StatusOK, s.mqtt.Status())
}

// handleMQTTMetrics describes the operational metric families.
func (s *Server) handleMQTTMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":   telemetry.MQTTPrefix,
		"families": s.telemetry.OperationalFamilies(),
		"app_info": s.telemetry.AppInfo(),
	})
}
