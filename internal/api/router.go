package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeNotFound(w, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, ErrCodeMethodNotAllow, "method not allowed")
	})

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/system", s.handleSystem)

		r.Route("/mqtt", func(r chi.Router) {
			r.Get("/status", s.handleMQTTStatus)
			r.Get("/metrics", s.handleMQTTMetrics)
		})

		r.Route("/zigbee2mqtt", func(r chi.Router) {
			r.Get("/metrics", s.handleBridgeMetrics)
			r.Get("/devices", s.handleListDevices)
			r.Get("/devices/{id}", s.handleGetDevice)

			r.Route("/fields", func(r chi.Router) {
				r.Get("/", s.handleListFields)
				r.Get("/{category}", s.handleGetCategoryFields)

				// Mutations require a bearer token when a JWT secret is configured
				r.Group(func(r chi.Router) {
					r.Use(s.authMiddleware)
					r.Post("/{category}", s.handleAddField)
					r.Delete("/{category}/{field}", s.handleRemoveField)
				})
			})
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleRoot describes the service and links its endpoints.
func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "ziggy",
		"version": s.version,
		"links": map[string]string{
			"metrics":             "/metrics",
			"health":              "/health",
			"mqtt_status":         "/api/v1/mqtt/status",
			"mqtt_metrics":        "/api/v1/mqtt/metrics",
			"zigbee2mqtt_metrics": "/api/v1/zigbee2mqtt/metrics",
			"devices":             "/api/v1/zigbee2mqtt/devices",
			"fields":              "/api/v1/zigbee2mqtt/fields",
			"websocket":           "/api/v1/ws",
		},
	})
}

// handleHealth reports 200 unless MQTT is enabled but not connected.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": s.version,
	}

	if s.mqtt == nil {
		resp["mqtt"] = "disabled"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	st := s.mqtt.Status()
	if !st.Enabled {
		resp["mqtt"] = "disabled"
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp["mqtt"] = st.State
	if !st.Connected {
		resp["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}
