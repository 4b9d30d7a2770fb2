package api

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/ziggy/internal/device"
	"github.com/nerrad567/ziggy/internal/telemetry"
	"github.com/nerrad567/ziggy/internal/zigbee2mqtt"
)

// fieldRequest is the request body for POST /zigbee2mqtt/fields/{category}.
type fieldRequest struct {
	Field string `json:"field"`
}

// fieldChangeResponse reports a field mutation.
type fieldChangeResponse struct {
	Category string   `json:"category"`
	Field    string   `json:"field"`
	Changed  bool     `json:"changed"`
	Enabled  []string `json:"enabled"`
}

// handleBridgeMetrics describes the bridge telemetry families and the
// enabled info fields per category.
func (s *Server) handleBridgeMetrics(w http.ResponseWriter, _ *http.Request) {
	store := s.telemetry.Store()
	writeJSON(w, http.StatusOK, map[string]any{
		"prefix":         telemetry.BridgePrefix,
		"bridge_name":    store.BridgeName(),
		"base_topic":     s.pipeline.Router().BaseTopic(),
		"families":       s.telemetry.BridgeFamilies(),
		"enabled_fields": s.pipeline.Fields().Snapshot(),
	})
}

// handleListDevices returns the device activity snapshot.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.telemetry.Store().Devices()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

// handleGetDevice returns one device's activity record. IEEE addresses are
// matched in any case, with or without the 0x prefix.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid device id")
		return
	}
	id, err := device.NormalizeID("", raw)
	if err != nil {
		writeBadRequest(w, "invalid device id")
		return
	}

	rec, ok := s.telemetry.Store().Device(id)
	if !ok {
		writeNotFound(w, "device not tracked: "+id)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListFields returns the enabled fields of every info category.
func (s *Server) handleListFields(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": zigbee2mqtt.InfoCategories,
		"fields":     s.pipeline.Fields().Snapshot(),
	})
}

// handleGetCategoryFields returns the enabled fields of one category.
func (s *Server) handleGetCategoryFields(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	enabled := s.pipeline.Fields().Enabled(category)
	if enabled == nil {
		writeValidationError(w, "unknown info category: "+category)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": category,
		"enabled":  enabled,
	})
}

// handleAddField enables an info field.
func (s *Server) handleAddField(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	var req fieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	changed, err := s.pipeline.AddField(category, req.Field)
	s.writeFieldChange(w, r, category, req.Field, changed, err)
}

// handleRemoveField disables an info field.
func (s *Server) handleRemoveField(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	field := chi.URLParam(r, "field")

	changed, err := s.pipeline.RemoveField(category, field)
	s.writeFieldChange(w, r, category, field, changed, err)
}

func (s *Server) writeFieldChange(w http.ResponseWriter, r *http.Request, category, field string, changed bool, err error) {
	if err != nil {
		if fieldErrorCode(err) == ErrCodeValidation {
			writeValidationError(w, err.Error())
			return
		}
		s.logger.Error("field registry update failed",
			"category", category,
			"field", field,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "failed to apply field change")
		return
	}

	if changed {
		s.logger.Info("info field registry changed",
			"category", category,
			"field", field,
			"method", r.Method,
			"subject", r.Context().Value(ctxKeySubject),
		)
	}

	writeJSON(w, http.StatusOK, fieldChangeResponse{
		Category: category,
		Field:    field,
		Changed:  changed,
		Enabled:  s.pipeline.Fields().Enabled(category),
	})
}
