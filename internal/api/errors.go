package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/ziggy/internal/zigbee2mqtt"
)

// Error is the body of every non-2xx JSON response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// codeStatus maps each error code to its HTTP status.
var codeStatus = map[string]int{
	ErrCodeBadRequest:     http.StatusBadRequest,
	ErrCodeValidation:     http.StatusBadRequest,
	ErrCodeUnauthorized:   http.StatusUnauthorized,
	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeMethodNotAllow: http.StatusMethodNotAllowed,
	ErrCodeInternal:       http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	//nolint:errcheck // client may have gone away
	json.NewEncoder(w).Encode(v)
}

// writeError writes an Error body whose status is derived from code.
func writeError(w http.ResponseWriter, code, message string) {
	status, ok := codeStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeBadRequest, message)
}

func writeValidationError(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeValidation, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, ErrCodeInternal, message)
}

// fieldErrorCode classifies a field registry error. Caller errors are
// validation failures; anything else is internal.
func fieldErrorCode(err error) string {
	switch {
	case errors.Is(err, zigbee2mqtt.ErrUnknownCategory),
		errors.Is(err, zigbee2mqtt.ErrInvalidFieldName):
		return ErrCodeValidation
	default:
		return ErrCodeInternal
	}
}
