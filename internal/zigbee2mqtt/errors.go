package zigbee2mqtt

import (
	"errors"
	"fmt"
)

// Domain errors for the zigbee2mqtt package.
var (
	// ErrMalformedJSON is returned when a payload is not valid JSON.
	ErrMalformedJSON = errors.New("zigbee2mqtt: malformed JSON")

	// ErrUnexpectedShape is returned when valid JSON does not have the
	// structure expected for its topic.
	ErrUnexpectedShape = errors.New("zigbee2mqtt: unexpected payload shape")

	// ErrInvalidValue is returned when a field or token is out of range.
	ErrInvalidValue = errors.New("zigbee2mqtt: invalid value")

	// ErrHandlerPanic is returned when a category handler panicked.
	ErrHandlerPanic = errors.New("zigbee2mqtt: handler panic")

	// ErrUnknownCategory is returned for field mutations on a category that
	// does not exist.
	ErrUnknownCategory = errors.New("zigbee2mqtt: unknown info category")

	// ErrInvalidFieldName is returned when a field name is not a valid
	// Prometheus label name.
	ErrInvalidFieldName = errors.New("zigbee2mqtt: invalid field name")

	// ErrQueueFull is returned by Enqueue when the ingestion queue is full.
	ErrQueueFull = errors.New("zigbee2mqtt: ingestion queue full")

	// ErrStopped is returned by Enqueue after the pipeline stopped.
	ErrStopped = errors.New("zigbee2mqtt: pipeline stopped")
)

// Values of the error_type label on processing errors.
const (
	ErrorTypeJSON    = "json"
	ErrorTypeShape   = "shape"
	ErrorTypeValue   = "value"
	ErrorTypeHandler = "handler"
)

// PayloadError describes a rejected message.
type PayloadError struct {
	Category Category
	Err      error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s payload: %v", e.Category, e.Err)
}

func (e *PayloadError) Unwrap() error {
	return e.Err
}

// ErrorType classifies err for the error_type label.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrMalformedJSON):
		return ErrorTypeJSON
	case errors.Is(err, ErrUnexpectedShape):
		return ErrorTypeShape
	case errors.Is(err, ErrInvalidValue):
		return ErrorTypeValue
	default:
		return ErrorTypeHandler
	}
}
