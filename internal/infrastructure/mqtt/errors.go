package mqtt

import "errors"

// Domain-specific errors for MQTT operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when the manager holds no broker session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps every failed connect attempt.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrConnectionLost is returned when an established session drops.
	ErrConnectionLost = errors.New("mqtt: connection lost")

	// ErrSubscribeFailed is returned when a subscribe request fails or is refused.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidQoS is returned when an invalid QoS level is specified.
	// Valid QoS levels are 0, 1, or 2.
	ErrInvalidQoS = errors.New("mqtt: invalid QoS level (must be 0, 1, or 2)")

	// ErrInvalidTopic is returned for an empty or malformed topic filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic filter")

	// ErrTimeout is returned when a broker round trip does not complete in time.
	ErrTimeout = errors.New("mqtt: operation timed out")

	// ErrDisabled is returned by Run when MQTT is disabled in configuration.
	ErrDisabled = errors.New("mqtt: disabled by configuration")

	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("mqtt: manager already running")
)
