package device

import "errors"

// Domain errors for the device package.
var (
	// ErrInvalidID is returned when a device entry has no usable identifier.
	ErrInvalidID = errors.New("device: empty identifier")
)
