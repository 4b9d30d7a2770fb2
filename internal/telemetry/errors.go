package telemetry

import "errors"

var (
	// ErrUnknownFamily is returned when a sample names an unregistered family.
	ErrUnknownFamily = errors.New("telemetry: unknown metric family")

	// ErrLabelMismatch is returned when a sample's labels do not match its family.
	ErrLabelMismatch = errors.New("telemetry: labels do not match family")

	// ErrDuplicateSeries is returned when a sample set repeats a label set.
	ErrDuplicateSeries = errors.New("telemetry: duplicate series in sample set")
)
