package alerts

import "errors"

// Common errors
var (
	// ErrMetricsSourceNil is returned when a nil metrics source is provided
	ErrMetricsSourceNil = errors.New("metrics source cannot be nil")

	// ErrInvalidThresholds is returned for out-of-range threshold values
	ErrInvalidThresholds = errors.New("invalid alert thresholds")

	// ErrThresholdsFile is returned when a thresholds file cannot be read or parsed
	ErrThresholdsFile = errors.New("failed to load thresholds file")
)
