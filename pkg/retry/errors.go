package retry

import "errors"

// Common errors
var (
	// ErrSenderNil is returned when a nil channel sender is provided
	ErrSenderNil = errors.New("channel sender cannot be nil")

	// ErrInvalidConfig is returned for invalid backoff parameters
	ErrInvalidConfig = errors.New("invalid retry configuration")
)
