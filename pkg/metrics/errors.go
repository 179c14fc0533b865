package metrics

import "errors"

// Common errors
var (
	// ErrQueueSourceNil is returned when a nil queue source is provided
	ErrQueueSourceNil = errors.New("queue source cannot be nil")

	// ErrRetrySourceNil is returned when a nil retry source is provided
	ErrRetrySourceNil = errors.New("retry source cannot be nil")
)
