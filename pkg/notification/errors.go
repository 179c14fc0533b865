package notification

import "errors"

// Common errors
var (
	// ErrMissingID is returned when a notification has no identifier
	ErrMissingID = errors.New("notification id is required")

	// ErrMissingRecipient is returned when a notification has no recipient
	ErrMissingRecipient = errors.New("notification recipient is required")

	// ErrInvalidChannel is returned for channels outside the supported set
	ErrInvalidChannel = errors.New("invalid notification channel")

	// ErrInvalidPriority is returned for priorities outside the supported range
	ErrInvalidPriority = errors.New("invalid notification priority")
)
