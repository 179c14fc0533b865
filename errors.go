package notifykit

import "errors"

// Common errors
var (
	// ErrJobNotFailed is returned when redelivery is requested for a job
	// that is not in the failed state
	ErrJobNotFailed = errors.New("job is not in the failed state")
)
