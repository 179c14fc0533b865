package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrSenderNil is returned when a nil channel sender is provided
	ErrSenderNil = errors.New("channel sender cannot be nil")

	// ErrQueuePaused is returned when enqueueing into a paused queue
	ErrQueuePaused = errors.New("queue is paused")

	// ErrJobNotFound is returned for unknown or purged job ids
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJobToClaim signals that no waiting job is ready for dispatch
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrJobNotRemovable is returned when removing a job that is not waiting
	ErrJobNotRemovable = errors.New("only waiting jobs can be removed")

	// ErrJobExists is returned when creating a job with a duplicate id
	ErrJobExists = errors.New("job already exists")

	// ErrStorageUnavailable wraps infrastructure failures of the backing store
	ErrStorageUnavailable = errors.New("job storage unavailable")

	// ErrAlreadyStarted is returned when starting a running queue
	ErrAlreadyStarted = errors.New("queue already started")

	// ErrNotStarted is returned when stopping a queue that never started
	ErrNotStarted = errors.New("queue not started")
)
