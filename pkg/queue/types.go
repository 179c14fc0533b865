package queue

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// JobState represents the lifecycle state of a delivery job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
	JobStatePaused    JobState = "paused"
)

// JobStates lists all job lifecycle states.
func JobStates() []JobState {
	return []JobState{
		JobStateWaiting, JobStateActive, JobStateCompleted,
		JobStateFailed, JobStateDelayed, JobStatePaused,
	}
}

// Job wraps a notification with delivery bookkeeping. Exactly one worker may
// hold a job in the active state; the only transitions out of active are
// completed and failed.
//
// AttemptsMade counts dispatch attempts made by the queue itself. It is not
// the business-level retry counter; that lives with the retry scheduler,
// which owns the single authoritative attempt count per notification.
type Job struct {
	ID            string                    `json:"id"`
	Notification  notification.Notification `json:"notification"`
	State         JobState                  `json:"state"`
	AttemptsMade  int                       `json:"attempts_made"`
	FailureReason *string                   `json:"failure_reason,omitempty"`
	EnqueuedAt    time.Time                 `json:"enqueued_at"`
	ScheduledAt   time.Time                 `json:"scheduled_at"`
	ProcessedAt   *time.Time                `json:"processed_at,omitempty"`
}

// JobStatus is the caller-facing view of a single job.
type JobStatus struct {
	State        JobState `json:"state"`
	AttemptsMade int      `json:"attempts_made"`
	Error        string   `json:"error,omitempty"`
}

// HourlyBucket aggregates send outcomes for one wall-clock hour.
type HourlyBucket struct {
	Hour         time.Time `json:"hour"`
	Count        int       `json:"count"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
}

// Stats is a point-in-time snapshot of queue-wide counts. It is recomputed on
// read and never mutates queue state.
type Stats struct {
	Total     int `json:"total"`
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`

	ByChannel  map[notification.Channel]int  `json:"by_channel"`
	ByPriority map[notification.Priority]int `json:"by_priority"`
	ByState    map[JobState]int              `json:"by_state"`

	Hourly []HourlyBucket `json:"hourly"`
}
