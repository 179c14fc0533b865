package retry

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Job is a failed notification awaiting its next attempt. Attempts starts at
// 1 on the first delivery failure and is the single authoritative
// business-level attempt counter for the notification.
type Job struct {
	Notification notification.Notification `json:"notification"`

	// JobID is the delivery-queue job the failure came from. The queue
	// record is re-settled when the retry resolves.
	JobID string `json:"job_id"`

	Attempts      int       `json:"attempts"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
	LastError     string    `json:"last_error"`
	LastFailedAt  time.Time `json:"last_failed_at"`
}

// Stats is a point-in-time snapshot of the retry table. The cumulative
// counters survive job removal so that averages remain meaningful after a
// retried notification eventually succeeds or is abandoned.
type Stats struct {
	// QueueSize is the number of notifications currently awaiting retry.
	QueueSize int `json:"queue_size"`

	// Jobs are copies of the pending retry jobs.
	Jobs []Job `json:"jobs"`

	// TotalAttempts is the cumulative count of retry attempts scheduled
	// since startup, including those of since-removed jobs.
	TotalAttempts int `json:"total_attempts"`

	// RetriedNotifications counts distinct notifications that ever entered
	// the retry table.
	RetriedNotifications int `json:"retried_notifications"`

	// Abandoned counts notifications dropped after exhausting the budget.
	Abandoned int `json:"abandoned"`
}
