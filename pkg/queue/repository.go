package queue

import (
	"context"
	"time"
)

// JobRepository encapsulates persistence of the job state table. The queue
// and the retry scheduler are its only writers; metrics readers get
// consistent snapshots through Stats and never observe a job mid-transition.
type JobRepository interface {
	// CreateJob durably records a new waiting job. The job must be persisted
	// before it becomes visible to workers so that a crash between enqueue
	// and dispatch cannot lose it.
	CreateJob(ctx context.Context, job *Job) error

	// ClaimJob atomically claims the next dispatchable job and marks it
	// active. Selection is priority-first with FIFO order inside each lane;
	// implementations must bound starvation of lower lanes. Returns
	// ErrNoJobToClaim when nothing is ready.
	ClaimJob(ctx context.Context) (*Job, error)

	// CompleteJob transitions an active or failed job to completed. Failed
	// jobs stay settleable so a later retry-sweep success can resolve the
	// record.
	CompleteJob(ctx context.Context, jobID string) error

	// FailJob transitions an active or failed job to failed with the given
	// reason. Re-failing updates the reason, which is how abandonment stamps
	// its terminal error onto the record.
	FailJob(ctx context.Context, jobID string, reason string) error

	// GetJob returns a copy of the job or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// ListJobsByState returns copies of all jobs in the given state.
	ListJobsByState(ctx context.Context, state JobState) ([]Job, error)

	// DeleteJob removes a job from the table or returns ErrJobNotFound.
	DeleteJob(ctx context.Context, jobID string) error

	// Stats returns a consistent queue-wide snapshot.
	Stats(ctx context.Context) (Stats, error)

	// RecordSendOutcome tallies one send attempt into the hourly buckets.
	// Called for queue dispatches and for retry-sweep sends alike, so the
	// hourly series covers every attempt against a channel transport.
	RecordSendOutcome(ctx context.Context, at time.Time, success bool) error
}
