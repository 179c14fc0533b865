package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/events"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// FailureHandler receives notifications whose send attempt failed. The queue
// hands a failed job over synchronously, before the worker frees its slot, so
// the notification can never be lost between the queue and the retry
// subsystem. The handler owns all further retry decisions.
type FailureHandler interface {
	HandleFailure(ctx context.Context, jobID string, n notification.Notification, sendErr error) error
}

// Queue is the delivery queue: it accepts notification jobs, holds them in
// priority lanes inside the backing store, and drains them with a bounded
// worker pool. Send failures are never retried by the queue itself; they are
// handed to the FailureHandler.
type Queue struct {
	repo    JobRepository
	sender  notification.Sender
	onFail  FailureHandler
	hub     *events.DeliveryHub
	auditor audit.Sink

	sem    chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	stopMu sync.Mutex // protects stopping state and WaitGroup operations

	pullInterval time.Duration
	sendTimeout  time.Duration
	log          *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	paused   atomic.Bool
}

// New creates a delivery queue over the given store and channel sender.
func New(repo JobRepository, sender notification.Sender, opts ...Option) (*Queue, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}
	if sender == nil {
		return nil, ErrSenderNil
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Queue{
		repo:         repo,
		sender:       sender,
		onFail:       options.failureHandler,
		hub:          options.hub,
		auditor:      options.auditor,
		sem:          make(chan struct{}, options.workers),
		pullInterval: options.pullInterval,
		sendTimeout:  options.sendTimeout,
		log:          options.logger,
	}, nil
}

// SetFailureHandler wires the retry subsystem in after construction. The
// queue and the retry scheduler reference each other, so one side has to be
// attached late; the composition root calls this before Start.
func (q *Queue) SetFailureHandler(h FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onFail = h
}

// Enqueue accepts a notification for delivery and returns the job id. The job
// is durably recorded before it becomes visible to workers. Returns
// ErrQueuePaused while the queue is paused and a wrapped
// ErrStorageUnavailable when the backing store rejects the write.
//
// The enqueue-time dispatch hint (WithStoreAttempts/WithStoreBackoff) covers
// only transient failures of the backing store during this call; it is
// unrelated to business-level delivery retries.
func (q *Queue) Enqueue(ctx context.Context, n notification.Notification, opts ...EnqueueOption) (string, error) {
	if q.paused.Load() {
		return "", ErrQueuePaused
	}
	if err := n.Validate(); err != nil {
		return "", err
	}

	options := defaultEnqueueOptions()
	for _, opt := range opts {
		opt(options)
	}

	now := time.Now()
	job := &Job{
		ID:           uuid.New().String(),
		Notification: n,
		State:        JobStateWaiting,
		EnqueuedAt:   now,
		ScheduledAt:  now,
	}
	if options.delay > 0 {
		job.State = JobStateDelayed
		job.ScheduledAt = now.Add(options.delay)
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = q.repo.CreateJob(ctx, job)
		if err == nil {
			break
		}
		if errors.Is(err, ErrJobExists) || attempt >= options.storeAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(options.storeBackoff * time.Duration(attempt)):
		}
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	q.publish(events.DeliveryEvent{
		Kind:           events.KindEnqueued,
		JobID:          job.ID,
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		OccurredAt:     now,
	})

	q.log.Debug("job enqueued",
		logger.JobID(job.ID),
		logger.NotificationID(n.ID),
		logger.Channel(string(n.Channel)),
		slog.String("priority", n.Priority.String()))

	return job.ID, nil
}

// Start begins dispatching jobs in the background.
func (q *Queue) Start(ctx context.Context) error {
	q.mu.Lock()
	if q.cancel != nil {
		q.mu.Unlock()
		return ErrAlreadyStarted
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.mu.Unlock()

	q.stopping.Store(false)

	go q.run()

	q.log.Info("delivery queue started",
		slog.Int("workers", cap(q.sem)),
		slog.Duration("pull_interval", q.pullInterval),
		slog.Duration("send_timeout", q.sendTimeout))

	return nil
}

// Stop gracefully shuts down dispatch, letting in-flight sends run to
// completion.
func (q *Queue) Stop() error {
	q.mu.Lock()
	if q.cancel == nil {
		q.mu.Unlock()
		return ErrNotStarted
	}

	q.stopMu.Lock()
	q.stopping.Store(true)
	q.stopMu.Unlock()

	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	cancel()
	q.wg.Wait()

	q.log.Info("delivery queue stopped")
	return nil
}

// Run starts the queue and returns a function suitable for errgroup.
func (q *Queue) Run(ctx context.Context) func() error {
	return func() error {
		if err := q.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return q.Stop()
	}
}

// Pause stops new dispatches and rejects new enqueues. Jobs already active
// run to completion.
func (q *Queue) Pause() {
	q.paused.Store(true)
	q.log.Info("delivery queue paused")
}

// Resume restarts dispatch from the front of each priority lane.
func (q *Queue) Resume() {
	q.paused.Store(false)
	q.log.Info("delivery queue resumed")
}

// Paused reports whether the queue is currently paused.
func (q *Queue) Paused() bool {
	return q.paused.Load()
}

// GetJobStatus returns the caller-facing view of one job, or ErrJobNotFound.
func (q *Queue) GetJobStatus(ctx context.Context, jobID string) (JobStatus, error) {
	job, err := q.repo.GetJob(ctx, jobID)
	if err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{
		State:        job.State,
		AttemptsMade: job.AttemptsMade,
	}
	if job.FailureReason != nil {
		status.Error = *job.FailureReason
	}
	return status, nil
}

// GetJob returns a copy of the full job record, or ErrJobNotFound.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return q.repo.GetJob(ctx, jobID)
}

// ListJobsByState returns copies of all jobs in the given state.
func (q *Queue) ListJobsByState(ctx context.Context, state JobState) ([]Job, error) {
	return q.repo.ListJobsByState(ctx, state)
}

// RemoveWaitingJob removes a job that has not been dispatched yet. Active,
// completed, and failed jobs cannot be removed.
func (q *Queue) RemoveWaitingJob(ctx context.Context, jobID string) error {
	job, err := q.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != JobStateWaiting && job.State != JobStateDelayed {
		return ErrJobNotRemovable
	}
	return q.repo.DeleteJob(ctx, jobID)
}

// DeleteJob removes a job regardless of terminal state. Administrative
// operation used to clear failed jobs.
func (q *Queue) DeleteJob(ctx context.Context, jobID string) error {
	return q.repo.DeleteJob(ctx, jobID)
}

// Stats returns a read-only queue snapshot. It does not block dispatch.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	return q.repo.Stats(ctx)
}

// run is the main dispatch loop.
func (q *Queue) run() {
	ticker := time.NewTicker(q.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if q.paused.Load() {
				continue
			}

			select {
			case q.sem <- struct{}{}:
				// Don't add to the WaitGroup once Stop has begun.
				q.stopMu.Lock()
				if q.stopping.Load() {
					q.stopMu.Unlock()
					<-q.sem
					return
				}
				q.wg.Add(1)
				q.stopMu.Unlock()

				go func() {
					defer q.wg.Done()
					defer func() { <-q.sem }()

					if err := q.pullAndDeliver(); err != nil {
						q.log.Error("dispatch failed", logger.Error(err))
					}
				}()
			default:
				q.log.Debug("all worker slots busy, skipping tick")
			}
		}
	}
}

// pullAndDeliver claims one job and runs the send attempt.
func (q *Queue) pullAndDeliver() error {
	job, err := q.repo.ClaimJob(q.ctx)
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) {
			return nil
		}
		return fmt.Errorf("claim job: %w", err)
	}

	q.log.Debug("claimed job",
		logger.JobID(job.ID),
		logger.NotificationID(job.Notification.ID),
		logger.Channel(string(job.Notification.Channel)))

	return q.deliver(job)
}

// deliver invokes the channel sender and settles the job.
func (q *Queue) deliver(job *Job) (retErr error) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in channel sender: %v", r)
			q.log.Error("channel sender panicked",
				logger.JobID(job.ID),
				slog.Any("panic", r))
			_ = q.settleFailure(job, retErr)
		}
	}()

	// The send timeout is independent of queue lifecycle so graceful
	// shutdown lets in-flight sends finish.
	ctx, cancel := context.WithTimeout(context.Background(), q.sendTimeout)
	defer cancel()

	err := q.sender.Send(ctx, job.Notification)
	duration := time.Since(start)

	if err != nil {
		q.log.Warn("send failed",
			logger.JobID(job.ID),
			logger.NotificationID(job.Notification.ID),
			logger.Channel(string(job.Notification.Channel)),
			slog.Duration("duration", duration),
			logger.Error(err))
		return q.settleFailure(job, err)
	}

	q.log.Info("send completed",
		logger.JobID(job.ID),
		logger.NotificationID(job.Notification.ID),
		logger.Channel(string(job.Notification.Channel)),
		slog.Duration("duration", duration))

	return q.settleSuccess(job)
}

func (q *Queue) settleSuccess(job *Job) error {
	now := time.Now()
	if err := q.repo.CompleteJob(q.ctx, job.ID); err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if err := q.repo.RecordSendOutcome(q.ctx, now, true); err != nil {
		q.log.Warn("failed to record send outcome", logger.Error(err))
	}

	q.publish(events.DeliveryEvent{
		Kind:           events.KindCompleted,
		JobID:          job.ID,
		NotificationID: job.Notification.ID,
		Channel:        job.Notification.Channel,
		Priority:       job.Notification.Priority,
		OccurredAt:     now,
	})
	q.auditor.LogEvent(q.ctx, audit.NewEvent(
		audit.ActionDeliveryCompleted, "notification", job.Notification.ID, audit.StatusSuccess,
	).WithDetail("job_id", job.ID).WithDetail("channel", string(job.Notification.Channel)))

	return nil
}

// settleFailure marks the job failed and synchronously hands the notification
// to the failure handler. The hand-off happens before the worker reports
// availability, so the job cannot be lost between the queue and the retry
// subsystem.
func (q *Queue) settleFailure(job *Job, sendErr error) error {
	now := time.Now()
	if err := q.repo.FailJob(q.ctx, job.ID, sendErr.Error()); err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if err := q.repo.RecordSendOutcome(q.ctx, now, false); err != nil {
		q.log.Warn("failed to record send outcome", logger.Error(err))
	}

	q.publish(events.DeliveryEvent{
		Kind:           events.KindFailed,
		JobID:          job.ID,
		NotificationID: job.Notification.ID,
		Channel:        job.Notification.Channel,
		Priority:       job.Notification.Priority,
		Error:          sendErr.Error(),
		OccurredAt:     now,
	})
	q.auditor.LogEvent(q.ctx, audit.NewEvent(
		audit.ActionDeliveryFailed, "notification", job.Notification.ID, audit.StatusFailure,
	).WithDetail("job_id", job.ID).WithError(sendErr.Error()))

	q.mu.Lock()
	handler := q.onFail
	q.mu.Unlock()

	if handler != nil {
		if err := handler.HandleFailure(q.ctx, job.ID, job.Notification, sendErr); err != nil {
			return fmt.Errorf("hand job %s to retry: %w", job.ID, err)
		}
	}

	return nil
}

func (q *Queue) publish(event events.DeliveryEvent) {
	if q.hub != nil {
		q.hub.Publish(event)
	}
}
