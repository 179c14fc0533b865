package notifykit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/notifykit/pkg/alerts"
	"github.com/dmitrymomot/notifykit/pkg/events"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// Engine is the composition root of the delivery pipeline. It owns the
// delivery queue, the retry scheduler, the metrics aggregator, and the alert
// evaluator, and exposes the read and administrative surface an upstream
// HTTP or RPC layer consumes.
//
// There is no shared global: construct an Engine explicitly and pass it
// where it is needed.
type Engine struct {
	queue     *queue.Queue
	scheduler *retry.Scheduler
	metrics   *metrics.Aggregator
	alerts    *alerts.Evaluator
	hub       *events.DeliveryHub
	log       *slog.Logger
}

// New wires the delivery pipeline around the given channel sender. By
// default jobs live in an in-memory store; pass WithRepository to back the
// queue with Postgres or Redis.
func New(sender notification.Sender, opts ...Option) (*Engine, error) {
	if sender == nil {
		return nil, queue.ErrSenderNil
	}

	options := defaultEngineOptions()
	for _, opt := range opts {
		opt(options)
	}

	hub := events.NewDeliveryHub(options.hubBuffer)

	scheduler, err := retry.New(sender, options.retryConfig, append([]retry.Option{
		retry.WithHub(hub),
		retry.WithAuditSink(options.auditor),
		retry.WithOutcomeRecorder(options.repository),
		retry.WithJobSettler(options.repository),
		retry.WithLogger(options.logger),
	}, options.retryOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build retry scheduler: %w", err)
	}

	q, err := queue.New(options.repository, sender, append([]queue.Option{
		queue.WithHub(hub),
		queue.WithAuditSink(options.auditor),
		queue.WithLogger(options.logger),
		queue.WithFailureHandler(scheduler),
	}, options.queueOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build delivery queue: %w", err)
	}

	agg, err := metrics.New(q, scheduler)
	if err != nil {
		return nil, fmt.Errorf("failed to build metrics aggregator: %w", err)
	}

	evaluator, err := alerts.New(agg,
		alerts.WithAuditSink(options.auditor),
		alerts.WithLogger(options.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build alert evaluator: %w", err)
	}

	return &Engine{
		queue:     q,
		scheduler: scheduler,
		metrics:   agg,
		alerts:    evaluator,
		hub:       hub,
		log:       options.logger,
	}, nil
}

// Start launches the delivery workers. The retry sweep starts on demand when
// the first failure is registered.
func (e *Engine) Start(ctx context.Context) error {
	return e.queue.Start(ctx)
}

// Stop shuts the pipeline down: drains the delivery workers, stops the retry
// sweep, and closes the event hub. Pending retry jobs stay in the table.
func (e *Engine) Stop() error {
	err := e.queue.Stop()
	e.scheduler.Stop()
	_ = e.hub.Close()
	return err
}

// Run starts the engine and returns a function suitable for errgroup-style
// lifecycles: it blocks until the context is cancelled, then stops the
// engine.
func (e *Engine) Run(ctx context.Context) func() error {
	return func() error {
		if err := e.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return e.Stop()
	}
}

// Enqueue submits a notification for delivery and returns the job id
// immediately. Delivery outcome is observable through job status, metrics,
// and the event hub, never through Enqueue itself.
func (e *Engine) Enqueue(ctx context.Context, n notification.Notification, opts ...queue.EnqueueOption) (string, error) {
	return e.queue.Enqueue(ctx, n, opts...)
}

// Pause stops workers from picking up new jobs. Active sends finish
// normally.
func (e *Engine) Pause() { e.queue.Pause() }

// Resume lifts a pause.
func (e *Engine) Resume() { e.queue.Resume() }

// Subscribe registers an observer for delivery lifecycle events. The
// subscription ends when the context is cancelled or the subscriber is
// closed.
func (e *Engine) Subscribe(ctx context.Context) events.Subscriber[events.DeliveryEvent] {
	return e.hub.Subscribe(ctx)
}

// GetMetrics returns the current delivery-health snapshot.
func (e *Engine) GetMetrics(ctx context.Context) (metrics.Snapshot, error) {
	return e.metrics.Metrics(ctx)
}

// GetFailureTrends returns daily, weekly, and monthly failure-rate series.
func (e *Engine) GetFailureTrends(ctx context.Context) (metrics.Trends, error) {
	return e.metrics.FailureTrends(ctx)
}

// CheckAlerts evaluates the current metrics against the given threshold
// overrides.
func (e *Engine) CheckAlerts(ctx context.Context, overrides alerts.Overrides) (alerts.Result, error) {
	return e.alerts.Check(ctx, overrides)
}

// GetJobDetails returns the full job record for the given id.
func (e *Engine) GetJobDetails(ctx context.Context, jobID string) (*queue.Job, error) {
	return e.queue.GetJob(ctx, jobID)
}

// GetJobStatus returns the condensed status of the given job.
func (e *Engine) GetJobStatus(ctx context.Context, jobID string) (queue.JobStatus, error) {
	return e.queue.GetJobStatus(ctx, jobID)
}

// GetFailedJobs lists jobs whose delivery failed, so a human can inspect and
// intervene.
func (e *Engine) GetFailedJobs(ctx context.Context) ([]queue.Job, error) {
	return e.queue.ListJobsByState(ctx, queue.JobStateFailed)
}

// GetRetryJobs returns the notifications currently awaiting retry.
func (e *Engine) GetRetryJobs() []retry.Job {
	return e.scheduler.Stats().Jobs
}

// GetRetryStats returns the retry-table snapshot with its cumulative
// counters.
func (e *Engine) GetRetryStats() retry.Stats {
	return e.scheduler.Stats()
}

// GetQueueStats returns the queue-side statistics snapshot.
func (e *Engine) GetQueueStats(ctx context.Context) (queue.Stats, error) {
	return e.queue.Stats(ctx)
}

// ClearFailedJobs removes every failed job record and force-abandons all
// pending retries. Returns how many records were cleared in total.
func (e *Engine) ClearFailedJobs(ctx context.Context) (int, error) {
	failed, err := e.queue.ListJobsByState(ctx, queue.JobStateFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to list failed jobs: %w", err)
	}

	cleared := 0
	for _, job := range failed {
		if err := e.queue.DeleteJob(ctx, job.ID); err != nil {
			return cleared, fmt.Errorf("failed to delete job %s: %w", job.ID, err)
		}
		cleared++
	}

	cleared += e.scheduler.Clear(ctx)
	return cleared, nil
}

// RetryFailedJob re-enqueues a failed job's notification as a fresh delivery
// and removes the old record plus any pending automatic retry, so the manual
// redelivery is the only path left. Returns the new job id.
func (e *Engine) RetryFailedJob(ctx context.Context, jobID string) (string, error) {
	job, err := e.queue.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.State != queue.JobStateFailed {
		return "", fmt.Errorf("%w: job %s is %s", ErrJobNotFailed, jobID, job.State)
	}

	newID, err := e.queue.Enqueue(ctx, job.Notification)
	if err != nil {
		return "", err
	}

	// Drop the pending automatic retry only once the manual redelivery has
	// actually taken over; a failed enqueue must leave the retry in place.
	e.scheduler.Remove(job.Notification.ID)

	if err := e.queue.DeleteJob(ctx, jobID); err != nil {
		e.log.Warn("failed to delete redelivered job record",
			slog.String("job_id", jobID), slog.String("error", err.Error()))
	}

	return newID, nil
}

// RemoveWaitingJob cancels a job that has not started delivery yet.
func (e *Engine) RemoveWaitingJob(ctx context.Context, jobID string) error {
	return e.queue.RemoveWaitingJob(ctx, jobID)
}
