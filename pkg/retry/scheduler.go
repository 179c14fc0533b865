package retry

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/events"
	"github.com/dmitrymomot/notifykit/pkg/logger"
	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// OutcomeRecorder feeds retry-sweep send attempts into the shared hourly
// statistics. The queue's job repository satisfies it.
type OutcomeRecorder interface {
	RecordSendOutcome(ctx context.Context, at time.Time, success bool) error
}

// JobSettler re-settles the delivery-queue job record once a retry resolves:
// completed when a retry finally lands, failed with the terminal reason on
// abandonment. The queue's job repository satisfies it.
type JobSettler interface {
	CompleteJob(ctx context.Context, jobID string) error
	FailJob(ctx context.Context, jobID string, reason string) error
}

// Scheduler owns the "will we try again, and when" decision for failed
// deliveries. It keeps the retry table, computes backoff, and runs a periodic
// sweep that re-invokes the channel sender directly, not through the
// delivery queue, so the attempt counter keeps its meaning.
//
// The sweep loop runs only while the retry table is non-empty: it stops
// itself when the table drains and restarts on the next Add.
type Scheduler struct {
	cfg      Config
	sender   notification.Sender
	recorder OutcomeRecorder
	settler  JobSettler
	hub      *events.DeliveryHub
	auditor  audit.Sink
	log      *slog.Logger

	sweepInterval time.Duration
	sendTimeout   time.Duration

	mu       sync.Mutex
	jobs     map[string]*Job // keyed by notification id
	sweeping bool
	stopped  bool

	totalAttempts  int
	retriedCount   int
	abandonedCount int

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a retry scheduler. The configuration is validated here; invalid
// backoff parameters fail construction rather than the first sweep.
func New(sender notification.Sender, cfg Config, opts ...Option) (*Scheduler, error) {
	if sender == nil {
		return nil, ErrSenderNil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		cfg:           cfg,
		sender:        sender,
		recorder:      options.recorder,
		settler:       options.settler,
		hub:           options.hub,
		auditor:       options.auditor,
		log:           options.logger,
		sweepInterval: options.sweepInterval,
		sendTimeout:   options.sendTimeout,
		jobs:          make(map[string]*Job),
		done:          make(chan struct{}),
	}, nil
}

// HandleFailure implements the delivery queue's FailureHandler.
func (s *Scheduler) HandleFailure(ctx context.Context, jobID string, n notification.Notification, sendErr error) error {
	s.Add(ctx, jobID, n, sendErr)
	return nil
}

// Add registers a failed notification for retry. On first failure the job is
// created with attempts=1 and the next attempt scheduled after the initial
// delay. With a budget of one attempt the first failure is already terminal,
// so the notification goes straight to the abandonment trail without ever
// entering the retry table. A notification fails at most once per delivery
// cycle, so a repeated Add for a pending job is unexpected; it is handled
// defensively by updating the last error and leaving the attempt counter and
// schedule untouched.
func (s *Scheduler) Add(ctx context.Context, jobID string, n notification.Notification, sendErr error) {
	errMsg := "Unknown error"
	if sendErr != nil {
		errMsg = sendErr.Error()
	}

	now := time.Now()

	s.mu.Lock()
	if existing, ok := s.jobs[n.ID]; ok {
		existing.LastError = errMsg
		s.mu.Unlock()
		s.log.Warn("duplicate retry registration",
			logger.NotificationID(n.ID))
		return
	}

	if s.cfg.MaxAttempts <= 1 {
		s.abandonedCount++
		s.mu.Unlock()

		terminal := Job{
			Notification: n,
			JobID:        jobID,
			Attempts:     1,
			LastError:    errMsg,
			LastFailedAt: now,
		}
		s.settleQueueJob(jobID, false, errMsg)
		s.abandonmentTrail(ctx, &terminal, errMsg)

		s.log.Error("retry abandoned: budget exhausted",
			logger.NotificationID(n.ID),
			logger.Channel(string(n.Channel)),
			logger.Attempt(1),
			slog.Int("max_attempts", s.cfg.MaxAttempts))
		return
	}

	job := &Job{
		Notification:  n,
		JobID:         jobID,
		Attempts:      1,
		NextAttemptAt: now.Add(s.cfg.Delay(1)),
		LastError:     errMsg,
		LastFailedAt:  now,
	}
	s.jobs[n.ID] = job
	s.totalAttempts++
	s.retriedCount++
	s.ensureSweepLocked()
	next := job.NextAttemptAt
	s.mu.Unlock()

	s.publish(events.DeliveryEvent{
		Kind:           events.KindRetryScheduled,
		JobID:          jobID,
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		Attempts:       1,
		Error:          errMsg,
		OccurredAt:     now,
	})

	s.log.Info("retry scheduled",
		logger.NotificationID(n.ID),
		logger.Channel(string(n.Channel)),
		logger.Attempt(1),
		slog.Time("next_attempt_at", next))
}

// Stats returns a consistent snapshot of the retry table. Safe to call
// concurrently with the sweep; a job's attempts and schedule are always
// observed together.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		QueueSize:            len(s.jobs),
		Jobs:                 make([]Job, 0, len(s.jobs)),
		TotalAttempts:        s.totalAttempts,
		RetriedNotifications: s.retriedCount,
		Abandoned:            s.abandonedCount,
	}
	for _, job := range s.jobs {
		jobCopy := *job
		jobCopy.Notification.Metadata = job.Notification.Metadata.Clone()
		stats.Jobs = append(stats.Jobs, jobCopy)
	}
	sort.Slice(stats.Jobs, func(i, j int) bool {
		return stats.Jobs[i].LastFailedAt.After(stats.Jobs[j].LastFailedAt)
	})

	return stats
}

// Remove drops a pending retry job without auditing an abandonment. Used
// when a manual redelivery takes over responsibility for the notification.
// Reports whether a job was present.
func (s *Scheduler) Remove(notificationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[notificationID]; !ok {
		return false
	}
	delete(s.jobs, notificationID)
	return true
}

// Clear force-abandons every pending retry job and lets the sweep loop stop.
// Each abandonment is audited: administrative resets must not silently lose
// the trail.
func (s *Scheduler) Clear(ctx context.Context) int {
	s.mu.Lock()
	dropped := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		dropped = append(dropped, job)
	}
	s.jobs = make(map[string]*Job)
	s.abandonedCount += len(dropped)
	s.mu.Unlock()

	for _, job := range dropped {
		s.abandonmentTrail(ctx, job, "cleared by administrative reset")
	}

	if len(dropped) > 0 {
		s.log.Info("retry queue cleared", slog.Int("abandoned", len(dropped)))
	}
	return len(dropped)
}

// Stop terminates the sweep loop and waits for in-flight retry sends to
// finish. Pending jobs stay in the table; a stopped scheduler does not
// restart sweeping.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
}

// ensureSweepLocked starts the sweep goroutine if it is not running.
// Must be called with s.mu held.
func (s *Scheduler) ensureSweepLocked() {
	if s.sweeping || s.stopped {
		return
	}
	s.sweeping = true
	s.wg.Add(1)
	go s.sweep()
}

func (s *Scheduler) sweep() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			s.mu.Lock()
			s.sweeping = false
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.processDue()

			// Exit when the table drained. The emptiness check and the
			// sweeping flag share one critical section with Add, so a job
			// added during shutdown of the loop still gets a sweeper.
			s.mu.Lock()
			if len(s.jobs) == 0 {
				s.sweeping = false
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
		}
	}
}

// processDue retries every job whose next attempt is due.
func (s *Scheduler) processDue() {
	now := time.Now()

	s.mu.Lock()
	due := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if !job.NextAttemptAt.After(now) {
			due = append(due, *job)
		}
	}
	s.mu.Unlock()

	for _, job := range due {
		s.attempt(job)
	}
}

// attempt re-invokes the channel sender for one due job and settles the
// outcome.
func (s *Scheduler) attempt(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
	err := s.sender.Send(ctx, job.Notification)
	cancel()

	now := time.Now()
	s.recordOutcome(now, err == nil)

	n := job.Notification

	if err == nil {
		s.mu.Lock()
		delete(s.jobs, n.ID)
		s.mu.Unlock()

		s.settleQueueJob(job.JobID, true, "")

		s.publish(events.DeliveryEvent{
			Kind:           events.KindRetrySucceeded,
			JobID:          job.JobID,
			NotificationID: n.ID,
			Channel:        n.Channel,
			Priority:       n.Priority,
			Attempts:       job.Attempts,
			OccurredAt:     now,
		})
		s.auditor.LogEvent(context.Background(), audit.NewEvent(
			audit.ActionRetrySucceeded, "notification", n.ID, audit.StatusSuccess,
		).WithDetail("attempts", strconv.Itoa(job.Attempts)))

		s.log.Info("retry succeeded",
			logger.NotificationID(n.ID),
			logger.Channel(string(n.Channel)),
			logger.Attempt(job.Attempts))
		return
	}

	s.mu.Lock()
	live, ok := s.jobs[n.ID]
	if !ok {
		// Cleared concurrently; the abandonment trail was already written.
		s.mu.Unlock()
		return
	}

	if live.Attempts+1 >= s.cfg.MaxAttempts {
		delete(s.jobs, n.ID)
		s.abandonedCount++
		abandoned := *live
		abandoned.LastError = err.Error()
		s.mu.Unlock()

		s.settleQueueJob(abandoned.JobID, false, err.Error())
		s.abandonmentTrail(context.Background(), &abandoned, err.Error())

		s.log.Error("retry abandoned: budget exhausted",
			logger.NotificationID(n.ID),
			logger.Channel(string(n.Channel)),
			logger.Attempt(abandoned.Attempts),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
			logger.Error(err))
		return
	}

	live.Attempts++
	live.NextAttemptAt = now.Add(s.cfg.Delay(live.Attempts))
	live.LastError = err.Error()
	live.LastFailedAt = now
	s.totalAttempts++
	attempts := live.Attempts
	next := live.NextAttemptAt
	s.mu.Unlock()

	s.publish(events.DeliveryEvent{
		Kind:           events.KindRetryRescheduled,
		JobID:          job.JobID,
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		Attempts:       attempts,
		Error:          err.Error(),
		OccurredAt:     now,
	})
	s.auditor.LogEvent(context.Background(), audit.NewEvent(
		audit.ActionRetryRescheduled, "notification", n.ID, audit.StatusFailure,
	).WithDetail("attempts", strconv.Itoa(attempts)).WithError(err.Error()))

	s.log.Warn("retry rescheduled",
		logger.NotificationID(n.ID),
		logger.Channel(string(n.Channel)),
		logger.Attempt(attempts),
		slog.Time("next_attempt_at", next),
		logger.Error(err))
}

// abandonmentTrail emits the terminal audit event and delivery event for a
// permanently failed notification.
func (s *Scheduler) abandonmentTrail(ctx context.Context, job *Job, reason string) {
	n := job.Notification

	s.publish(events.DeliveryEvent{
		Kind:           events.KindRetryAbandoned,
		JobID:          job.JobID,
		NotificationID: n.ID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		Attempts:       job.Attempts,
		Error:          reason,
		OccurredAt:     time.Now(),
	})
	s.auditor.LogEvent(ctx, audit.NewEvent(
		audit.ActionRetryAbandoned, "notification", n.ID, audit.StatusFailure,
	).WithDetail("attempts", strconv.Itoa(job.Attempts)).WithError(reason))
}

// settleQueueJob updates the delivery-queue record to reflect the retry's
// terminal outcome. Best effort: the retry table, not the queue record, is
// authoritative for retry state.
func (s *Scheduler) settleQueueJob(jobID string, success bool, reason string) {
	if s.settler == nil || jobID == "" {
		return
	}

	var err error
	if success {
		err = s.settler.CompleteJob(context.Background(), jobID)
	} else {
		err = s.settler.FailJob(context.Background(), jobID, reason)
	}
	if err != nil {
		s.log.Warn("failed to settle queue job after retry",
			logger.JobID(jobID), logger.Error(err))
	}
}

func (s *Scheduler) recordOutcome(at time.Time, success bool) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.RecordSendOutcome(context.Background(), at, success); err != nil {
		s.log.Warn("failed to record retry outcome", logger.Error(err))
	}
}

func (s *Scheduler) publish(event events.DeliveryEvent) {
	if s.hub != nil {
		s.hub.Publish(event)
	}
}
