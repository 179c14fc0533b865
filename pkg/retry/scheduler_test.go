package retry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/events"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// scriptedSender fails the first failures sends and succeeds afterwards.
type scriptedSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
}

func (s *scriptedSender) Send(_ context.Context, _ notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	return nil
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingRecorder struct {
	mu        sync.Mutex
	successes int
	failures  int
}

func (r *countingRecorder) RecordSendOutcome(_ context.Context, _ time.Time, success bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if success {
		r.successes++
	} else {
		r.failures++
	}
	return nil
}

func (r *countingRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successes, r.failures
}

type recordingSettler struct {
	mu        sync.Mutex
	completed []string
	failed    map[string]string
}

func (r *recordingSettler) CompleteJob(_ context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, jobID)
	return nil
}

func (r *recordingSettler) FailJob(_ context.Context, jobID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failed == nil {
		r.failed = make(map[string]string)
	}
	r.failed[jobID] = reason
	return nil
}

func (r *recordingSettler) snapshot() ([]string, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	completed := append([]string(nil), r.completed...)
	failed := make(map[string]string, len(r.failed))
	for k, v := range r.failed {
		failed[k] = v
	}
	return completed, failed
}

// fastConfig keeps sweep-driven tests quick without touching abandonment
// semantics.
func fastConfig(maxAttempts int) retry.Config {
	return retry.Config{
		MaxAttempts:   maxAttempts,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func newNotification(t *testing.T) notification.Notification {
	t.Helper()
	return notification.New("user-1", notification.ChannelEmail, notification.PriorityHigh, "subject", "content")
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil sender", func(t *testing.T) {
		t.Parallel()

		_, err := retry.New(nil, retry.DefaultConfig())
		require.ErrorIs(t, err, retry.ErrSenderNil)
	})

	t.Run("invalid config fails fast", func(t *testing.T) {
		t.Parallel()

		cfg := retry.DefaultConfig()
		cfg.MaxAttempts = 0
		_, err := retry.New(&scriptedSender{}, cfg)
		require.ErrorIs(t, err, retry.ErrInvalidConfig)
	})
}

func TestScheduler_Add(t *testing.T) {
	t.Parallel()

	t.Run("schedules first retry after initial delay", func(t *testing.T) {
		t.Parallel()

		cfg := retry.DefaultConfig()
		s, err := retry.New(&scriptedSender{}, cfg)
		require.NoError(t, err)
		defer s.Stop()

		n := newNotification(t)
		before := time.Now()
		s.Add(context.Background(), "job-1", n, errors.New("smtp timeout"))

		stats := s.Stats()
		require.Equal(t, 1, stats.QueueSize)
		require.Len(t, stats.Jobs, 1)

		job := stats.Jobs[0]
		assert.Equal(t, n.ID, job.Notification.ID)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, "smtp timeout", job.LastError)
		assert.WithinDuration(t, before.Add(cfg.InitialDelay), job.NextAttemptAt, 200*time.Millisecond)
		assert.Equal(t, 1, stats.TotalAttempts)
		assert.Equal(t, 1, stats.RetriedNotifications)
	})

	t.Run("duplicate registration only refreshes error", func(t *testing.T) {
		t.Parallel()

		s, err := retry.New(&scriptedSender{}, retry.DefaultConfig())
		require.NoError(t, err)
		defer s.Stop()

		n := newNotification(t)
		s.Add(context.Background(), "job-1", n, errors.New("first"))
		first := s.Stats().Jobs[0]

		s.Add(context.Background(), "job-1", n, errors.New("second"))

		stats := s.Stats()
		require.Equal(t, 1, stats.QueueSize)
		job := stats.Jobs[0]
		assert.Equal(t, "second", job.LastError)
		assert.Equal(t, 1, job.Attempts)
		assert.Equal(t, first.NextAttemptAt, job.NextAttemptAt)
		assert.Equal(t, 1, stats.TotalAttempts)
	})

	t.Run("publishes retry scheduled event", func(t *testing.T) {
		t.Parallel()

		hub := events.NewDeliveryHub(8)
		defer hub.Close()
		sub := hub.Subscribe(context.Background())
		defer sub.Close()

		s, err := retry.New(&scriptedSender{}, retry.DefaultConfig(), retry.WithHub(hub))
		require.NoError(t, err)
		defer s.Stop()

		n := newNotification(t)
		s.Add(context.Background(), "job-1", n, errors.New("boom"))

		select {
		case ev := <-sub.Receive():
			assert.Equal(t, events.KindRetryScheduled, ev.Kind)
			assert.Equal(t, n.ID, ev.NotificationID)
			assert.Equal(t, 1, ev.Attempts)
			assert.Equal(t, "boom", ev.Error)
		case <-time.After(time.Second):
			t.Fatal("expected retry scheduled event")
		}
	})
}

func TestScheduler_RetrySucceeds(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{failures: 0}
	sink := audit.NewMemorySink()
	recorder := &countingRecorder{}
	settler := &recordingSettler{}

	s, err := retry.New(sender, fastConfig(3),
		retry.WithSweepInterval(5*time.Millisecond),
		retry.WithAuditSink(sink),
		retry.WithOutcomeRecorder(recorder),
		retry.WithJobSettler(settler),
	)
	require.NoError(t, err)
	defer s.Stop()

	n := newNotification(t)
	s.Add(context.Background(), "job-1", n, errors.New("temporary outage"))

	require.Eventually(t, func() bool {
		return s.Stats().QueueSize == 0
	}, time.Second, 5*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, 1, stats.TotalAttempts)
	assert.Equal(t, 1, stats.RetriedNotifications)
	assert.Equal(t, 0, stats.Abandoned)
	assert.Equal(t, 1, sender.callCount())

	succeeded := sink.EventsByAction(audit.ActionRetrySucceeded)
	require.Len(t, succeeded, 1)
	assert.Equal(t, n.ID, succeeded[0].EntityID)
	assert.Equal(t, audit.StatusSuccess, succeeded[0].Status)

	successes, failures := recorder.counts()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, failures)

	completed, failedJobs := settler.snapshot()
	assert.Equal(t, []string{"job-1"}, completed)
	assert.Empty(t, failedJobs)
}

func TestScheduler_FailTwiceSucceedThird(t *testing.T) {
	t.Parallel()

	// One retry send fails, the next succeeds. Together with the original
	// delivery failure the notification needed three attempts in total.
	sender := &scriptedSender{failures: 1, err: errors.New("still down")}
	sink := audit.NewMemorySink()
	recorder := &countingRecorder{}

	s, err := retry.New(sender, fastConfig(3),
		retry.WithSweepInterval(5*time.Millisecond),
		retry.WithAuditSink(sink),
		retry.WithOutcomeRecorder(recorder),
	)
	require.NoError(t, err)
	defer s.Stop()

	n := newNotification(t)
	s.Add(context.Background(), "job-1", n, errors.New("initial failure"))

	require.Eventually(t, func() bool {
		return s.Stats().QueueSize == 0
	}, 2*time.Second, 5*time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, 2, stats.TotalAttempts)
	assert.Equal(t, 1, stats.RetriedNotifications)
	assert.Equal(t, 0, stats.Abandoned)
	assert.Equal(t, 2, sender.callCount())

	require.Len(t, sink.EventsByAction(audit.ActionRetryRescheduled), 1)
	require.Len(t, sink.EventsByAction(audit.ActionRetrySucceeded), 1)
	assert.Empty(t, sink.EventsByAction(audit.ActionRetryAbandoned))

	successes, failures := recorder.counts()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)
}

func TestScheduler_SingleAttemptBudget(t *testing.T) {
	t.Parallel()

	// With one total attempt allowed the original delivery failure is already
	// terminal: no retry may be scheduled and the sender must not be invoked
	// again.
	sender := &scriptedSender{failures: 1000, err: errors.New("hard down")}
	sink := audit.NewMemorySink()
	settler := &recordingSettler{}

	s, err := retry.New(sender, fastConfig(1),
		retry.WithSweepInterval(5*time.Millisecond),
		retry.WithAuditSink(sink),
		retry.WithJobSettler(settler),
	)
	require.NoError(t, err)
	defer s.Stop()

	n := newNotification(t)
	s.Add(context.Background(), "job-1", n, errors.New("channel down"))

	// Let any wrongly started sweep fire before asserting.
	time.Sleep(50 * time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, 0, stats.QueueSize)
	assert.Equal(t, 1, stats.Abandoned)
	assert.Equal(t, 0, stats.RetriedNotifications)
	assert.Equal(t, 0, sender.callCount(), "sender must not be re-invoked past the budget")

	abandoned := sink.EventsByAction(audit.ActionRetryAbandoned)
	require.Len(t, abandoned, 1)
	assert.Equal(t, n.ID, abandoned[0].EntityID)
	assert.Equal(t, "channel down", abandoned[0].Error)
	assert.Equal(t, "1", abandoned[0].Details["attempts"])

	completed, failedJobs := settler.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, map[string]string{"job-1": "channel down"}, failedJobs)
}

func TestScheduler_Abandonment(t *testing.T) {
	t.Parallel()

	sender := &scriptedSender{failures: 1000, err: errors.New("hard down")}
	sink := audit.NewMemorySink()
	settler := &recordingSettler{}

	hub := events.NewDeliveryHub(8)
	defer hub.Close()
	sub := hub.Subscribe(context.Background())
	defer sub.Close()

	s, err := retry.New(sender, fastConfig(2),
		retry.WithSweepInterval(5*time.Millisecond),
		retry.WithAuditSink(sink),
		retry.WithHub(hub),
		retry.WithJobSettler(settler),
	)
	require.NoError(t, err)
	defer s.Stop()

	n := newNotification(t)
	s.Add(context.Background(), "job-1", n, errors.New("initial failure"))

	require.Eventually(t, func() bool {
		return s.Stats().Abandoned == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Give a trailing sweep a chance to misbehave before asserting.
	time.Sleep(50 * time.Millisecond)

	stats := s.Stats()
	assert.Equal(t, 0, stats.QueueSize)
	assert.Equal(t, 1, stats.Abandoned)
	assert.Equal(t, 1, sender.callCount())

	abandoned := sink.EventsByAction(audit.ActionRetryAbandoned)
	require.Len(t, abandoned, 1)
	assert.Equal(t, n.ID, abandoned[0].EntityID)
	assert.Equal(t, audit.StatusFailure, abandoned[0].Status)
	assert.Equal(t, "hard down", abandoned[0].Error)

	completed, failedJobs := settler.snapshot()
	assert.Empty(t, completed)
	assert.Equal(t, map[string]string{"job-1": "hard down"}, failedJobs)

	var sawAbandoned bool
	for done := false; !done; {
		select {
		case ev := <-sub.Receive():
			if ev.Kind == events.KindRetryAbandoned {
				sawAbandoned = true
				done = true
			}
		case <-time.After(500 * time.Millisecond):
			done = true
		}
	}
	assert.True(t, sawAbandoned, "expected retry abandoned event on the hub")
}

func TestScheduler_Clear(t *testing.T) {
	t.Parallel()

	sink := audit.NewMemorySink()

	// Long delays keep the sweep from firing before Clear runs.
	cfg := retry.Config{
		MaxAttempts:   3,
		InitialDelay:  time.Hour,
		MaxDelay:      2 * time.Hour,
		BackoffFactor: 2,
	}
	s, err := retry.New(&scriptedSender{}, cfg, retry.WithAuditSink(sink))
	require.NoError(t, err)
	defer s.Stop()

	first := newNotification(t)
	second := newNotification(t)
	s.Add(context.Background(), "job-1", first, errors.New("one"))
	s.Add(context.Background(), "job-2", second, errors.New("two"))
	require.Equal(t, 2, s.Stats().QueueSize)

	cleared := s.Clear(context.Background())
	assert.Equal(t, 2, cleared)

	stats := s.Stats()
	assert.Equal(t, 0, stats.QueueSize)
	assert.Equal(t, 2, stats.Abandoned)
	assert.Equal(t, 2, stats.RetriedNotifications)

	abandoned := sink.EventsByAction(audit.ActionRetryAbandoned)
	require.Len(t, abandoned, 2)
	for _, e := range abandoned {
		assert.Equal(t, audit.StatusFailure, e.Status)
	}

	assert.Equal(t, 0, s.Clear(context.Background()))
}

func TestScheduler_Stop(t *testing.T) {
	t.Parallel()

	s, err := retry.New(&scriptedSender{}, fastConfig(3),
		retry.WithSweepInterval(5*time.Millisecond))
	require.NoError(t, err)

	s.Add(context.Background(), "job-1", newNotification(t), errors.New("boom"))

	s.Stop()
	s.Stop() // idempotent
}
