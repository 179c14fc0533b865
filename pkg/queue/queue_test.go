package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/events"
	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/queue"
)

// recordingHandler captures failed notifications handed over by the queue.
type recordingHandler struct {
	mu     sync.Mutex
	jobIDs []string
	calls  []notification.Notification
	errors []error
}

func (h *recordingHandler) HandleFailure(_ context.Context, jobID string, n notification.Notification, sendErr error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobIDs = append(h.jobIDs, jobID)
	h.calls = append(h.calls, n)
	h.errors = append(h.errors, sendErr)
	return nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

func newTestQueue(t *testing.T, sender notification.Sender, opts ...queue.Option) (*queue.Queue, *queue.MemoryStorage) {
	t.Helper()

	ms := queue.NewMemoryStorage()
	base := []queue.Option{
		queue.WithWorkers(2),
		queue.WithPullInterval(5 * time.Millisecond),
		queue.WithSendTimeout(time.Second),
	}
	q, err := queue.New(ms, sender, append(base, opts...)...)
	require.NoError(t, err)
	return q, ms
}

func TestNew(t *testing.T) {
	t.Parallel()

	okSender := notification.SenderFunc(func(context.Context, notification.Notification) error { return nil })

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()
		_, err := queue.New(nil, okSender)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
	})

	t.Run("nil sender", func(t *testing.T) {
		t.Parallel()
		_, err := queue.New(queue.NewMemoryStorage(), nil)
		assert.ErrorIs(t, err, queue.ErrSenderNil)
	})
}

func TestQueue_Enqueue(t *testing.T) {
	t.Parallel()

	sender := notification.SenderFunc(func(context.Context, notification.Notification) error { return nil })

	t.Run("returns job id immediately", func(t *testing.T) {
		t.Parallel()

		q, ms := newTestQueue(t, sender)
		n := notification.New("user-1", notification.ChannelEmail, notification.PriorityMedium, "s", "c")

		jobID, err := q.Enqueue(context.Background(), n)
		require.NoError(t, err)
		require.NotEmpty(t, jobID)

		// Durably recorded before any worker runs (queue not even started).
		job, err := ms.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateWaiting, job.State)
	})

	t.Run("rejected while paused", func(t *testing.T) {
		t.Parallel()

		q, _ := newTestQueue(t, sender)
		q.Pause()

		n := notification.New("user-1", notification.ChannelEmail, notification.PriorityMedium, "s", "c")
		_, err := q.Enqueue(context.Background(), n)
		assert.ErrorIs(t, err, queue.ErrQueuePaused)
	})

	t.Run("invalid notification", func(t *testing.T) {
		t.Parallel()

		q, _ := newTestQueue(t, sender)
		n := notification.New("", notification.ChannelEmail, notification.PriorityMedium, "s", "c")
		_, err := q.Enqueue(context.Background(), n)
		assert.ErrorIs(t, err, notification.ErrMissingRecipient)
	})

	t.Run("delayed job", func(t *testing.T) {
		t.Parallel()

		q, ms := newTestQueue(t, sender)
		n := notification.New("user-1", notification.ChannelEmail, notification.PriorityMedium, "s", "c")

		jobID, err := q.Enqueue(context.Background(), n, queue.WithDelay(time.Hour))
		require.NoError(t, err)

		job, err := ms.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStateDelayed, job.State)
	})
}

// flakyRepo fails CreateJob a configured number of times before succeeding.
type flakyRepo struct {
	*queue.MemoryStorage
	failures atomic.Int32
}

func (f *flakyRepo) CreateJob(ctx context.Context, job *queue.Job) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("store hiccup")
	}
	return f.MemoryStorage.CreateJob(ctx, job)
}

func TestQueue_EnqueueStoreRetryHint(t *testing.T) {
	t.Parallel()

	sender := notification.SenderFunc(func(context.Context, notification.Notification) error { return nil })

	t.Run("retries transient store failures", func(t *testing.T) {
		t.Parallel()

		repo := &flakyRepo{MemoryStorage: queue.NewMemoryStorage()}
		repo.failures.Store(2)

		q, err := queue.New(repo, sender)
		require.NoError(t, err)

		n := notification.New("user-1", notification.ChannelEmail, notification.PriorityMedium, "s", "c")
		jobID, err := q.Enqueue(context.Background(), n,
			queue.WithStoreAttempts(3), queue.WithStoreBackoff(time.Millisecond))
		require.NoError(t, err)
		require.NotEmpty(t, jobID)
	})

	t.Run("gives up after the hint budget", func(t *testing.T) {
		t.Parallel()

		repo := &flakyRepo{MemoryStorage: queue.NewMemoryStorage()}
		repo.failures.Store(10)

		q, err := queue.New(repo, sender)
		require.NoError(t, err)

		n := notification.New("user-1", notification.ChannelEmail, notification.PriorityMedium, "s", "c")
		_, err = q.Enqueue(context.Background(), n,
			queue.WithStoreAttempts(2), queue.WithStoreBackoff(time.Millisecond))
		assert.ErrorIs(t, err, queue.ErrStorageUnavailable)
	})
}

func TestQueue_DispatchSuccess(t *testing.T) {
	t.Parallel()

	var sent atomic.Int32
	sender := notification.SenderFunc(func(_ context.Context, n notification.Notification) error {
		sent.Add(1)
		return nil
	})

	sink := audit.NewMemorySink()
	hub := events.NewDeliveryHub(16)
	t.Cleanup(func() { _ = hub.Close() })
	sub := hub.Subscribe(context.Background())

	q, ms := newTestQueue(t, sender, queue.WithAuditSink(sink), queue.WithHub(hub))
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Stop() })

	n := notification.New("user-1", notification.ChannelEmail, notification.PriorityHigh, "s", "c")
	jobID, err := q.Enqueue(context.Background(), n)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := ms.GetJob(context.Background(), jobID)
		return err == nil && job.State == queue.JobStateCompleted
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), sent.Load())

	status, err := q.GetJobStatus(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStateCompleted, status.State)
	assert.Equal(t, 1, status.AttemptsMade)
	assert.Empty(t, status.Error)

	assert.Len(t, sink.EventsByAction(audit.ActionDeliveryCompleted), 1)

	// Both enqueued and completed events were published.
	kinds := map[events.Kind]bool{}
	for range 2 {
		select {
		case ev := <-sub.Receive():
			kinds[ev.Kind] = true
		case <-time.After(time.Second):
			t.Fatal("missing delivery event")
		}
	}
	assert.True(t, kinds[events.KindEnqueued])
	assert.True(t, kinds[events.KindCompleted])
}

func TestQueue_DispatchFailure(t *testing.T) {
	t.Parallel()

	sendErr := errors.New("smtp unavailable")
	sender := notification.SenderFunc(func(context.Context, notification.Notification) error {
		return sendErr
	})

	handler := &recordingHandler{}
	sink := audit.NewMemorySink()

	q, ms := newTestQueue(t, sender, queue.WithAuditSink(sink), queue.WithFailureHandler(handler))
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Stop() })

	n := notification.New("user-1", notification.ChannelSMS, notification.PriorityMedium, "s", "c")
	jobID, err := q.Enqueue(context.Background(), n)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return handler.count() == 1
	}, 2*time.Second, 10*time.Millisecond)

	job, err := ms.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStateFailed, job.State)
	require.NotNil(t, job.FailureReason)
	assert.Equal(t, "smtp unavailable", *job.FailureReason)

	handler.mu.Lock()
	assert.Equal(t, jobID, handler.jobIDs[0])
	assert.Equal(t, n.ID, handler.calls[0].ID)
	assert.Equal(t, sendErr, handler.errors[0])
	handler.mu.Unlock()

	assert.Len(t, sink.EventsByAction(audit.ActionDeliveryFailed), 1)
}

func TestQueue_SendTimeoutIsFailure(t *testing.T) {
	t.Parallel()

	sender := notification.SenderFunc(func(ctx context.Context, _ notification.Notification) error {
		<-ctx.Done()
		return ctx.Err()
	})

	handler := &recordingHandler{}
	q, ms := newTestQueue(t, sender,
		queue.WithFailureHandler(handler),
		queue.WithSendTimeout(20*time.Millisecond))
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Stop() })

	n := notification.New("user-1", notification.ChannelPush, notification.PriorityUrgent, "s", "c")
	jobID, err := q.Enqueue(context.Background(), n)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, err := ms.GetJob(context.Background(), jobID)
		return err == nil && job.State == queue.JobStateFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, handler.count())
}

func TestQueue_PauseResume(t *testing.T) {
	t.Parallel()

	var sent atomic.Int32
	sender := notification.SenderFunc(func(context.Context, notification.Notification) error {
		sent.Add(1)
		return nil
	})

	q, ms := newTestQueue(t, sender)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Stop() })

	q.Pause()
	assert.True(t, q.Paused())

	// Jobs created directly in the store while paused stay waiting.
	job := newJob(t, notification.ChannelEmail, notification.PriorityMedium)
	require.NoError(t, ms.CreateJob(context.Background(), job))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), sent.Load(), "paused queue must not dispatch")

	q.Resume()
	require.Eventually(t, func() bool {
		got, err := ms.GetJob(context.Background(), job.ID)
		return err == nil && got.State == queue.JobStateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_GetJobStatusNotFound(t *testing.T) {
	t.Parallel()

	sender := notification.SenderFunc(func(context.Context, notification.Notification) error { return nil })
	q, _ := newTestQueue(t, sender)

	_, err := q.GetJobStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, queue.ErrJobNotFound)
}

func TestQueue_RemoveWaitingJob(t *testing.T) {
	t.Parallel()

	sender := notification.SenderFunc(func(context.Context, notification.Notification) error { return nil })
	q, ms := newTestQueue(t, sender)
	ctx := context.Background()

	t.Run("removes waiting job", func(t *testing.T) {
		n := notification.New("user-1", notification.ChannelEmail, notification.PriorityMedium, "s", "c")
		jobID, err := q.Enqueue(ctx, n)
		require.NoError(t, err)

		require.NoError(t, q.RemoveWaitingJob(ctx, jobID))
		_, err = q.GetJobStatus(ctx, jobID)
		assert.ErrorIs(t, err, queue.ErrJobNotFound)
	})

	t.Run("rejects non-waiting job", func(t *testing.T) {
		job := newJob(t, notification.ChannelEmail, notification.PriorityMedium)
		require.NoError(t, ms.CreateJob(ctx, job))

		_, err := ms.ClaimJob(ctx)
		require.NoError(t, err)

		assert.ErrorIs(t, q.RemoveWaitingJob(ctx, job.ID), queue.ErrJobNotRemovable)
	})
}

func TestQueue_Lifecycle(t *testing.T) {
	t.Parallel()

	sender := notification.SenderFunc(func(context.Context, notification.Notification) error { return nil })
	q, _ := newTestQueue(t, sender)

	assert.ErrorIs(t, q.Stop(), queue.ErrNotStarted)

	require.NoError(t, q.Start(context.Background()))
	assert.ErrorIs(t, q.Start(context.Background()), queue.ErrAlreadyStarted)

	require.NoError(t, q.Stop())
	require.NoError(t, q.Start(context.Background()))
	require.NoError(t, q.Stop())
}
