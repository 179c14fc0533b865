package audit_test

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/audit"
)

func TestNewEvent(t *testing.T) {
	t.Parallel()

	e := audit.NewEvent(audit.ActionRetryAbandoned, "notification", "n-1", audit.StatusFailure)

	require.NotEmpty(t, e.ID)
	assert.Equal(t, audit.ActionRetryAbandoned, e.Action)
	assert.Equal(t, "notification", e.EntityType)
	assert.Equal(t, "n-1", e.EntityID)
	assert.Equal(t, audit.StatusFailure, e.Status)
	assert.False(t, e.CreatedAt.IsZero())
}

func TestEvent_WithDetail(t *testing.T) {
	t.Parallel()

	base := audit.NewEvent("a", "t", "1", audit.StatusSuccess)
	first := base.WithDetail("k", "v1")
	second := base.WithDetail("k", "v2")

	assert.Equal(t, "v1", first.Details["k"])
	assert.Equal(t, "v2", second.Details["k"])
	assert.Empty(t, base.Details, "template must stay untouched")
}

func TestSlogSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	sink := audit.NewSlogSink(logger)
	sink.LogEvent(context.Background(), audit.NewEvent(
		audit.ActionDeliveryFailed, "notification", "n-7", audit.StatusFailure,
	).WithError("gateway timeout"))

	out := buf.String()
	assert.Contains(t, out, audit.ActionDeliveryFailed)
	assert.Contains(t, out, "n-7")
	assert.Contains(t, out, "gateway timeout")
	assert.Contains(t, out, "WARN")
}

func TestMemorySink(t *testing.T) {
	t.Parallel()

	sink := audit.NewMemorySink()
	ctx := context.Background()

	sink.LogEvent(ctx, audit.NewEvent(audit.ActionRetrySucceeded, "notification", "n-1", audit.StatusSuccess))
	sink.LogEvent(ctx, audit.NewEvent(audit.ActionRetryAbandoned, "notification", "n-2", audit.StatusFailure))

	assert.Len(t, sink.Events(), 2)
	assert.Len(t, sink.EventsByAction(audit.ActionRetryAbandoned), 1)

	sink.Reset()
	assert.Empty(t, sink.Events())
}

func TestAsyncSink(t *testing.T) {
	t.Parallel()

	t.Run("delivers and flushes on close", func(t *testing.T) {
		t.Parallel()

		mem := audit.NewMemorySink()
		async := audit.NewAsyncSink(mem, 16)

		for range 10 {
			async.LogEvent(context.Background(), audit.NewEvent("a", "t", "1", audit.StatusSuccess))
		}

		require.NoError(t, async.Close())
		assert.Len(t, mem.Events(), 10)
	})

	t.Run("never blocks the producer", func(t *testing.T) {
		t.Parallel()

		// Downstream sink that blocks forever until released.
		release := make(chan struct{})
		var once sync.Once
		blocking := audit.SinkFunc(func(context.Context, audit.Event) {
			once.Do(func() { <-release })
		})

		async := audit.NewAsyncSink(blocking, 1)
		defer close(release)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 100 {
				async.LogEvent(context.Background(), audit.NewEvent("a", "t", "1", audit.StatusSuccess))
			}
		}()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("producer blocked on audit sink")
		}
	})

	t.Run("close is idempotent", func(t *testing.T) {
		t.Parallel()

		async := audit.NewAsyncSink(audit.NoopSink{}, 4)
		require.NoError(t, async.Close())
		require.NoError(t, async.Close())
	})
}
