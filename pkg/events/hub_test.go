package events_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notifykit/pkg/events"
	"github.com/dmitrymomot/notifykit/pkg/notification"
)

func TestHub_PublishSubscribe(t *testing.T) {
	t.Parallel()

	hub := events.NewDeliveryHub(8)
	t.Cleanup(func() { _ = hub.Close() })

	sub := hub.Subscribe(context.Background())

	hub.Publish(events.DeliveryEvent{
		Kind:           events.KindCompleted,
		NotificationID: "n-1",
		Channel:        notification.ChannelEmail,
	})

	select {
	case ev := <-sub.Receive():
		assert.Equal(t, events.KindCompleted, ev.Kind)
		assert.Equal(t, "n-1", ev.NotificationID)
	case <-time.After(time.Second):
		t.Fatal("event not received")
	}
}

func TestHub_MultipleSubscribers(t *testing.T) {
	t.Parallel()

	hub := events.NewHub[int](4)
	t.Cleanup(func() { _ = hub.Close() })

	a := hub.Subscribe(context.Background())
	b := hub.Subscribe(context.Background())

	hub.Publish(7)

	for _, sub := range []events.Subscriber[int]{a, b} {
		select {
		case v := <-sub.Receive():
			assert.Equal(t, 7, v)
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	hub := events.NewHub[int](1)
	t.Cleanup(func() { _ = hub.Close() })

	// Never drained; its buffer fills after one event.
	_ = hub.Subscribe(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 100 {
			hub.Publish(i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	t.Parallel()

	hub := events.NewHub[int](1)
	t.Cleanup(func() { _ = hub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	sub := hub.Subscribe(ctx)
	cancel()

	// The receive channel is closed once cleanup runs.
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.Receive():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestHub_Close(t *testing.T) {
	t.Parallel()

	hub := events.NewHub[int](1)
	sub := hub.Subscribe(context.Background())

	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, ok := <-sub.Receive()
	assert.False(t, ok)

	// Subscribing after close yields a closed subscriber.
	late := hub.Subscribe(context.Background())
	_, ok = <-late.Receive()
	assert.False(t, ok)

	// Publishing after close is a no-op.
	hub.Publish(1)
}

func TestHub_CloseWithLiveSubscriberContext(t *testing.T) {
	t.Parallel()

	hub := events.NewHub[int](1)

	// The subscriber context stays live past Close; Close must not wait for
	// it to be cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := hub.Subscribe(ctx)

	closed := make(chan struct{})
	go func() {
		_ = hub.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("hub close blocked on a subscriber context that outlives it")
	}

	_, ok := <-sub.Receive()
	assert.False(t, ok)
}
