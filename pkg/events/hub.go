package events

import (
	"context"
	"sync"
)

// Subscriber receives events published on a Hub.
// Implementations must be safe for concurrent use.
type Subscriber[T any] interface {
	// Receive returns the channel on which published events arrive.
	Receive() <-chan T

	// Close closes the subscriber and releases resources. After Close the
	// receive channel is closed. Close is idempotent.
	Close() error
}

type subscriber[T any] struct {
	ch     chan T
	closed bool
	mu     sync.RWMutex
}

func newSubscriber[T any](bufferSize int) *subscriber[T] {
	return &subscriber[T]{ch: make(chan T, bufferSize)}
}

func (s *subscriber[T]) Receive() <-chan T {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

func (s *subscriber[T]) send(event T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// Hub is an in-process, typed publish/subscribe channel between the delivery
// components and their observers. Publishing is non-blocking: when a
// subscriber's buffer is full the event is dropped for that subscriber rather
// than stalling the publisher, so a slow observer can never slow a delivery.
// All methods are safe for concurrent use.
type Hub[T any] struct {
	subscribers map[*subscriber[T]]struct{}
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
	cleanupWg   sync.WaitGroup
	done        chan struct{}
}

// NewHub creates a hub whose subscribers buffer up to bufferSize events.
// A minimum buffer size of 1 is enforced.
func NewHub[T any](bufferSize int) *Hub[T] {
	return &Hub[T]{
		subscribers: make(map[*subscriber[T]]struct{}),
		bufferSize:  max(bufferSize, 1),
		done:        make(chan struct{}),
	}
}

// Subscribe registers a new subscriber. The subscription is removed when the
// provided context is cancelled. Subscribing to a closed hub returns an
// already-closed subscriber.
func (h *Hub[T]) Subscribe(ctx context.Context) Subscriber[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		sub := newSubscriber[T](h.bufferSize)
		_ = sub.Close()
		return sub
	}

	sub := newSubscriber[T](h.bufferSize)
	h.subscribers[sub] = struct{}{}

	if ctx.Done() != nil {
		h.cleanupWg.Add(1)
		go func() {
			defer h.cleanupWg.Done()
			// Closing the hub must not wait on subscriber contexts that
			// outlive it.
			select {
			case <-ctx.Done():
				h.unsubscribe(sub)
			case <-h.done:
			}
		}()
	}

	return sub
}

// Publish delivers the event to all active subscribers without blocking.
// Subscribers whose buffers are full miss the event and are removed.
func (h *Hub[T]) Publish(event T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}

	for sub := range h.subscribers {
		if !sub.send(event) {
			go h.unsubscribe(sub)
		}
	}
}

// Close shuts down the hub and closes all subscribers. Safe to call multiple
// times; publishes after Close are no-ops.
func (h *Hub[T]) Close() error {
	h.mu.Lock()

	if h.closed {
		h.mu.Unlock()
		return nil
	}

	h.closed = true
	for sub := range h.subscribers {
		_ = sub.Close()
	}
	h.subscribers = make(map[*subscriber[T]]struct{})
	h.mu.Unlock()

	close(h.done)
	h.cleanupWg.Wait()
	return nil
}

func (h *Hub[T]) unsubscribe(sub *subscriber[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subscribers[sub]; ok {
		delete(h.subscribers, sub)
		_ = sub.Close()
	}
}
