package audit

import (
	"context"
	"sync"
)

// AsyncSink decouples event producers from a potentially slow downstream sink.
// Events are queued on a buffered channel and drained by a single background
// goroutine. When the buffer is full the event is dropped rather than blocking
// the producer; audit logging must never stall a delivery or retry.
type AsyncSink struct {
	downstream Sink
	events     chan Event
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// NewAsyncSink wraps downstream with an asynchronous buffer of the given size.
// A bufferSize below 1 is raised to 64.
func NewAsyncSink(downstream Sink, bufferSize int) *AsyncSink {
	if bufferSize < 1 {
		bufferSize = 64
	}

	as := &AsyncSink{
		downstream: downstream,
		events:     make(chan Event, bufferSize),
		done:       make(chan struct{}),
	}

	as.wg.Add(1)
	go as.drain()

	return as
}

// LogEvent queues the event for background delivery. Never blocks: if the
// buffer is full or the sink is closed, the event is dropped.
func (as *AsyncSink) LogEvent(_ context.Context, event Event) {
	select {
	case <-as.done:
	case as.events <- event:
	default:
	}
}

// Close stops accepting events, flushes the buffer, and waits for the drain
// goroutine to finish. Safe to call multiple times.
func (as *AsyncSink) Close() error {
	as.closeOnce.Do(func() {
		close(as.done)
	})
	as.wg.Wait()
	return nil
}

func (as *AsyncSink) drain() {
	defer as.wg.Done()

	for {
		select {
		case event := <-as.events:
			as.downstream.LogEvent(context.Background(), event)
		case <-as.done:
			// Flush whatever is still buffered before exiting.
			for {
				select {
				case event := <-as.events:
					as.downstream.LogEvent(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}
