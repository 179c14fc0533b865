package audit

import (
	"context"
	"slices"
	"sync"
)

// MemorySink records events in memory. Intended for tests and local runs.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (ms *MemorySink) LogEvent(_ context.Context, event Event) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.events = append(ms.events, event)
}

// Events returns a copy of all recorded events in arrival order.
func (ms *MemorySink) Events() []Event {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return slices.Clone(ms.events)
}

// EventsByAction returns recorded events matching the given action.
func (ms *MemorySink) EventsByAction(action string) []Event {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var out []Event
	for _, e := range ms.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards all recorded events.
func (ms *MemorySink) Reset() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.events = nil
}
