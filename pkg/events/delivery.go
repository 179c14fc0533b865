package events

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
)

// Kind identifies a delivery lifecycle transition.
type Kind string

const (
	KindEnqueued         Kind = "enqueued"
	KindCompleted        Kind = "completed"
	KindFailed           Kind = "failed"
	KindRetryScheduled   Kind = "retry_scheduled"
	KindRetrySucceeded   Kind = "retry_succeeded"
	KindRetryRescheduled Kind = "retry_rescheduled"
	KindRetryAbandoned   Kind = "retry_abandoned"
)

// DeliveryEvent is published on the engine's hub for every job transition.
// Observers (metrics, audit bridges, tests) receive these instead of hooking
// into the queue internals.
type DeliveryEvent struct {
	Kind           Kind
	JobID          string
	NotificationID string
	Channel        notification.Channel
	Priority       notification.Priority
	Attempts       int
	Error          string
	OccurredAt     time.Time
}

// DeliveryHub is the concrete hub type used by the engine.
type DeliveryHub = Hub[DeliveryEvent]

// NewDeliveryHub creates a hub for delivery events.
func NewDeliveryHub(bufferSize int) *DeliveryHub {
	return NewHub[DeliveryEvent](bufferSize)
}
