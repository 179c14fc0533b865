package audit

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the outcome of an audited action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Well-known delivery actions recorded by the engine.
const (
	ActionDeliveryCompleted = "delivery_completed"
	ActionDeliveryFailed    = "delivery_failed"
	ActionRetrySucceeded    = "retry_succeeded"
	ActionRetryRescheduled  = "retry_rescheduled"
	ActionRetryAbandoned    = "retry_abandoned"
	ActionAlertsTriggered   = "alerts_triggered"
)

// Event represents a single audit entry
type Event struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Details    map[string]string `json:"details,omitempty"`
	Status     Status            `json:"status"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewEvent builds an event with a generated ID and the current timestamp.
func NewEvent(action, entityType, entityID string, status Status) Event {
	return Event{
		ID:         uuid.New().String(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     status,
		CreatedAt:  time.Now(),
	}
}

// WithError attaches an error message to the event.
func (e Event) WithError(msg string) Event {
	e.Error = msg
	return e
}

// WithDetail attaches a key/value detail to the event. The receiver's map is
// copied on first write so events built from a shared template never alias.
func (e Event) WithDetail(key, value string) Event {
	details := make(map[string]string, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	e.Details = details
	return e
}
