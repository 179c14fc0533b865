package notification

import (
	"time"

	"github.com/google/uuid"
)

// Channel represents the delivery transport for a notification.
type Channel string

const (
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
	ChannelInApp Channel = "IN_APP"
)

// Valid checks if the channel is one of the supported transports.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// Channels lists all supported delivery channels.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp}
}

// Priority represents the notification priority level.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
)

// Valid checks if the priority is within the supported range.
func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityUrgent
}

// String returns the canonical name of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityHigh:
		return "HIGH"
	case PriorityUrgent:
		return "URGENT"
	}
	return "UNKNOWN"
}

// Notification is the core domain model: the unit of deliverable work.
// Channel is immutable after creation; ID is assigned once and never reused.
type Notification struct {
	ID          string     `json:"id"`
	RecipientID string     `json:"recipient_id"`
	Channel     Channel    `json:"channel"`
	Priority    Priority   `json:"priority"`
	Subject     string     `json:"subject"`
	Content     string     `json:"content"`
	Metadata    Metadata   `json:"metadata,omitempty"`
	Read        bool       `json:"read"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// New creates a notification with a generated ID and creation timestamps.
func New(recipientID string, channel Channel, priority Priority, subject, content string) Notification {
	now := time.Now()
	return Notification{
		ID:          uuid.New().String(),
		RecipientID: recipientID,
		Channel:     channel,
		Priority:    priority,
		Subject:     subject,
		Content:     content,
		Metadata:    NewMetadata(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Validate checks the invariants required before a notification can be
// accepted for delivery.
func (n *Notification) Validate() error {
	if n.ID == "" {
		return ErrMissingID
	}
	if n.RecipientID == "" {
		return ErrMissingRecipient
	}
	if !n.Channel.Valid() {
		return ErrInvalidChannel
	}
	if !n.Priority.Valid() {
		return ErrInvalidPriority
	}
	return nil
}

// MarkAsRead marks an in-app notification as read with the current timestamp.
func (n *Notification) MarkAsRead() {
	n.Read = true
	now := time.Now()
	n.ReadAt = &now
	n.UpdatedAt = now
}
