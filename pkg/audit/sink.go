package audit

import (
	"context"
	"log/slog"
)

// Sink consumes audit events. LogEvent is fire-and-forget from the engine's
// perspective: implementations must never block delivery or retry work and
// must swallow their own storage failures.
type Sink interface {
	LogEvent(ctx context.Context, event Event)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) LogEvent(ctx context.Context, event Event) {
	f(ctx, event)
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) LogEvent(context.Context, Event) {}

// SlogSink writes audit events to a structured logger.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink backed by the given logger.
// A nil logger falls back to slog.Default().
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

func (s *SlogSink) LogEvent(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("audit_id", event.ID),
		slog.String("action", event.Action),
		slog.String("entity_type", event.EntityType),
		slog.String("entity_id", event.EntityID),
		slog.String("status", string(event.Status)),
	}
	for k, v := range event.Details {
		attrs = append(attrs, slog.String(k, v))
	}

	level := slog.LevelInfo
	if event.Status == StatusFailure {
		level = slog.LevelWarn
		if event.Error != "" {
			attrs = append(attrs, slog.String("error", event.Error))
		}
	}

	s.logger.LogAttrs(ctx, level, "audit event", attrs...)
}
