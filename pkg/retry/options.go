package retry

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/events"
)

type options struct {
	sweepInterval time.Duration
	sendTimeout   time.Duration
	logger        *slog.Logger
	hub           *events.DeliveryHub
	auditor       audit.Sink
	recorder      OutcomeRecorder
	settler       JobSettler
}

// Option configures optional scheduler behavior.
type Option func(*options)

func defaultOptions() *options {
	return &options{
		sweepInterval: time.Second,
		sendTimeout:   30 * time.Second,
		logger:        slog.Default(),
		auditor:       audit.NoopSink{},
	}
}

// WithSweepInterval sets how often the scheduler checks for due retries.
// Values below 1ms are ignored.
func WithSweepInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= time.Millisecond {
			o.sweepInterval = d
		}
	}
}

// WithSendTimeout bounds a single retry send attempt.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithHub publishes retry lifecycle events to a delivery hub.
func WithHub(hub *events.DeliveryHub) Option {
	return func(o *options) {
		o.hub = hub
	}
}

// WithAuditSink sets the audit sink for retry outcomes. Defaults to a no-op
// sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.auditor = sink
		}
	}
}

// WithOutcomeRecorder feeds retry send attempts into the shared hourly
// delivery statistics, typically backed by the queue's job repository.
func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithJobSettler re-settles delivery-queue job records when retries resolve,
// typically backed by the queue's job repository.
func WithJobSettler(s JobSettler) Option {
	return func(o *options) {
		o.settler = s
	}
}
