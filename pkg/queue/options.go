package queue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/events"
)

// Option is a functional option for configuring the queue.
type Option func(*options)

type options struct {
	workers        int
	pullInterval   time.Duration
	sendTimeout    time.Duration
	logger         *slog.Logger
	hub            *events.DeliveryHub
	auditor        audit.Sink
	failureHandler FailureHandler
}

func defaultOptions() *options {
	return &options{
		workers:      4,
		pullInterval: 100 * time.Millisecond,
		sendTimeout:  30 * time.Second,
		logger:       slog.Default(),
		auditor:      audit.NoopSink{},
	}
}

// WithWorkers bounds the worker pool size.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithPullInterval sets how often idle workers check for new jobs.
func WithPullInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithSendTimeout bounds each channel sender invocation. Exceeding it is
// treated identically to a returned error.
func WithSendTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.sendTimeout = d
		}
	}
}

// WithLogger sets the logger for the queue.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHub sets the delivery-event hub the queue publishes to.
func WithHub(hub *events.DeliveryHub) Option {
	return func(o *options) {
		o.hub = hub
	}
}

// WithAuditSink sets the audit sink for delivery events.
func WithAuditSink(sink audit.Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.auditor = sink
		}
	}
}

// WithFailureHandler wires the retry subsystem at construction time.
func WithFailureHandler(h FailureHandler) Option {
	return func(o *options) {
		o.failureHandler = h
	}
}

// EnqueueOption is a functional option for a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	storeAttempts int
	storeBackoff  time.Duration
	delay         time.Duration
}

func defaultEnqueueOptions() *enqueueOptions {
	return &enqueueOptions{
		storeAttempts: 1,
		storeBackoff:  50 * time.Millisecond,
	}
}

// WithStoreAttempts sets how many times Enqueue retries a transient
// backing-store failure before giving up. This hint covers the queue's own
// infrastructure only; business-level delivery retries belong to the retry
// scheduler.
func WithStoreAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		if n > 0 {
			o.storeAttempts = n
		}
	}
}

// WithStoreBackoff sets the base delay between backing-store retries.
func WithStoreBackoff(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.storeBackoff = d
		}
	}
}

// WithDelay schedules the job for dispatch no earlier than now+delay.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}
