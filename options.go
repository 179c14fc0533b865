package notifykit

import (
	"log/slog"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

type engineOptions struct {
	repository  queue.JobRepository
	retryConfig retry.Config
	auditor     audit.Sink
	logger      *slog.Logger
	hubBuffer   int
	queueOpts   []queue.Option
	retryOpts   []retry.Option
}

// Option configures the engine.
type Option func(*engineOptions)

func defaultEngineOptions() *engineOptions {
	return &engineOptions{
		repository:  queue.NewMemoryStorage(),
		retryConfig: retry.DefaultConfig(),
		auditor:     audit.NoopSink{},
		logger:      slog.Default(),
		hubBuffer:   64,
	}
}

// WithRepository backs the delivery queue with the given job store instead
// of the in-memory default.
func WithRepository(repo queue.JobRepository) Option {
	return func(o *engineOptions) {
		if repo != nil {
			o.repository = repo
		}
	}
}

// WithRetryConfig replaces the default backoff configuration.
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *engineOptions) {
		o.retryConfig = cfg
	}
}

// WithAuditSink routes delivery, retry, and alert audit events to the given
// sink. Defaults to a no-op sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(o *engineOptions) {
		if sink != nil {
			o.auditor = sink
		}
	}
}

// WithLogger sets the structured logger shared by all components.
func WithLogger(log *slog.Logger) Option {
	return func(o *engineOptions) {
		if log != nil {
			o.logger = log
		}
	}
}

// WithHubBuffer sets the per-subscriber event buffer size.
func WithHubBuffer(n int) Option {
	return func(o *engineOptions) {
		if n > 0 {
			o.hubBuffer = n
		}
	}
}

// WithQueueOptions appends extra options for the delivery queue, e.g.
// queue.WithWorkers.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(o *engineOptions) {
		o.queueOpts = append(o.queueOpts, opts...)
	}
}

// WithRetryOptions appends extra options for the retry scheduler, e.g.
// retry.WithSweepInterval.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(o *engineOptions) {
		o.retryOpts = append(o.retryOpts, opts...)
	}
}
