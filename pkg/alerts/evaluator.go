package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/audit"
	"github.com/dmitrymomot/notifykit/pkg/metrics"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// consecutiveWindow is how close two recent failures must be to count as
// part of one failure burst.
const consecutiveWindow = 5 * time.Minute

// MetricsSource provides the snapshot the evaluator checks.
// *metrics.Aggregator satisfies it.
type MetricsSource interface {
	Metrics(ctx context.Context) (metrics.Snapshot, error)
}

// Result pairs the triggered alerts with the snapshot they were evaluated
// against.
type Result struct {
	Alerts  []string         `json:"alerts"`
	Metrics metrics.Snapshot `json:"metrics"`
}

// Evaluator performs stateless threshold checks against a metrics snapshot.
type Evaluator struct {
	source  MetricsSource
	auditor audit.Sink
	log     *slog.Logger
}

// Option configures the evaluator.
type Option func(*Evaluator)

// WithAuditSink sets the sink that receives the batched alert entry.
// Defaults to a no-op sink.
func WithAuditSink(sink audit.Sink) Option {
	return func(e *Evaluator) {
		if sink != nil {
			e.auditor = sink
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Evaluator) {
		if log != nil {
			e.log = log
		}
	}
}

// New creates an alert evaluator over the given metrics source.
func New(source MetricsSource, opts ...Option) (*Evaluator, error) {
	if source == nil {
		return nil, ErrMetricsSourceNil
	}

	e := &Evaluator{
		source:  source,
		auditor: audit.NoopSink{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Check resolves the overrides against the defaults, evaluates every
// condition against a fresh metrics snapshot, and reports any non-empty
// alert set to the audit sink as one batched entry. All conditions use
// strict comparison: metrics exactly at a threshold do not alert.
func (e *Evaluator) Check(ctx context.Context, overrides Overrides) (Result, error) {
	thresholds := overrides.Resolve()
	if err := thresholds.Validate(); err != nil {
		return Result{}, err
	}

	snap, err := e.source.Metrics(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read metrics: %w", err)
	}

	var alerts []string

	if snap.FailureRate > thresholds.FailureRate {
		alerts = append(alerts, fmt.Sprintf(
			"High failure rate: %.1f%% exceeds %.1f%%",
			snap.FailureRate*100, thresholds.FailureRate*100))
	}

	if snap.AverageRetryAttempts > thresholds.RetryAttempts {
		alerts = append(alerts, fmt.Sprintf(
			"High average retry attempts: %.1f exceeds %.1f",
			snap.AverageRetryAttempts, thresholds.RetryAttempts))
	}

	if n := hoursAboveRate(snap.HourlyFailureRate, thresholds.HourlyFailureRate); n > 0 {
		alerts = append(alerts, fmt.Sprintf(
			"%d hour(s) exceeded the hourly failure rate threshold of %.1f%%",
			n, thresholds.HourlyFailureRate*100))
	}

	if n := closeFailures(snap.RecentFailures); n >= thresholds.ConsecutiveFailures {
		alerts = append(alerts, fmt.Sprintf(
			"%d failures occurred in close succession", n))
	}

	if len(alerts) > 0 {
		e.auditor.LogEvent(ctx, audit.NewEvent(
			audit.ActionAlertsTriggered, "metrics", "delivery", audit.StatusFailure,
		).WithDetail("alerts", strings.Join(alerts, "; ")).
			WithDetail("count", strconv.Itoa(len(alerts))))

		e.log.Warn("delivery alerts triggered",
			slog.Int("count", len(alerts)),
			slog.Any("alerts", alerts))
	}

	return Result{Alerts: alerts, Metrics: snap}, nil
}

func hoursAboveRate(hourly []metrics.HourlyRate, threshold float64) int {
	n := 0
	for _, h := range hourly {
		if h.Rate > threshold {
			n++
		}
	}
	return n
}

// closeFailures counts the recent failures involved in a burst: adjacent
// pairs in the time-descending list whose timestamps are within the
// consecutive window. The first pair contributes both of its failures,
// every following close pair one more.
func closeFailures(recent []retry.Job) int {
	n := 0
	for i := 1; i < len(recent); i++ {
		gap := recent[i-1].LastFailedAt.Sub(recent[i].LastFailedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= consecutiveWindow {
			if n == 0 {
				n = 2
			} else {
				n++
			}
		}
	}
	return n
}
