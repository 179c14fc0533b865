package metrics

import (
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// HourlyRate is the failure rate observed within one clock hour.
type HourlyRate struct {
	// Hour is the start of the hour, truncated, in UTC.
	Hour time.Time `json:"hour"`

	// Count is the number of send attempts in the hour.
	Count int `json:"count"`

	// FailureCount is the number of failed attempts in the hour.
	FailureCount int `json:"failure_count"`

	// Rate is FailureCount/Count, or 0 when Count is 0.
	Rate float64 `json:"rate"`
}

// Snapshot is the derived, point-in-time view of delivery health. All fields
// are computed from the queue and retry snapshots; building one has no side
// effects.
type Snapshot struct {
	// TotalSent is the total number of send attempts, successful or not.
	TotalSent int `json:"total_sent"`

	// TotalFailed is the number of failed send attempts.
	TotalFailed int `json:"total_failed"`

	// FailureRate is TotalFailed/TotalSent, in [0, 1]. Zero when nothing
	// was sent.
	FailureRate float64 `json:"failure_rate"`

	// AverageRetryAttempts is the mean attempt count across notifications
	// that ever entered the retry table. Zero when none did.
	AverageRetryAttempts float64 `json:"average_retry_attempts"`

	// FailuresByType allocates TotalFailed across channels proportionally
	// to each channel's share of total jobs, rounded to the nearest whole
	// failure.
	FailuresByType map[notification.Channel]int `json:"failures_by_type"`

	// FailuresByError counts pending retry jobs grouped by their last
	// error message.
	FailuresByError map[string]int `json:"failures_by_error"`

	// HourlyFailureRate holds per-hour rates, ascending by hour.
	HourlyFailureRate []HourlyRate `json:"hourly_failure_rate"`

	// RecentFailures are the 10 most recently failed retry jobs, newest
	// first.
	RecentFailures []retry.Job `json:"recent_failures"`
}

// TrendPoint is one bucket of a failure-rate trend series.
type TrendPoint struct {
	// Key identifies the bucket: an ISO date for daily, the Sunday-aligned
	// week start date for weekly, or YYYY-MM for monthly.
	Key string `json:"key"`

	// Rate is the average of the per-hour failure rates that fell into the
	// bucket.
	Rate float64 `json:"rate"`

	// Hours is how many hourly buckets contributed to the average.
	Hours int `json:"hours"`
}

// Trends groups failure-rate series at three granularities. Every series is
// sorted ascending by key and contains points only for periods with data.
type Trends struct {
	Daily   []TrendPoint `json:"daily"`
	Weekly  []TrendPoint `json:"weekly"`
	Monthly []TrendPoint `json:"monthly"`
}
