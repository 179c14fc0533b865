package metrics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dmitrymomot/notifykit/pkg/notification"
	"github.com/dmitrymomot/notifykit/pkg/queue"
	"github.com/dmitrymomot/notifykit/pkg/retry"
)

// recentFailuresLimit caps the Snapshot.RecentFailures list.
const recentFailuresLimit = 10

// QueueSource provides the queue-side statistics snapshot. *queue.Queue
// satisfies it.
type QueueSource interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// RetrySource provides the retry-table snapshot. *retry.Scheduler satisfies
// it.
type RetrySource interface {
	Stats() retry.Stats
}

// Aggregator derives delivery-health metrics from the queue and retry
// snapshots. It holds no state of its own: every call pulls fresh snapshots,
// so repeated calls with no intervening activity return identical results.
type Aggregator struct {
	queue QueueSource
	retry RetrySource
}

// New creates an aggregator over the given sources.
func New(queueSrc QueueSource, retrySrc RetrySource) (*Aggregator, error) {
	if queueSrc == nil {
		return nil, ErrQueueSourceNil
	}
	if retrySrc == nil {
		return nil, ErrRetrySourceNil
	}
	return &Aggregator{queue: queueSrc, retry: retrySrc}, nil
}

// Metrics computes the current delivery-health snapshot.
func (a *Aggregator) Metrics(ctx context.Context) (Snapshot, error) {
	queueStats, err := a.queue.Stats(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	retryStats := a.retry.Stats()

	hourly := hourlyRates(queueStats.Hourly)

	var totalSent, totalFailed int
	for _, h := range hourly {
		totalSent += h.Count
		totalFailed += h.FailureCount
	}

	snapshot := Snapshot{
		TotalSent:         totalSent,
		TotalFailed:       totalFailed,
		FailuresByType:    failuresByType(totalFailed, queueStats),
		FailuresByError:   failuresByError(retryStats.Jobs),
		HourlyFailureRate: hourly,
		RecentFailures:    recentFailures(retryStats.Jobs),
	}
	if totalSent > 0 {
		snapshot.FailureRate = float64(totalFailed) / float64(totalSent)
	}
	if retryStats.RetriedNotifications > 0 {
		snapshot.AverageRetryAttempts = float64(retryStats.TotalAttempts) / float64(retryStats.RetriedNotifications)
	}

	return snapshot, nil
}

// FailureTrends buckets the per-hour failure rates into daily, weekly, and
// monthly series. Coarser buckets average the hourly rates within them rather
// than re-deriving from raw counts, so a quiet hour weighs as much as a busy
// one.
func (a *Aggregator) FailureTrends(ctx context.Context) (Trends, error) {
	queueStats, err := a.queue.Stats(ctx)
	if err != nil {
		return Trends{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	hourly := hourlyRates(queueStats.Hourly)

	return Trends{
		Daily:   bucketRates(hourly, dayKey),
		Weekly:  bucketRates(hourly, weekKey),
		Monthly: bucketRates(hourly, monthKey),
	}, nil
}

func hourlyRates(buckets []queue.HourlyBucket) []HourlyRate {
	rates := make([]HourlyRate, 0, len(buckets))
	for _, b := range buckets {
		rate := HourlyRate{
			Hour:         b.Hour.UTC(),
			Count:        b.Count,
			FailureCount: b.FailureCount,
		}
		if b.Count > 0 {
			rate.Rate = float64(b.FailureCount) / float64(b.Count)
		}
		rates = append(rates, rate)
	}
	sort.Slice(rates, func(i, j int) bool {
		return rates[i].Hour.Before(rates[j].Hour)
	})
	return rates
}

// failuresByType spreads the failure total across channels in proportion to
// each channel's share of all jobs seen by the queue.
func failuresByType(totalFailed int, stats queue.Stats) map[notification.Channel]int {
	out := make(map[notification.Channel]int, len(stats.ByChannel))
	if stats.Total == 0 || totalFailed == 0 {
		for channel := range stats.ByChannel {
			out[channel] = 0
		}
		return out
	}

	for channel, jobs := range stats.ByChannel {
		share := float64(jobs) / float64(stats.Total)
		out[channel] = int(math.Round(float64(totalFailed) * share))
	}
	return out
}

func failuresByError(jobs []retry.Job) map[string]int {
	out := make(map[string]int)
	for _, job := range jobs {
		msg := job.LastError
		if msg == "" {
			msg = "Unknown error"
		}
		out[msg]++
	}
	return out
}

// recentFailures assumes jobs are already sorted newest first, which the
// retry snapshot guarantees.
func recentFailures(jobs []retry.Job) []retry.Job {
	if len(jobs) > recentFailuresLimit {
		jobs = jobs[:recentFailuresLimit]
	}
	out := make([]retry.Job, len(jobs))
	copy(out, jobs)
	return out
}

func bucketRates(hourly []HourlyRate, key func(time.Time) string) []TrendPoint {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, h := range hourly {
		k := key(h.Hour)
		sums[k] += h.Rate
		counts[k]++
	}

	points := make([]TrendPoint, 0, len(sums))
	for k, sum := range sums {
		points = append(points, TrendPoint{
			Key:   k,
			Rate:  sum / float64(counts[k]),
			Hours: counts[k],
		})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Key < points[j].Key
	})
	return points
}

func dayKey(hour time.Time) string {
	return hour.Format("2006-01-02")
}

// weekKey returns the Sunday that starts the week containing the hour.
func weekKey(hour time.Time) string {
	return hour.AddDate(0, 0, -int(hour.Weekday())).Format("2006-01-02")
}

func monthKey(hour time.Time) string {
	return hour.Format("2006-01")
}
