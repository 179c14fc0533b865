// Package metrics derives delivery-health statistics from the queue and
// retry snapshots without mutating either.
//
// The aggregator is stateless: Metrics and FailureTrends pull fresh
// snapshots on every call and compute everything from them, so calls are
// idempotent and safe from any goroutine.
//
// Usage:
//
//	agg, err := metrics.New(q, scheduler)
//	if err != nil {
//		return err
//	}
//
//	snap, err := agg.Metrics(ctx)
//	if err != nil {
//		return err
//	}
//	if snap.FailureRate > 0.10 {
//		// ...
//	}
//
// Trend series average the per-hour failure rates into daily, weekly
// (Sunday-aligned), and monthly buckets, emitting points only for periods
// that saw send attempts.
package metrics
