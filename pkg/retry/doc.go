// Package retry reschedules failed notification deliveries with exponential
// backoff and abandons them once the attempt budget is exhausted.
//
// The scheduler keeps an in-memory retry table keyed by notification ID and
// runs a periodic sweep that re-sends due notifications directly through the
// channel sender. The attempt counter kept here is the authoritative one: it
// starts at 1 on the first delivery failure and increments on every
// rescheduled retry.
//
// Backoff is deterministic: delay = InitialDelay * BackoffFactor^(attempts-1),
// capped at MaxDelay. With the default configuration the first three retries
// wait 1s, 2s, and 4s.
//
// Usage:
//
//	scheduler, err := retry.New(sender, retry.DefaultConfig(),
//		retry.WithAuditSink(auditSink),
//		retry.WithOutcomeRecorder(repo),
//	)
//	if err != nil {
//		return err
//	}
//	defer scheduler.Stop()
//
//	q, err := queue.New(repo, sender, queue.WithFailureHandler(scheduler))
//
// The sweep goroutine starts lazily on the first Add and exits once the
// retry table drains, so an idle scheduler costs nothing.
package retry
