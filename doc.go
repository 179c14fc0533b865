// Package notifykit is a multi-channel notification delivery engine: a
// prioritized delivery queue drained by a bounded worker pool, an
// exponential-backoff retry scheduler, a metrics aggregator, and a
// threshold-based alert evaluator.
//
// The Engine type is the composition root. Give it a channel sender and it
// wires the rest:
//
//	sender := notification.SenderFunc(func(ctx context.Context, n notification.Notification) error {
//		// dispatch to email/SMS/push/in-app transports
//		return nil
//	})
//
//	engine, err := notifykit.New(sender,
//		notifykit.WithAuditSink(auditSink),
//		notifykit.WithQueueOptions(queue.WithWorkers(8)),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	if err := engine.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer engine.Stop()
//
//	jobID, err := engine.Enqueue(ctx, notification.New(
//		"user-42", notification.ChannelEmail, notification.PriorityHigh,
//		"Welcome", "Thanks for signing up"))
//
// Enqueue returns a job id immediately; delivery happens asynchronously.
// Failures are retried with exponential backoff and eventually abandoned to
// the audit trail. Health is observable through GetMetrics, GetFailureTrends,
// and CheckAlerts, and individual jobs through GetJobDetails and the event
// hub.
//
// Jobs live in memory by default; pass a Postgres- or Redis-backed store via
// WithRepository for durability across restarts.
package notifykit
