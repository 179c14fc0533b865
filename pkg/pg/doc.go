// Package pg provides the PostgreSQL plumbing for the durable delivery job
// store: pool construction with startup retry, schema migrations via goose,
// and error classification helpers.
//
// Usage:
//
//	cfg, err := config.Load[pg.Config]()
//	if err != nil {
//		return err
//	}
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer pool.Close()
//
//	if err := pg.Migrate(ctx, pool, cfg, slog.Default()); err != nil {
//		return err
//	}
//
//	store := queue.NewPGStorage(pool)
//
// The migrations directory ships with the module under migrations/ and holds
// the delivery_jobs and delivery_hourly_stats tables.
package pg
