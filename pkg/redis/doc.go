// Package redis provides the connection plumbing for the Redis-backed
// delivery job store.
//
// Usage:
//
//	cfg, err := config.Load[redis.Config]()
//	if err != nil {
//		return err
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	store := queue.NewRedisStorage(client)
package redis
