// Package queue implements the delivery queue: it accepts notification jobs,
// keeps them in priority lanes inside a pluggable backing store, and drains
// them with a bounded worker pool that invokes the channel sender.
//
// # Ordering
//
// Within a priority lane jobs dispatch FIFO by enqueue order. Across lanes,
// higher priority wins — except that every fourth claim services the oldest
// waiting job regardless of its lane, so lower lanes are starved only
// boundedly even under a constant stream of urgent work.
//
// # Failure semantics
//
// A failed or timed-out send is never retried by the queue itself. The job is
// marked failed and the notification is handed synchronously to the
// registered FailureHandler (the retry scheduler) before the worker frees its
// slot. When a later retry resolves, the handler re-settles the job record to
// its terminal state through the repository. The only retry concept the queue
// owns is the enqueue-time
// WithStoreAttempts hint, which covers transient backing-store failures
// during Enqueue and nothing else.
//
// # Storage
//
// The JobRepository interface decouples the queue from persistence. Three
// implementations ship with the package: MemoryStorage for tests and
// single-process setups, PGStorage for durable crash-safe queues, and
// RedisStorage when Redis is already part of the deployment.
package queue
