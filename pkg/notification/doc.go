// Package notification defines the core domain model shared by the delivery
// engine: the Notification unit of work, its Channel and Priority enums, a
// typed Metadata container, and the Sender interface that abstracts channel
// transports.
//
// The package is deliberately free of delivery mechanics. Queueing, retries,
// and metrics live in their own packages and depend on this one, never the
// other way around.
package notification
