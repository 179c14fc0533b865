// Package events provides the typed publish/subscribe hub that connects the
// delivery queue and retry scheduler to their observers.
//
// Rather than an untyped event emitter, observers subscribe to a Hub of a
// concrete event type, so producers and consumers are statically known and
// each can be tested in isolation. Publishing never blocks: slow subscribers
// drop events instead of slowing delivery.
package events
