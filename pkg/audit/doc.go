// Package audit provides the audit trail consumed by the delivery engine.
//
// The engine emits an Event for every lifecycle transition that a human may
// later need to reconstruct: completed deliveries, failed sends, retry
// rescheduling, and permanent abandonment. Events flow through the Sink
// interface, which is fire-and-forget by contract — a sink must never block
// or fail the operation that produced the event.
//
// Three implementations are provided: SlogSink for structured log output,
// AsyncSink to decouple producers from a slow downstream, and MemorySink for
// tests.
package audit
