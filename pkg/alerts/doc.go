// Package alerts evaluates delivery-health metrics against configurable
// thresholds and produces human-readable alert strings.
//
// Evaluation is stateless: Check pulls a fresh metrics snapshot, compares it
// against the resolved thresholds, and returns the triggered alerts together
// with the snapshot they were computed from. Comparisons are strict, so a
// failure rate exactly at its threshold does not alert.
//
// Thresholds merge field by field: callers supply only the boundaries they
// want to change and the rest keep their defaults. Overrides can also be
// loaded from a YAML file:
//
//	failure_rate: 0.25
//	consecutive_failures: 3
//
// Any non-empty alert set is reported to the audit sink as a single batched
// entry.
package alerts
