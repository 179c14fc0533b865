// Package logger builds the structured slog loggers used across the delivery
// engine, plus attribute helpers for the identifiers that appear in nearly
// every log line (job id, notification id, channel, attempt).
package logger
