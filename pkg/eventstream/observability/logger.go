// Package observability provides structured logging, metrics and tracing
// for the event runtime.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
// Every logging helper accepts a nil logger.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds consumer identity to a logger.
// Returns a new logger with group and consumer fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "watch_tower_consumers", "host-a1b2")
//	enriched.Info("reading") // includes group, consumer
func EnrichLogger(logger *slog.Logger, group, consumer string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("group", group),
		slog.String("consumer", consumer),
	)
}

// LogPublished logs a successful append.
func LogPublished(logger *slog.Logger, eventType, eventID, stream, entryID string) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.String("stream", stream),
		slog.String("entry_id", entryID),
	)
}

// LogPublishError logs a failed append.
func LogPublishError(logger *slog.Logger, eventType, eventID, stream string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event publish failed",
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.String("stream", stream),
		slog.String("error", err.Error()),
	)
}

// LogConsumeStart logs the start of a read loop.
func LogConsumeStart(logger *slog.Logger, streams []string, batchSize int64, block time.Duration) {
	if logger == nil {
		return
	}
	logger.Info("consumer starting",
		slog.Any("streams", streams),
		slog.Int64("batch_size", batchSize),
		slog.Duration("block", block),
	)
}

// LogConsumeStop logs the end of a read loop.
func LogConsumeStop(logger *slog.Logger, processed int64) {
	if logger == nil {
		return
	}
	logger.Info("consumer stopped",
		slog.Int64("messages_processed", processed),
	)
}

// LogDecodeError logs a record that could not be decoded. The message is
// still acknowledged.
func LogDecodeError(logger *slog.Logger, stream, msgID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event decode failed",
		slog.String("stream", stream),
		slog.String("message_id", msgID),
		slog.String("error", err.Error()),
	)
}

// LogUnhandled logs an event type with no registered handler.
func LogUnhandled(logger *slog.Logger, stream, msgID, eventType string) {
	if logger == nil {
		return
	}
	logger.Warn("no handler for event type",
		slog.String("stream", stream),
		slog.String("message_id", msgID),
		slog.String("event_type", eventType),
	)
}

// LogHandlerError logs a handler failure. Remaining handlers still run.
func LogHandlerError(logger *slog.Logger, handler, eventType, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("event handler failed",
		slog.String("handler", handler),
		slog.String("event_type", eventType),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogBrokerError logs a broker failure before the loop backs off.
func LogBrokerError(logger *slog.Logger, op string, err error, backoff time.Duration) {
	if logger == nil {
		return
	}
	logger.Error("broker error",
		slog.String("operation", op),
		slog.String("error", err.Error()),
		slog.Duration("backoff", backoff),
	)
}

// LogClaimed logs entries taken over from other consumers.
func LogClaimed(logger *slog.Logger, stream string, count int) {
	if logger == nil {
		return
	}
	logger.Info("claimed pending messages",
		slog.String("stream", stream),
		slog.Int("count", count),
	)
}

// LogDeadLetterError logs a failure to record a dead letter (non-fatal).
func LogDeadLetterError(logger *slog.Logger, msgID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("dead letter not recorded",
		slog.String("message_id", msgID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	elapsed := done()
func TimedOperation() func() time.Duration {
	start := time.Now()
	return func() time.Duration {
		return time.Since(start)
	}
}
