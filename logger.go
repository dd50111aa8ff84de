package mediastore

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with mediastore-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithMediaID adds a media id field to the logger.
func (l *Logger) WithMediaID(id int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("media_id", id),
	}
}

// WithComponent adds a component field to the logger.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", name),
	}
}

// LogIngest logs a completed or failed ingest.
func (l *Logger) LogIngest(ctx context.Context, status string, id int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "ingest failed",
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "ingest completed",
			"status", status,
			"media_id", id,
		)
	}
}

// LogDelete logs a delete operation.
func (l *Logger) LogDelete(ctx context.Context, id int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"media_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"media_id", id,
		)
	}
}
