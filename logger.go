package factgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/factgo/core"
)

// Logger wraps slog.Logger with factgo-specific context.
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
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithReplica adds the replica id field to the logger.
func (l *Logger) WithReplica(r core.ReplicaID) *Logger {
	return &Logger{
		Logger: l.Logger.With("replica", uint64(r)),
	}
}

// LogWrite logs a local write operation.
func (l *Logger) LogWrite(ctx context.Context, op string, id core.ID, err error) {
	if err != nil {
		l.ErrorContext(ctx, "write failed",
			"op", op,
			"id", id.String(),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "write completed",
			"op", op,
			"id", id.String(),
		)
	}
}

// LogRecovery logs a log replay on startup.
func (l *Logger) LogRecovery(ctx context.Context, recordsReplayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "log recovery failed",
			"records_replayed", recordsReplayed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "log recovery completed",
			"records_replayed", recordsReplayed,
		)
	}
}

// LogCompaction logs a log compaction.
func (l *Logger) LogCompaction(ctx context.Context, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "compaction failed",
			"records", records,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "compaction completed",
			"records", records,
		)
	}
}

// LogImport logs a delta import.
func (l *Logger) LogImport(ctx context.Context, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "import failed",
			"records", records,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "import completed",
			"records", records,
		)
	}
}

// LogArchive logs an archive upload or restore.
func (l *Logger) LogArchive(ctx context.Context, name string, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "archive failed",
			"name", name,
			"segments", segments,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "archive completed",
			"name", name,
			"segments", segments,
		)
	}
}

// LogGC logs a garbage collection pass.
func (l *Logger) LogGC(ctx context.Context, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "garbage collection failed",
			"removed", removed,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "garbage collection completed",
			"removed", removed,
		)
	}
}
