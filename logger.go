package veccodec

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with veccodec-specific context.
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
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, nil))
}

// WithSegment adds a segment field to the logger.
func (l *Logger) WithSegment(segment string) *Logger {
	return &Logger{
		Logger: l.Logger.With("segment", segment),
	}
}

// WithField adds a field name to the logger.
func (l *Logger) WithField(field string) *Logger {
	return &Logger{
		Logger: l.Logger.With("field", field),
	}
}

// LogFlush logs the flush of a new segment.
func (l *Logger) LogFlush(ctx context.Context, segment string, docs int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed",
			"segment", segment,
			"docs", docs,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "segment flushed",
		"segment", segment,
		"docs", docs,
		"duration", duration,
	)
}

// LogMerge logs a merge of several segments into one.
func (l *Logger) LogMerge(ctx context.Context, segment string, merged []string, docs int, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"segment", segment,
			"merged", merged,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "segments merged",
		"segment", segment,
		"merged", merged,
		"docs", docs,
		"duration", duration,
	)
}

// LogSearch logs a search across all segments.
func (l *Logger) LogSearch(ctx context.Context, field string, k, segments, hits int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"field", field,
			"k", k,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "search completed",
		"field", field,
		"k", k,
		"segments", segments,
		"hits", hits,
	)
}

// LogCommit logs the publication of a commit point.
func (l *Logger) LogCommit(ctx context.Context, generation uint64, segments int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "commit failed",
			"generation", generation,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "commit published",
		"generation", generation,
		"segments", segments,
	)
}
