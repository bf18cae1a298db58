// Package logging provides structured logging configuration using log/slog.
//
// Log entries are correlated by database and session id rather than by
// HTTP request id: the ingest loop has no requests, only rows flowing
// through a database/session/statement pipeline.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithSession returns a context carrying a logger annotated with database
// and session id. Every log statement along the ingest path for that
// session should derive its logger from this context so the two fields
// show up on every line without being repeated at each call site.
func WithSession(ctx context.Context, database, sessionID string) context.Context {
	logger := FromContext(ctx).With("database", database, "session_id", sessionID)
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger attached by WithSession, or the default
// logger when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
