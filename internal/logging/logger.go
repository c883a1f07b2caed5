// Package logging provides structured logging configuration using log/slog.
//
// This package integrates with chi's RequestID middleware to propagate
// request IDs through structured log entries, enabling request tracing
// across the entire request lifecycle.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
//
// Use "json" format in production for machine parsing (ELK, CloudWatch, etc.)
// Use "text" format in development for human readability.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
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

type fieldsKey struct{}

// With returns a copy of ctx carrying args as log fields. Every logger built
// by FromContext for the returned context includes them. A key set again
// replaces its earlier value.
//
//	ctx = logging.With(ctx, "school_id", claims.SchoolID)
func With(ctx context.Context, args ...any) context.Context {
	added := slog.Group("", args...).Value.Group()
	if len(added) == 0 {
		return ctx
	}

	prev := fields(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(added))
	for _, a := range prev {
		if !hasKey(added, a.Key) {
			merged = append(merged, a)
		}
	}
	merged = append(merged, added...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

func fields(ctx context.Context) []slog.Attr {
	attrs, _ := ctx.Value(fieldsKey{}).([]slog.Attr)
	return attrs
}

func hasKey(attrs []slog.Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

// FromContext returns a logger enriched with request context: the chi
// request ID plus any fields stored with With.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	// Chi's RequestID middleware stores the ID in context
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	for _, a := range fields(ctx) {
		logger = logger.With(a)
	}

	return logger
}

// WithFields returns a logger with additional structured fields for a
// single multi-step operation.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// Field returns the value stored under key by With.
func Field(ctx context.Context, key string) (slog.Value, bool) {
	for _, a := range fields(ctx) {
		if a.Key == key {
			return a.Value, true
		}
	}
	return slog.Value{}, false
}
