// Package logctx carries a scoped slog.Logger through context, so deep call
// sites log with the attributes their caller attached.
package logctx

import (
	"context"
	"log/slog"
)

type contextKey struct{}

// WithLogger stores the logger in the context.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// Append derives a child logger with extra attributes and stores it back in
// the context. Workers use it to scope everything they log to one snapshot.
func Append(ctx context.Context, args ...any) context.Context {
	return WithLogger(ctx, LoggerFromContext(ctx).With(args...))
}

// LoggerFromContext returns the logger stored in the context, or
// slog.Default when none was stored.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
		return l
	}

	return slog.Default()
}
