// Package appctx carries cross-cutting request state through contexts,
// built on slog. Event handlers attach a logger enriched with correlation
// fields so downstream components log consistently.
package appctx

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// WithLogger attaches a logger to the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// Logger returns the logger from the context, or slog.Default() if none
// was attached.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithEventLogger attaches a logger enriched with the event correlation id.
// Every inbound chat event passes through here before dispatch.
func WithEventLogger(ctx context.Context, l *slog.Logger, eventID string) context.Context {
	return WithLogger(ctx, l.With("event_id", eventID))
}
