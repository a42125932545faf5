package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/nocassist/nocassist/internal/config"
)

type ctxKey struct{}

// NewLogger builds the process logger. Every line carries the service name,
// profile and store backend so mixed deployments can be told apart.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	options := &slog.HandlerOptions{
		Level:     cfg.Observability.LogLevel,
		AddSource: cfg.Observability.LogLevel <= slog.LevelDebug,
	}
	var handler slog.Handler = slog.NewTextHandler(writer, options)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, options)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("store_backend", string(cfg.Store.Backend)),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(ctxKey{}).(string)
	return traceID
}
