// Package observability carries the logging, tracing and Prometheus plumbing
// shared by the API server: a slog logger preconfigured for the active
// profile, trace ID propagation, HTTP middleware and the domain metric
// helpers.
package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/sheetflow/sheetflow/internal/config"
)

type traceKey struct{}

// NewLogger builds the process logger. Output is JSON or logfmt-style text
// per the observability config; every record carries the service name and
// profile so aggregated logs from several deployments stay separable.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}

	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// WithTrace returns the logger with the context's trace ID attached, or the
// logger unchanged when the context carries none.
func WithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	traceID := TraceIDFromContext(ctx)
	if traceID == "" {
		return logger
	}
	return logger.With(slog.String("trace_id", traceID))
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceKey{}).(string)
	return traceID
}
