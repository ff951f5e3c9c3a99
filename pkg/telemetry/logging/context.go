package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	actorKey     contextKey = "actor"
)

type actorFields struct {
	id   string
	role string
}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithActor adds the calling actor to the context.
func WithActor(ctx context.Context, id, role string) context.Context {
	return context.WithValue(ctx, actorKey, actorFields{id: id, role: role})
}

// GetActor retrieves the calling actor from the context.
func GetActor(ctx context.Context) (id, role string) {
	if a, ok := ctx.Value(actorKey).(actorFields); ok {
		return a.id, a.role
	}
	return "", ""
}

// Fields returns the request-scoped key-value pairs found in ctx.
func Fields(ctx context.Context) []any {
	var fields []any

	if id := GetRequestID(ctx); id != "" {
		fields = append(fields, "request_id", id)
	}
	if id, role := GetActor(ctx); id != "" || role != "" {
		fields = append(fields, "actor_id", id, "role", role)
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields, "trace_id", sc.TraceID().String())
	}
	return fields
}

// FromContext returns logger extended with the request-scoped fields in ctx.
// A nil logger means slog.Default().
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	fields := Fields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(fields...)
}
