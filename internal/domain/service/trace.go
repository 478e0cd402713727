package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// traceIDKey is the private context key for request trace ids.
type traceIDKey struct{}

// WithTraceID attaches the request's trace id to ctx. An empty id gets a
// fresh one.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the trace id of ctx, or "".
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey{}).(string); ok {
		return id
	}
	return ""
}

// TraceField is the zap field carrying the trace id of ctx.
func TraceField(ctx context.Context) zap.Field {
	return zap.String("trace_id", TraceIDFromContext(ctx))
}
