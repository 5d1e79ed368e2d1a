package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type sessionCtxKey struct{}
type phaseCtxKey struct{}
type requestCtxKey struct{}

type sessionInfo struct {
	id   string
	task string
}

// ContextFields extracts correlation data from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	if s, ok := ctx.Value(sessionCtxKey{}).(sessionInfo); ok {
		fields = append(fields, zap.String("session.id", s.id))
		if s.task != "" {
			fields = append(fields, zap.String("task.ref", s.task))
		}
	}

	if phase, ok := ctx.Value(phaseCtxKey{}).(string); ok && phase != "" {
		fields = append(fields, zap.String("phase", phase))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

// WithSession records the workflow session and its task reference on ctx.
func WithSession(ctx context.Context, sessionID, task string) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sessionInfo{id: sessionID, task: task})
}

// SessionIDFromContext returns the session id stored by WithSession.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(sessionInfo); ok {
		return s.id
	}
	return ""
}

// WithPhase records the phase currently executing.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseCtxKey{}, phase)
}

// WithRequestID records an inbound request id (HTTP, MCP).
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}
