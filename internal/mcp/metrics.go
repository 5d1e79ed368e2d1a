package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/implflow/internal/workflow"
)

const instrumentationName = "github.com/fyrsmithlabs/implflow/internal/mcp"

// Metrics holds MCP tool metrics.
type Metrics struct {
	meter       metric.Meter
	logger      *zap.Logger
	invocations metric.Int64Counter
	duration    metric.Float64Histogram
	errors      metric.Int64Counter
	active      metric.Int64UpDownCounter
}

// NewMetrics creates metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.invocations, err = m.meter.Int64Counter(
		"implflow.mcp.tool.invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		m.logger.Warn("failed to create invocations counter", zap.Error(err))
	}

	// Begin and respond run phases synchronously, so buckets reach minutes.
	m.duration, err = m.meter.Float64Histogram(
		"implflow.mcp.tool.duration_seconds",
		metric.WithDescription("Duration of MCP tool invocations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"implflow.mcp.tool.errors_total",
		metric.WithDescription("Total number of MCP tool errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}

	m.active, err = m.meter.Int64UpDownCounter(
		"implflow.mcp.tool.active_requests",
		metric.WithDescription("Number of MCP tool calls in flight"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		m.logger.Warn("failed to create active requests counter", zap.Error(err))
	}
}

// IncrementActive marks a tool call as started.
func (m *Metrics) IncrementActive(ctx context.Context, toolName string) {
	if m.active != nil {
		m.active.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}

// DecrementActive marks a tool call as finished.
func (m *Metrics) DecrementActive(ctx context.Context, toolName string) {
	if m.active != nil {
		m.active.Add(ctx, -1, metric.WithAttributes(attribute.String("tool", toolName)))
	}
}

// RecordInvocation records one tool call.
func (m *Metrics) RecordInvocation(ctx context.Context, toolName string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("tool", toolName),
	}
	if m.invocations != nil {
		m.invocations.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if err != nil && m.errors != nil {
		errorAttrs := append(attrs, attribute.String("reason", categorizeError(err)))
		m.errors.Add(ctx, 1, metric.WithAttributes(errorAttrs...))
	}
}

// categorizeError maps an error to a low-cardinality reason.
func categorizeError(err error) string {
	var werr *workflow.Error
	switch {
	case err == nil:
		return ""
	case errors.Is(err, workflow.ErrSessionNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrActiveSession):
		return "conflict"
	case errors.Is(err, workflow.ErrEmptyTask),
		errors.Is(err, workflow.ErrInvalidAnswer),
		errors.Is(err, workflow.ErrUnknownGate):
		return "validation_error"
	case errors.Is(err, workflow.ErrGateNotPending),
		errors.Is(err, workflow.ErrNotResumable),
		errors.Is(err, workflow.ErrNotRevisable),
		errors.Is(err, workflow.ErrSessionDone):
		return "invalid_state"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.As(err, &werr):
		return string(werr.Kind)
	default:
		return "internal_error"
	}
}
