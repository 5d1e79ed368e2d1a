package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/implflow/internal/workflow"

var (
	promOnce    sync.Once
	promMetrics *prometheusMetrics
)

// prometheusMetrics are scraped from /metrics.
//
//   - implflow_session_transitions_total{status}
//   - implflow_gate_answers_total{gate,answer}
//   - implflow_validation_runs_total{result}
type prometheusMetrics struct {
	transitions *prometheus.CounterVec
	gates       *prometheus.CounterVec
	validations *prometheus.CounterVec
}

func registerPrometheus() *prometheusMetrics {
	promOnce.Do(func() {
		promMetrics = &prometheusMetrics{
			transitions: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "implflow_session_transitions_total",
				Help: "Session status transitions by target status",
			}, []string{"status"}),
			gates: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "implflow_gate_answers_total",
				Help: "Confirmation gate answers",
			}, []string{"gate", "answer"}),
			validations: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "implflow_validation_runs_total",
				Help: "Validation phase runs by result",
			}, []string{"result"}),
		}
	})
	return promMetrics
}

// Metrics records workflow instrumentation to OpenTelemetry and Prometheus.
type Metrics struct {
	logger *zap.Logger
	prom   *prometheusMetrics

	phaseRuns     metric.Int64Counter
	phaseDuration metric.Float64Histogram
	gateAnswers   metric.Int64Counter
}

// NewMetrics creates workflow metrics on meter. A nil meter uses the global provider.
func NewMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{logger: logger, prom: registerPrometheus()}

	var err error
	m.phaseRuns, err = meter.Int64Counter(
		"implflow.workflow.phase_runs_total",
		metric.WithDescription("Phase executions labeled by phase and outcome"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		logger.Warn("failed to create phase runs counter", zap.Error(err))
	}

	m.phaseDuration, err = meter.Float64Histogram(
		"implflow.workflow.phase_duration_seconds",
		metric.WithDescription("Phase execution time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800),
	)
	if err != nil {
		logger.Warn("failed to create phase duration histogram", zap.Error(err))
	}

	m.gateAnswers, err = meter.Int64Counter(
		"implflow.workflow.gate_answers_total",
		metric.WithDescription("Confirmation gate answers labeled by gate and answer"),
		metric.WithUnit("{answer}"),
	)
	if err != nil {
		logger.Warn("failed to create gate answers counter", zap.Error(err))
	}

	return m
}

// RecordPhase records one phase execution.
func (m *Metrics) RecordPhase(ctx context.Context, phase Phase, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("phase", string(phase)),
		attribute.String("outcome", outcome),
	)
	if m.phaseRuns != nil {
		m.phaseRuns.Add(ctx, 1, attrs)
	}
	if m.phaseDuration != nil {
		m.phaseDuration.Record(ctx, d.Seconds(), attrs)
	}
}

// RecordGate records a gate answer.
func (m *Metrics) RecordGate(ctx context.Context, gate GateID, answer Answer) {
	if m == nil {
		return
	}
	if m.gateAnswers != nil {
		m.gateAnswers.Add(ctx, 1, metric.WithAttributes(
			attribute.String("gate", string(gate)),
			attribute.String("answer", string(answer)),
		))
	}
	m.prom.gates.WithLabelValues(string(gate), string(answer)).Inc()
}

// RecordTransition records a status transition.
func (m *Metrics) RecordTransition(to Status) {
	if m == nil {
		return
	}
	m.prom.transitions.WithLabelValues(string(to)).Inc()
}

// RecordValidation records a validation outcome.
func (m *Metrics) RecordValidation(passed bool) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.prom.validations.WithLabelValues(result).Inc()
}
