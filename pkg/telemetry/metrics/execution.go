package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// ExecutionMetrics tracks plan executions.
//
// Metrics:
//   - warden_governance_executions_total: executions by status and operation
//   - warden_governance_execution_duration_seconds: execution latency
//   - warden_governance_rows_affected: measured row impact
//   - warden_governance_execution_retries_total: extra read attempts
//   - warden_governance_execution_errors_total: failures by error kind
type ExecutionMetrics struct {
	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	rowsAffected      *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	errorsTotal       *prometheus.CounterVec
}

// NewExecutionMetrics creates and registers execution metrics.
func NewExecutionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ExecutionMetrics {
	em := &ExecutionMetrics{
		executionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "executions_total",
				Help:      "Total number of plan executions by outcome status",
			},
			[]string{"status", "operation"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "execution_duration_seconds",
				Help:      "Duration of plan execution in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"operation"},
		),

		rowsAffected: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rows_affected",
				Help:      "Rows affected or matched per execution",
				Buckets:   []float64{0, 1, 10, 100, 1000, 10000, 100000},
			},
			[]string{"operation"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "execution_retries_total",
				Help:      "Total number of read attempts beyond the first",
			},
			[]string{"operation"},
		),

		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "execution_errors_total",
				Help:      "Total number of rejected or failed executions by error kind",
			},
			[]string{"kind"},
		),
	}

	registry.MustRegister(
		em.executionsTotal,
		em.executionDuration,
		em.rowsAffected,
		em.retriesTotal,
		em.errorsTotal,
	)
	return em
}

// RecordExecution records one execution.
func (em *ExecutionMetrics) RecordExecution(status, operation string, duration time.Duration, rowsAffected int64, attempts int) {
	em.executionsTotal.WithLabelValues(status, operation).Inc()
	em.executionDuration.WithLabelValues(operation).Observe(duration.Seconds())
	em.rowsAffected.WithLabelValues(operation).Observe(float64(rowsAffected))
	if attempts > 1 {
		em.retriesTotal.WithLabelValues(operation).Add(float64(attempts - 1))
	}
}

// RecordError records an execution error by kind.
func (em *ExecutionMetrics) RecordError(kind string) {
	em.errorsTotal.WithLabelValues(kind).Inc()
}
