package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// DecisionMetrics tracks validation decisions.
//
// Metrics:
//   - warden_governance_decisions_total: decisions by verdict and operation
//   - warden_governance_decision_duration_seconds: validation latency
//   - warden_governance_rule_matches_total: rule contributions by category and rule
type DecisionMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	decisionDuration *prometheus.HistogramVec
	ruleMatchesTotal *prometheus.CounterVec
}

// NewDecisionMetrics creates and registers decision metrics.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decisions_total",
				Help:      "Total number of validation decisions",
			},
			[]string{"verdict", "operation"},
		),

		decisionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "decision_duration_seconds",
				Help:      "Duration of plan validation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
			[]string{"operation"},
		),

		ruleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rule_matches_total",
				Help:      "Total number of rule matches recorded in decisions",
			},
			[]string{"category", "rule_id"},
		),
	}

	registry.MustRegister(
		dm.decisionsTotal,
		dm.decisionDuration,
		dm.ruleMatchesTotal,
	)
	return dm
}

// RecordDecision records one decision.
func (dm *DecisionMetrics) RecordDecision(verdict, operation string, duration time.Duration) {
	dm.decisionsTotal.WithLabelValues(verdict, operation).Inc()
	dm.decisionDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRuleMatch records a rule match.
func (dm *DecisionMetrics) RecordRuleMatch(category, ruleID string) {
	dm.ruleMatchesTotal.WithLabelValues(category, ruleID).Inc()
}
