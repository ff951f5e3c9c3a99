package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// PolicyMetrics tracks policy reloads and the active policy.
//
// Metrics:
//   - warden_governance_policy_reloads_total: reloads by source and result
//   - warden_governance_policy_safety_rules: safety rules in the active policy
//   - warden_governance_policy_info: 1 for the active revision
type PolicyMetrics struct {
	reloadsTotal *prometheus.CounterVec
	safetyRules  prometheus.Gauge
	info         *prometheus.GaugeVec

	mu       sync.Mutex
	revision string
}

// NewPolicyMetrics creates and registers policy metrics.
func NewPolicyMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PolicyMetrics {
	pm := &PolicyMetrics{
		reloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_reloads_total",
				Help:      "Total number of policy reload attempts",
			},
			[]string{"source", "result"},
		),

		safetyRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_safety_rules",
				Help:      "Number of safety rules in the active policy",
			},
		),

		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "policy_info",
				Help:      "Active policy revision (value is always 1)",
			},
			[]string{"revision"},
		),
	}

	registry.MustRegister(
		pm.reloadsTotal,
		pm.safetyRules,
		pm.info,
	)
	return pm
}

// RecordReload records a reload attempt.
func (pm *PolicyMetrics) RecordReload(source, result string) {
	pm.reloadsTotal.WithLabelValues(source, result).Inc()
}

// UpdateActive replaces the active revision label and rule count.
func (pm *PolicyMetrics) UpdateActive(revision string, rules int) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.revision != "" {
		pm.info.DeleteLabelValues(pm.revision)
	}
	pm.revision = revision
	pm.info.WithLabelValues(revision).Set(1)
	pm.safetyRules.Set(float64(rules))
}
