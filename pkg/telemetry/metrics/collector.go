package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// maxRuleLabels caps distinct rule_id label values.
const maxRuleLabels = 1000

// Collector is the entry point for all Warden metrics.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisionMetrics  *DecisionMetrics
	executionMetrics *ExecutionMetrics
	ledgerMetrics    *LedgerMetrics
	policyMetrics    *PolicyMetrics

	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a collector and registers its metrics with registry.
// If registry is nil, a new one is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:             cfg,
		registry:           registry,
		decisionMetrics:    NewDecisionMetrics(cfg, registry),
		executionMetrics:   NewExecutionMetrics(cfg, registry),
		ledgerMetrics:      NewLedgerMetrics(cfg, registry),
		policyMetrics:      NewPolicyMetrics(cfg, registry),
		cardinalityLimiter: NewCardinalityLimiter(maxRuleLabels),
	}
}

func (c *Collector) enabled() bool {
	return c != nil && c.config.IsEnabled()
}

// RecordDecision records one validation decision.
func (c *Collector) RecordDecision(verdict, operation string, duration time.Duration) {
	if !c.enabled() {
		return
	}
	c.decisionMetrics.RecordDecision(verdict, operation, duration)
}

// RecordRuleMatch records that a rule contributed to a decision.
func (c *Collector) RecordRuleMatch(category, ruleID string) {
	if !c.enabled() {
		return
	}
	if !c.cardinalityLimiter.Allow(ruleID) {
		ruleID = "other"
	}
	c.decisionMetrics.RecordRuleMatch(category, ruleID)
}

// RecordExecution records a finished execution.
func (c *Collector) RecordExecution(status, operation string, duration time.Duration, rowsAffected int64, attempts int) {
	if !c.enabled() {
		return
	}
	c.executionMetrics.RecordExecution(status, operation, duration, rowsAffected, attempts)
}

// RecordExecutionError records a failed or rejected execution by error kind.
func (c *Collector) RecordExecutionError(kind string) {
	if !c.enabled() {
		return
	}
	c.executionMetrics.RecordError(kind)
}

// RecordLedgerAppend records an append attempt.
func (c *Collector) RecordLedgerAppend(kind string, duration time.Duration, err error) {
	if !c.enabled() {
		return
	}
	c.ledgerMetrics.RecordAppend(kind, duration, err)
}

// UpdateLedgerSeq sets the last issued sequence id.
func (c *Collector) UpdateLedgerSeq(seq int64) {
	if !c.enabled() {
		return
	}
	c.ledgerMetrics.UpdateLastSeq(seq)
}

// RecordVerification records a ledger verification run.
func (c *Collector) RecordVerification(checked, problems int) {
	if !c.enabled() {
		return
	}
	c.ledgerMetrics.RecordVerification(checked, problems)
}

// RecordPolicyReload records a reload attempt from source ("file", "git",
// "admin") with result "success" or "rejected".
func (c *Collector) RecordPolicyReload(source, result string) {
	if !c.enabled() {
		return
	}
	c.policyMetrics.RecordReload(source, result)
}

// UpdateActivePolicy sets the active policy revision and rule count.
func (c *Collector) UpdateActivePolicy(revision string, rules int) {
	if !c.enabled() {
		return
	}
	c.policyMetrics.UpdateActive(revision, rules)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter limits the number of distinct label values.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter allowing maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value may be used as a label. Known values are
// always allowed; new values are allowed until the limit is reached.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
