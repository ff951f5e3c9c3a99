// Package metrics provides Prometheus metrics collection for Warden.
//
// # Metrics Categories
//
//   - Decision Metrics: validations by verdict and operation, rule matches
//   - Execution Metrics: executions by status, duration, rows affected, retries
//   - Ledger Metrics: appends, append latency, failures, verification problems
//   - Policy Metrics: reloads by source and result, active rule count, revision
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordDecision("allow", "read", 40*time.Microsecond)
//	collector.RecordExecution("executed", "update", 12*time.Millisecond, 3, 1)
//
// All Record methods are safe on a nil *Collector and when metrics are
// disabled, so callers never need to guard them.
//
// # Prometheus Endpoint
//
//	# HELP warden_governance_decisions_total Total number of validation decisions
//	# TYPE warden_governance_decisions_total counter
//	warden_governance_decisions_total{operation="delete",verdict="deny"} 17
//
// # Cardinality Management
//
// Rule IDs come from the policy document. The collector caps the number of
// distinct rule label values and folds the rest into "other".
package metrics
