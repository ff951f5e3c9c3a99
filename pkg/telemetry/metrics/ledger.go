package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/warden/pkg/config"
)

// LedgerMetrics tracks the audit ledger.
//
// Metrics:
//   - warden_governance_ledger_appends_total: appends by record kind and result
//   - warden_governance_ledger_append_duration_seconds: append latency
//   - warden_governance_ledger_last_seq: last issued sequence id
//   - warden_governance_ledger_verified_records: records checked by the last verification
//   - warden_governance_ledger_integrity_problems: problems found by the last verification
type LedgerMetrics struct {
	appendsTotal    *prometheus.CounterVec
	appendDuration  prometheus.Histogram
	lastSeq         prometheus.Gauge
	verifiedRecords prometheus.Gauge
	problems        prometheus.Gauge
}

// NewLedgerMetrics creates and registers ledger metrics.
func NewLedgerMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LedgerMetrics {
	lm := &LedgerMetrics{
		appendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_appends_total",
				Help:      "Total number of audit ledger appends",
			},
			[]string{"kind", "result"},
		),

		appendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_append_duration_seconds",
				Help:      "Duration of durable ledger appends in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~1.6s
			},
		),

		lastSeq: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_last_seq",
				Help:      "Last sequence id issued by the audit ledger",
			},
		),

		verifiedRecords: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_verified_records",
				Help:      "Records checked by the last ledger verification",
			},
		),

		problems: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "ledger_integrity_problems",
				Help:      "Integrity problems found by the last ledger verification",
			},
		),
	}

	registry.MustRegister(
		lm.appendsTotal,
		lm.appendDuration,
		lm.lastSeq,
		lm.verifiedRecords,
		lm.problems,
	)
	return lm
}

// RecordAppend records an append attempt.
func (lm *LedgerMetrics) RecordAppend(kind string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	lm.appendsTotal.WithLabelValues(kind, result).Inc()
	lm.appendDuration.Observe(duration.Seconds())
}

// UpdateLastSeq sets the last issued sequence id.
func (lm *LedgerMetrics) UpdateLastSeq(seq int64) {
	lm.lastSeq.Set(float64(seq))
}

// RecordVerification records a verification run.
func (lm *LedgerMetrics) RecordVerification(checked, problems int) {
	lm.verifiedRecords.Set(float64(checked))
	lm.problems.Set(float64(problems))
}
