package audit

import (
	"fmt"
	"time"

	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/policy"
)

// Filter selects ledger records. Zero fields do not filter.
type Filter struct {
	ActorID string `json:"actor_id,omitempty"`
	Role    string `json:"role,omitempty"`

	// Since is inclusive, Until exclusive.
	Since *time.Time `json:"since,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	Verdict policy.Verdict   `json:"verdict,omitempty"`
	Status  execution.Status `json:"status,omitempty"`
	Kind    Kind             `json:"kind,omitempty"`

	// AfterSeq returns only records with a greater sequence id.
	AfterSeq int64 `json:"after_seq,omitempty"`

	// Limit caps the number of records. Zero means no limit.
	Limit int `json:"limit,omitempty"`
}

// Validate checks the filter, capping Limit at maxLimit when maxLimit is
// positive.
func (f Filter) Validate(maxLimit int) error {
	if f.Limit < 0 {
		return NewQueryError(f, fmt.Errorf("limit must be >= 0, got %d", f.Limit))
	}
	if maxLimit > 0 && f.Limit > maxLimit {
		return NewQueryError(f, fmt.Errorf("limit must be <= %d, got %d", maxLimit, f.Limit))
	}
	if f.AfterSeq < 0 {
		return NewQueryError(f, fmt.Errorf("after_seq must be >= 0, got %d", f.AfterSeq))
	}
	if f.Since != nil && f.Until != nil && !f.Since.Before(*f.Until) {
		return NewQueryError(f, fmt.Errorf("since must be before until"))
	}
	if f.Verdict != "" {
		// Records store the canonical spelling, so aliases must be resolved
		// by the caller before querying.
		v, ok := policy.ParseVerdict(string(f.Verdict))
		if !ok {
			return NewQueryError(f, fmt.Errorf("invalid verdict: %s", f.Verdict))
		}
		if v != f.Verdict {
			return NewQueryError(f, fmt.Errorf("verdict %q is not canonical, use %q", f.Verdict, v))
		}
	}
	if f.Status != "" {
		switch f.Status {
		case execution.StatusExecuted, execution.StatusDryRun, execution.StatusRejected, execution.StatusFailed:
		default:
			return NewQueryError(f, fmt.Errorf("invalid status: %s", f.Status))
		}
	}
	if f.Kind != "" && !f.Kind.Valid() {
		return NewQueryError(f, fmt.Errorf("invalid kind: %s", f.Kind))
	}
	return nil
}

// Match reports whether r satisfies every field of the filter except Limit.
func (f Filter) Match(r *Record) bool {
	if r.Seq <= f.AfterSeq {
		return false
	}
	if f.ActorID != "" && r.ActorID != f.ActorID {
		return false
	}
	if f.Role != "" && r.Role != f.Role {
		return false
	}
	if f.Since != nil && r.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !r.Timestamp.Before(*f.Until) {
		return false
	}
	if f.Verdict != "" && r.Decision.Verdict != f.Verdict {
		return false
	}
	if f.Status != "" && (r.Outcome == nil || r.Outcome.Status != f.Status) {
		return false
	}
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	return true
}
