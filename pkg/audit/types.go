package audit

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/validation"
)

// Kind is the request type a record documents.
type Kind string

const (
	KindValidate     Kind = "validate"
	KindExecute      Kind = "execute"
	KindPolicyReload Kind = "policy_reload"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindValidate, KindExecute, KindPolicyReload:
		return true
	}
	return false
}

// Record is one immutable ledger entry.
type Record struct {
	// Seq is the ledger-assigned sequence id.
	Seq int64 `json:"seq"`

	// ID is a UUID assigned when the record is built.
	ID string `json:"id"`

	Kind    Kind   `json:"kind"`
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`

	// RequestID correlates the record with logs.
	RequestID string `json:"request_id,omitempty"`

	// Plan is a snapshot of the evaluated plan. Nil for policy reloads and
	// for plans too malformed to decode.
	Plan *plan.Plan `json:"plan,omitempty"`

	Decision validation.Decision `json:"decision"`

	// Outcome is nil for validate records.
	Outcome *execution.Outcome `json:"outcome,omitempty"`

	// Justification is the caller's free-text rationale, if any.
	Justification *string `json:"justification"`

	DryRun bool `json:"dry_run,omitempty"`

	// Timestamp is when the record was built, in UTC.
	Timestamp time.Time `json:"timestamp"`

	// PolicyVersion is the revision of the policy the decision used.
	PolicyVersion string `json:"policy_version,omitempty"`

	// Hash is the hex SHA-256 of the record's canonical encoding without
	// the hash. Set by the ledger on append.
	Hash string `json:"hash,omitempty"`
}

// Entry carries the inputs for a new record.
type Entry struct {
	Kind          Kind
	Actor         policy.Actor
	RequestID     string
	Plan          *plan.Plan
	Decision      validation.Decision
	Outcome       *execution.Outcome
	Justification string
	DryRun        bool
	PolicyVersion string
}

// NewRecord builds a record from e. The plan and decision are copied so the
// record never aliases caller state, and returned rows are dropped from the
// outcome.
func NewRecord(e Entry) *Record {
	r := &Record{
		ID:            uuid.New().String(),
		Kind:          e.Kind,
		ActorID:       e.Actor.ID,
		Role:          e.Actor.Role,
		RequestID:     e.RequestID,
		Decision:      e.Decision.Clone(),
		DryRun:        e.DryRun,
		Timestamp:     time.Now().UTC(),
		PolicyVersion: e.PolicyVersion,
	}
	if r.PolicyVersion == "" {
		r.PolicyVersion = e.Decision.PolicyVersion
	}
	if e.Plan != nil {
		snapshot := e.Plan.Clone()
		r.Plan = &snapshot
	}
	if e.Outcome != nil {
		o := e.Outcome.WithoutRows()
		r.Outcome = &o
	}
	if e.Justification != "" {
		j := e.Justification
		r.Justification = &j
	}
	return r
}

// Ledger is the append-only record store. Implementations must be safe for
// concurrent use.
type Ledger interface {
	// Append assigns the next sequence id, seals the record and persists it.
	// A nil error means the record is durable.
	Append(ctx context.Context, r *Record) (int64, error)

	// Query returns a lazy sequence of records matching f in ascending
	// sequence order. Each range over the result re-runs the query.
	Query(ctx context.Context, f Filter) iter.Seq2[*Record, error]

	// Entries yields raw stored entries after afterSeq for verification.
	Entries(ctx context.Context, afterSeq int64) iter.Seq2[StoredEntry, error]

	// LastSeq returns the highest sequence id issued.
	LastSeq(ctx context.Context) (int64, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
