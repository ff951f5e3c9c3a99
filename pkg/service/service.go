package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/telemetry/logging"
	"mercator-hq/warden/pkg/telemetry/metrics"
	"mercator-hq/warden/pkg/telemetry/tracing"
	"mercator-hq/warden/pkg/validation"
)

const (
	defaultAdminRole = "admin"

	// ReasonAdminRequired is the decision reason recorded when a non-admin
	// actor attempts a policy reload.
	ReasonAdminRequired = "policy reload requires the admin role"

	// RedactedError replaces internal failure detail shown to non-admin
	// actors.
	RedactedError = "internal failure"

	reloadSourceAPI = "api"
)

// Options wires a Service to its collaborators.
type Options struct {
	Store     *policy.Store
	Validator *validation.Engine
	Executor  *execution.Engine
	Ledger    audit.Ledger

	// Source receives documents accepted by ReloadPolicy when it implements
	// policy.WritableSource. Optional.
	Source policy.Source

	// Metrics and Tracer are optional.
	Metrics *metrics.Collector
	Tracer  *tracing.Tracer

	// AdminRole may reload the policy and see internal failure detail.
	// Defaults to "admin".
	AdminRole string

	// MaxQueryLimit caps QueryAudit results. Zero means no cap.
	MaxQueryLimit int

	// RecordValidations appends a validate record for every successful
	// Validate call.
	RecordValidations bool
}

// ExecuteOptions are the per-call execution flags.
type ExecuteOptions struct {
	DryRun        bool
	Justification string
}

// Schema is the table metadata declared by the active policy.
type Schema struct {
	PolicyVersion string                      `json:"policy_version"`
	Tables        map[string]policy.TableMeta `json:"tables"`
}

// Service implements the governance operations over a policy store, the
// two engines and the audit ledger. It is safe for concurrent use.
type Service struct {
	store     *policy.Store
	validator *validation.Engine
	executor  *execution.Engine
	ledger    audit.Ledger
	source    policy.Source
	metrics   *metrics.Collector
	tracer    *tracing.Tracer

	adminRole         string
	maxQueryLimit     int
	recordValidations bool

	// reloadMu keeps the persisted document and the active policy in step
	// across concurrent reloads.
	reloadMu sync.Mutex

	logger *slog.Logger
}

// New creates a Service. The policy store must not be shared yet: New
// registers a swap hook on it when metrics are enabled.
func New(opts Options) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("service: policy store is required")
	case opts.Validator == nil:
		return nil, errors.New("service: validation engine is required")
	case opts.Executor == nil:
		return nil, errors.New("service: execution engine is required")
	case opts.Ledger == nil:
		return nil, errors.New("service: audit ledger is required")
	}

	s := &Service{
		store:             opts.Store,
		validator:         opts.Validator,
		executor:          opts.Executor,
		ledger:            opts.Ledger,
		source:            opts.Source,
		metrics:           opts.Metrics,
		tracer:            opts.Tracer,
		adminRole:         opts.AdminRole,
		maxQueryLimit:     opts.MaxQueryLimit,
		recordValidations: opts.RecordValidations,
		logger:            slog.Default().With("component", "service"),
	}
	if s.adminRole == "" {
		s.adminRole = defaultAdminRole
	}

	if s.metrics != nil {
		s.store.OnSwap(func(_, next *policy.Policy) {
			s.metrics.UpdateActivePolicy(next.Revision(), len(next.SafetyRules))
		})
		if current, err := s.store.Current(); err == nil {
			s.metrics.UpdateActivePolicy(current.Revision(), len(current.SafetyRules))
		}
	}
	return s, nil
}

// Validate evaluates p for actor against the active policy. Malformed plans
// and a missing policy return an error and leave no audit record.
func (s *Service) Validate(ctx context.Context, actor policy.Actor, p *plan.Plan) (validation.Decision, error) {
	ctx, requestID := s.requestContext(ctx, actor)
	ctx, span := s.tracer.Start(ctx, "warden.validate")
	defer span.End()
	tracing.SetActorAttributes(span, requestID, actor.ID, actor.Role)

	decision, err := s.decide(ctx, actor, p)
	if err != nil {
		tracing.SetError(span, err)
		return validation.Decision{}, err
	}

	if s.recordValidations {
		_, err = s.record(ctx, audit.Entry{
			Kind:      audit.KindValidate,
			Actor:     actor,
			RequestID: requestID,
			Plan:      p,
			Decision:  decision,
		})
	}
	tracing.SetError(span, err)
	return decision, err
}

// Execute validates p and, when the decision permits it, runs it against the
// data store. Every call appends exactly one execute record, including calls
// rejected for a malformed plan or a missing policy. The returned Outcome is
// always populated. If the record cannot be appended the error includes an
// *AuditWriteError.
func (s *Service) Execute(ctx context.Context, actor policy.Actor, p *plan.Plan, opts ExecuteOptions) (execution.Outcome, error) {
	ctx, requestID := s.requestContext(ctx, actor)
	ctx, span := s.tracer.Start(ctx, "warden.execute")
	defer span.End()
	tracing.SetActorAttributes(span, requestID, actor.ID, actor.Role)

	start := time.Now()
	entry := audit.Entry{
		Kind:          audit.KindExecute,
		Actor:         actor,
		RequestID:     requestID,
		Plan:          p,
		Justification: opts.Justification,
		DryRun:        opts.DryRun,
	}

	var (
		outcome execution.Outcome
		execErr error
	)
	decision, err := s.decide(ctx, actor, p)
	if err != nil {
		outcome, execErr = execution.Rejected(err), err
		entry.Decision = validation.Decision{
			Verdict: validation.VerdictDeny,
			Reason:  err.Error(),
		}
	} else {
		outcome, execErr = s.executor.Execute(ctx, execution.Request{
			Actor:         actor,
			Plan:          p,
			Decision:      decision,
			DryRun:        opts.DryRun,
			Justification: opts.Justification,
		})
		entry.Decision = decision.Justify(opts.Justification)
	}
	entry.Outcome = &outcome

	operation := ""
	if p != nil {
		operation = string(p.Operation)
	}
	s.metrics.RecordExecution(string(outcome.Status), operation, time.Since(start), outcome.RowsAffected, outcome.Attempts)
	if outcome.ErrorKind != "" {
		s.metrics.RecordExecutionError(string(outcome.ErrorKind))
	}
	tracing.SetOutcomeAttributes(span, string(outcome.Status), outcome.RowsAffected, outcome.Attempts, opts.DryRun)

	seq, auditErr := s.record(ctx, entry)
	err = errors.Join(execErr, auditErr)
	tracing.SetError(span, err)

	logging.FromContext(ctx, s.logger).DebugContext(ctx, "execute handled",
		"status", outcome.Status,
		"error_kind", outcome.ErrorKind,
		"seq", seq,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, err
}

// QueryAudit returns the records matching f in ascending sequence order. The
// limit defaults to, and may not exceed, the configured maximum. For actors
// other than the admin role, data-store and internal failure messages are
// replaced with a generic classification.
func (s *Service) QueryAudit(ctx context.Context, actor policy.Actor, f audit.Filter) ([]*audit.Record, error) {
	ctx, requestID := s.requestContext(ctx, actor)
	ctx, span := s.tracer.Start(ctx, "warden.audit.query")
	defer span.End()
	tracing.SetActorAttributes(span, requestID, actor.ID, actor.Role)

	if err := f.Validate(s.maxQueryLimit); err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	if f.Limit == 0 {
		f.Limit = s.maxQueryLimit
	}

	records, err := audit.Collect(s.ledger.Query(ctx, f))
	if err != nil {
		tracing.SetError(span, err)
		return nil, err
	}
	if !s.IsAdmin(actor) {
		for _, r := range records {
			redact(r)
		}
	}

	span.SetAttributes(attribute.Int("warden.audit.records", len(records)))
	tracing.SetError(span, nil)
	return records, nil
}

// redact hides internal failure detail. Records returned by the ledger are
// fresh copies, so this never touches stored history.
func redact(r *audit.Record) {
	if r.Outcome == nil {
		return
	}
	switch r.Outcome.ErrorKind {
	case execution.KindDataStore, execution.KindInternal:
		r.Outcome.Error = RedactedError
	}
}

// ReloadPolicy replaces the active policy with document. Only the admin role
// may reload. A document that fails to parse or validate returns a
// *policy.ConfigError and leaves the previous policy active. When the
// configured source is writable the document is persisted before the swap.
// Every call appends one policy_reload record.
func (s *Service) ReloadPolicy(ctx context.Context, actor policy.Actor, document []byte) error {
	ctx, requestID := s.requestContext(ctx, actor)
	ctx, span := s.tracer.Start(ctx, "warden.policy_reload")
	defer span.End()
	tracing.SetActorAttributes(span, requestID, actor.ID, actor.Role)
	logger := logging.FromContext(ctx, s.logger)

	entry := audit.Entry{
		Kind:      audit.KindPolicyReload,
		Actor:     actor,
		RequestID: requestID,
	}
	if current, err := s.store.Current(); err == nil {
		entry.PolicyVersion = current.Revision()
	}

	if !s.IsAdmin(actor) {
		err := &execution.NotAuthorizedError{Verdict: policy.VerdictDeny, Reason: ReasonAdminRequired}
		outcome := execution.Rejected(err)
		entry.Decision = validation.Decision{Verdict: validation.VerdictDeny, Reason: ReasonAdminRequired}
		entry.Outcome = &outcome

		s.metrics.RecordPolicyReload(reloadSourceAPI, "denied")
		logger.WarnContext(ctx, "policy reload denied")
		return s.finishReload(ctx, span, entry, err)
	}

	entry.Decision = validation.Decision{Verdict: validation.VerdictAllow, Reason: validation.ReasonAllowed}
	next, err := s.apply(ctx, document)
	if err != nil {
		outcome := execution.Outcome{
			Status:    execution.StatusFailed,
			ErrorKind: execution.Classify(err),
			Error:     err.Error(),
		}
		entry.Outcome = &outcome

		s.metrics.RecordPolicyReload(reloadSourceAPI, "failure")
		logger.ErrorContext(ctx, "policy reload failed", "error", err)
		return s.finishReload(ctx, span, entry, err)
	}

	outcome := execution.Outcome{Status: execution.StatusExecuted}
	entry.Outcome = &outcome
	entry.PolicyVersion = next.Revision()
	entry.Decision.PolicyVersion = next.Revision()

	s.metrics.RecordPolicyReload(reloadSourceAPI, "success")
	logger.InfoContext(ctx, "policy reloaded",
		"revision", next.Revision(),
		"roles", len(next.Roles),
		"safety_rules", len(next.SafetyRules),
	)
	return s.finishReload(ctx, span, entry, nil)
}

// apply parses document, persists it when the source allows and swaps it in.
// Write and swap happen under reloadMu, so the last document persisted is the
// one that ends up active.
func (s *Service) apply(ctx context.Context, document []byte) (*policy.Policy, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next, err := policy.Load(document)
	if err != nil {
		return nil, err
	}

	switch src := s.source.(type) {
	case nil:
	case policy.WritableSource:
		if err := src.Write(ctx, document); err != nil {
			return nil, fmt.Errorf("failed to persist policy to %s: %w", src.Name(), err)
		}
	default:
		s.logger.WarnContext(ctx, "policy source is read-only, reload applies in memory only",
			"source", src.Name(),
		)
	}

	if err := s.store.Replace(next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *Service) finishReload(ctx context.Context, span trace.Span, entry audit.Entry, err error) error {
	_, auditErr := s.record(ctx, entry)
	err = errors.Join(err, auditErr)
	tracing.SetError(span, err)
	return err
}

// Schema returns the table metadata declared by the active policy.
func (s *Service) Schema() (*Schema, error) {
	pol, err := s.store.Current()
	if err != nil {
		return nil, err
	}
	tables := make(map[string]policy.TableMeta, len(pol.Tables))
	for name, meta := range pol.Tables {
		tables[name] = meta
	}
	return &Schema{PolicyVersion: pol.Revision(), Tables: tables}, nil
}

// Policy returns the active policy snapshot.
func (s *Service) Policy() (*policy.Policy, error) {
	return s.store.Current()
}

// IsAdmin reports whether actor holds the admin role.
func (s *Service) IsAdmin(actor policy.Actor) bool {
	return actor.Role == s.adminRole
}

// decide runs validation and records decision metrics and span attributes.
func (s *Service) decide(ctx context.Context, actor policy.Actor, p *plan.Plan) (validation.Decision, error) {
	if p == nil {
		return validation.Decision{}, plan.NewMalformedPlanError("plan", "plan is required")
	}
	span := trace.SpanFromContext(ctx)
	tracing.SetPlanAttributes(span, string(p.Operation), p.Table)

	start := time.Now()
	d, err := s.validator.Validate(ctx, actor, p)
	if err != nil {
		return validation.Decision{}, err
	}

	s.metrics.RecordDecision(string(d.Verdict), string(p.Operation), time.Since(start))
	for _, m := range d.MatchedRules {
		s.metrics.RecordRuleMatch(string(m.Category), m.ID)
	}
	tracing.SetDecisionAttributes(span, string(d.Verdict), d.Reason, d.Override, d.PolicyVersion)
	return d, nil
}

// record appends a record built from e. The append is detached from ctx
// cancellation: a request that has already been processed must still be
// recorded after its caller goes away.
func (s *Service) record(ctx context.Context, e audit.Entry) (int64, error) {
	r := audit.NewRecord(e)

	start := time.Now()
	seq, err := s.ledger.Append(context.WithoutCancel(ctx), r)
	s.metrics.RecordLedgerAppend(string(e.Kind), time.Since(start), err)
	if err != nil {
		logging.FromContext(ctx, s.logger).ErrorContext(ctx, "failed to append audit record",
			"kind", e.Kind,
			"record_id", r.ID,
			"error", err,
		)
		return 0, NewAuditWriteError(e.Kind, err)
	}

	s.metrics.UpdateLedgerSeq(seq)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64(tracing.AttrAuditSeq, seq))
	return seq, nil
}

// requestContext ensures ctx carries a request id and the actor for
// request-scoped logging.
func (s *Service) requestContext(ctx context.Context, actor policy.Actor) (context.Context, string) {
	id := logging.GetRequestID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = logging.WithRequestID(ctx, id)
	}
	return logging.WithActor(ctx, actor.ID, actor.Role), id
}
