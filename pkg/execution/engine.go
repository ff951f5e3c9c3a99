package execution

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/validation"
)

// Request is a single execution attempt.
type Request struct {
	Actor         policy.Actor
	Plan          *plan.Plan
	Decision      validation.Decision
	DryRun        bool
	Justification string
}

// Engine executes approved plans.
type Engine struct {
	store  *DataStore
	cfg    config.ExecutionConfig
	logger *slog.Logger

	// base is cancelled by Close to abort in-flight transactions.
	base   context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	closed   bool
	inFlight sync.WaitGroup
}

// NewEngine creates an engine over store.
func NewEngine(store *DataStore, cfg *config.ExecutionConfig) *Engine {
	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		cfg:    *cfg,
		logger: slog.Default().With("component", "execution.engine"),
		base:   base,
		cancel: cancel,
	}
}

// Execute runs req.Plan if req.Decision, together with the justification,
// permits it. The returned Outcome is always populated; err is non-nil for
// rejected and failed outcomes.
func (e *Engine) Execute(ctx context.Context, req Request) (Outcome, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return failed(ErrClosed, 0), ErrClosed
	}
	e.inFlight.Add(1)
	e.mu.RUnlock()
	defer e.inFlight.Done()

	if req.Plan == nil {
		err := plan.NewMalformedPlanError("plan", "plan is required")
		return Rejected(err), err
	}

	decision := req.Decision.Justify(req.Justification)
	if !decision.Permits() {
		reason := decision.Reason
		if decision.Verdict == validation.VerdictRequireJustification {
			reason = "justification required: " + reason
		}
		err := &NotAuthorizedError{Verdict: decision.Verdict, Reason: reason}
		e.logger.InfoContext(ctx, "execution rejected",
			"actor_id", req.Actor.ID,
			"plan", req.Plan.String(),
			"verdict", decision.Verdict,
		)
		return Rejected(err), err
	}

	q, err := Build(e.store.Dialect(), req.Plan)
	if err != nil {
		return Rejected(err), err
	}

	ctx, cancel := e.runContext(ctx)
	defer cancel()

	start := time.Now()
	run := &run{
		engine:   e,
		req:      req,
		query:    q,
		guarded:  decision.Verdict != validation.VerdictRequireJustification,
		readRows: req.Plan.Operation == plan.OpRead && !req.DryRun,
	}

	var outcome Outcome
	if req.Plan.Operation == plan.OpRead {
		outcome, err = run.withRetry(ctx)
	} else {
		outcome, err = run.once(ctx)
	}
	if err != nil {
		err = e.contextError(ctx, err)
		outcome = failed(err, run.attempts)
		e.logger.WarnContext(ctx, "execution failed",
			"actor_id", req.Actor.ID,
			"plan", req.Plan.String(),
			"dry_run", req.DryRun,
			"error_kind", outcome.ErrorKind,
			"attempts", run.attempts,
			"error", err,
		)
		return outcome, err
	}

	e.logger.InfoContext(ctx, "execution completed",
		"actor_id", req.Actor.ID,
		"plan", req.Plan.String(),
		"status", outcome.Status,
		"rows_affected", outcome.RowsAffected,
		"attempts", run.attempts,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome, nil
}

// runContext derives the execution context: bounded by the configured
// timeout and cancelled when the engine closes.
func (e *Engine) runContext(ctx context.Context) (context.Context, context.CancelFunc) {
	var cancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	stop := context.AfterFunc(e.base, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// contextError replaces a failure caused by the run context with a timeout or
// cancellation error.
func (e *Engine) contextError(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &TimeoutError{Timeout: e.cfg.Timeout}
	case e.base.Err() != nil:
		return ErrClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return err
}

// Close cancels in-flight executions, which roll back, and waits for them to
// return.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.inFlight.Wait()
	e.logger.Info("execution engine closed")
	return nil
}

// run carries the state of one Execute call across attempts.
type run struct {
	engine   *Engine
	req      Request
	query    Query
	guarded  bool
	readRows bool
	attempts int
}

// withRetry retries transient failures with bounded exponential backoff.
func (r *run) withRetry(ctx context.Context) (Outcome, error) {
	rc := r.engine.cfg.ReadRetry
	maxAttempts := rc.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	expo := backoff.NewExponentialBackOff()
	if rc.InitialInterval > 0 {
		expo.InitialInterval = rc.InitialInterval
	}
	if rc.MaxInterval > 0 {
		expo.MaxInterval = rc.MaxInterval
	}
	expo.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxAttempts-1)), ctx)

	var outcome Outcome
	err := backoff.RetryNotify(func() error {
		var err error
		outcome, err = r.once(ctx)
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		r.engine.logger.WarnContext(ctx, "retrying read after transient error",
			"actor_id", r.req.Actor.ID,
			"attempt", r.attempts,
			"backoff_ms", wait.Milliseconds(),
			"error", err,
		)
	})
	return outcome, err
}

// once runs the statement in a single transaction. A dry run or a tripped
// impact guard rolls back; anything else commits.
func (r *run) once(ctx context.Context) (Outcome, error) {
	r.attempts++

	tx, err := r.engine.store.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, newDataStoreError("begin", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	outcome := Outcome{Attempts: r.attempts}
	if r.req.Plan.Operation == plan.OpRead {
		err = r.read(ctx, tx, &outcome)
	} else {
		err = r.write(ctx, tx, &outcome)
	}
	if err != nil {
		return Outcome{}, err
	}

	if err := r.checkImpact(outcome.RowsAffected); err != nil {
		return Outcome{}, err
	}

	if r.req.DryRun {
		outcome.Status = StatusDryRun
		return outcome, nil
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, newDataStoreError("commit", err)
	}
	committed = true
	outcome.Status = StatusExecuted
	return outcome, nil
}

func (r *run) write(ctx context.Context, tx *sql.Tx, outcome *Outcome) error {
	res, err := tx.ExecContext(ctx, r.query.SQL, r.query.Args...)
	if err != nil {
		return newDataStoreError("exec", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return newDataStoreError("exec", err)
	}
	outcome.RowsAffected = n
	return nil
}

// read counts every matching row and keeps up to MaxReadRows of them.
func (r *run) read(ctx context.Context, tx *sql.Tx, outcome *Outcome) error {
	rows, err := tx.QueryContext(ctx, r.query.SQL, r.query.Args...)
	if err != nil {
		return newDataStoreError("query", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return newDataStoreError("query", err)
	}

	limit := r.engine.cfg.MaxReadRows
	for rows.Next() {
		outcome.RowsAffected++
		if !r.readRows || (limit > 0 && len(outcome.Rows) >= limit) {
			if r.readRows {
				outcome.Truncated = true
			}
			continue
		}

		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return newDataStoreError("scan", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		outcome.Rows = append(outcome.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return newDataStoreError("query", err)
	}
	return nil
}

// checkImpact enforces the row threshold for destructive operations that
// were not already approved with a justification.
func (r *run) checkImpact(rows int64) error {
	threshold := r.engine.cfg.ImpactThreshold
	if !r.guarded || threshold <= 0 || !r.req.Plan.Operation.IsDestructive() {
		return nil
	}
	if rows <= threshold {
		return nil
	}
	return &ImpactThresholdExceededError{
		Operation:    r.req.Plan.Operation,
		Table:        r.req.Plan.Table,
		RowsAffected: rows,
		Threshold:    threshold,
	}
}
