package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
)

// Validate evaluates p for actor against pol. It fails with
// policy.PolicyMissingError when pol is nil and with plan.MalformedPlanError
// when the plan is structurally invalid.
func Validate(actor policy.Actor, p *plan.Plan, pol *policy.Policy) (Decision, error) {
	if pol == nil {
		return Decision{}, policy.ErrPolicyMissing
	}
	if p == nil {
		return Decision{}, plan.NewMalformedPlanError("plan", "plan is required")
	}
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}

	d := Decision{PolicyVersion: pol.Revision()}
	evaluatePermission(&d, actor, p, pol)
	evaluateSafetyRules(&d, actor, p, pol)
	return d, nil
}

// evaluatePermission sets the baseline verdict.
func evaluatePermission(d *Decision, actor policy.Actor, p *plan.Plan, pol *policy.Policy) {
	perm, key, ok := pol.Lookup(actor.Role, p.Table, p.Operation)
	if !ok {
		d.Verdict = VerdictDeny
		d.Reason = ReasonNoPermission
		return
	}

	matched := MatchedRule{
		Category: CategoryPermission,
		ID:       fmt.Sprintf("%s/%s/%s", actor.Role, key, p.Operation),
		Effect:   perm.Verdict,
	}

	switch perm.Verdict {
	case VerdictDeny:
		d.Verdict = VerdictDeny
		d.Reason = ReasonPermissionDenied
		matched.Reason = ReasonPermissionDenied
		d.MatchedRules = append(d.MatchedRules, matched)
		return
	case VerdictRequireJustification:
		d.Verdict = VerdictRequireJustification
		d.Reason = ReasonNeedsJustification
	default:
		d.Verdict = VerdictAllow
		d.Reason = ReasonAllowed
	}

	if outside := columnsOutsideScope(perm, p); len(outside) > 0 {
		d.Verdict = VerdictDeny
		d.Reason = ReasonColumnNotPermitted
		matched.Effect = VerdictDeny
		matched.Reason = fmt.Sprintf("%s: %s", ReasonColumnNotPermitted, strings.Join(outside, ", "))
	}
	d.MatchedRules = append(d.MatchedRules, matched)
}

// columnsOutsideScope lists referenced columns the permission does not cover.
// A read without explicit columns selects every column, so it is outside any
// scoped permission.
func columnsOutsideScope(perm policy.Permission, p *plan.Plan) []string {
	if !perm.Scoped() {
		return nil
	}
	if p.Operation == plan.OpRead && len(p.Columns) == 0 {
		return []string{"*"}
	}
	var outside []string
	for _, col := range p.ReferencedColumns() {
		if !perm.Allows(col) {
			outside = append(outside, col)
		}
	}
	return outside
}

// evaluateSafetyRules applies the first matching rule.
func evaluateSafetyRules(d *Decision, actor policy.Actor, p *plan.Plan, pol *policy.Policy) {
	for i := range pol.SafetyRules {
		rule := &pol.SafetyRules[i]
		reason, ok := rule.Match(actor, p, pol)
		if !ok {
			continue
		}

		effect := rule.Effect()
		d.MatchedRules = append(d.MatchedRules, MatchedRule{
			Category: CategorySafety,
			ID:       rule.ID,
			Effect:   effect,
			Reason:   reason,
		})

		switch {
		case d.Verdict == VerdictDeny:
			// Recorded for context; a deny is never relaxed.
		case effect == VerdictDeny:
			d.Verdict = VerdictDeny
			d.Reason = reason
		case effect == VerdictRequireJustification:
			d.Verdict = VerdictRequireJustification
			d.Reason = reason
		}
		return
	}
}

// Engine validates plans against the policy held by a Store. Each call takes
// one snapshot, so a concurrent reload never affects an evaluation in
// progress.
type Engine struct {
	store  *policy.Store
	logger *slog.Logger
}

// NewEngine creates an engine reading from store.
func NewEngine(store *policy.Store) *Engine {
	return &Engine{
		store:  store,
		logger: slog.Default().With("component", "validation.engine"),
	}
}

// Validate evaluates p against the current policy snapshot.
func (e *Engine) Validate(ctx context.Context, actor policy.Actor, p *plan.Plan) (Decision, error) {
	pol, err := e.store.Current()
	if err != nil {
		return Decision{}, err
	}

	d, err := Validate(actor, p, pol)
	if err != nil {
		e.logger.DebugContext(ctx, "plan rejected before evaluation",
			"actor_id", actor.ID,
			"error", err,
		)
		return Decision{}, err
	}

	e.logger.DebugContext(ctx, "plan evaluated",
		"actor_id", actor.ID,
		"role", actor.Role,
		"plan", p.String(),
		"verdict", d.Verdict,
		"reason", d.Reason,
		"matched_rules", d.RuleIDs(),
		"policy_version", d.PolicyVersion,
	)
	return d, nil
}
