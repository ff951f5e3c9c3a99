package policy

import (
	"fmt"
	"slices"
	"strings"

	"mercator-hq/warden/pkg/plan"
)

// RuleKind identifies a safety rule variant. The set is closed; adding a
// variant means adding an entry to ruleKinds.
type RuleKind string

const (
	RuleDenyWithoutFilter           RuleKind = "deny_without_filter"
	RuleMaxRowsWithoutJustification RuleKind = "max_rows_without_justification"
	RuleMaxRows                     RuleKind = "max_rows"
	RuleDenySensitiveColumns        RuleKind = "deny_sensitive_columns"
	RuleDenyOperations              RuleKind = "deny_operations"
	RuleRequireJustification        RuleKind = "require_justification"
)

// ruleSpec describes one variant: its effect, the parameters it accepts, the
// operations it applies to when none are given, and its predicate.
type ruleSpec struct {
	effect            Verdict
	params            []string
	defaultOperations []plan.Operation
	requireOperations bool
	requireThreshold  bool
	match             func(r *Rule, actor Actor, p *plan.Plan, pol *Policy) (string, bool)
}

var ruleKinds = map[RuleKind]ruleSpec{
	RuleDenyWithoutFilter: {
		effect:            VerdictDeny,
		params:            []string{"operations"},
		defaultOperations: []plan.Operation{plan.OpUpdate, plan.OpDelete},
		match:             matchDenyWithoutFilter,
	},
	RuleMaxRowsWithoutJustification: {
		effect:            VerdictRequireJustification,
		params:            []string{"threshold", "operations"},
		defaultOperations: []plan.Operation{plan.OpUpdate, plan.OpDelete},
		requireThreshold:  true,
		match:             matchRowThreshold("justification required"),
	},
	RuleMaxRows: {
		effect:            VerdictDeny,
		params:            []string{"threshold", "operations"},
		defaultOperations: []plan.Operation{plan.OpUpdate, plan.OpDelete},
		requireThreshold:  true,
		match:             matchRowThreshold("limit exceeded"),
	},
	RuleDenySensitiveColumns: {
		effect: VerdictDeny,
		params: []string{"exempt_roles", "operations"},
		match:  matchSensitiveColumns,
	},
	RuleDenyOperations: {
		effect:            VerdictDeny,
		params:            []string{"operations"},
		requireOperations: true,
		match:             matchOperation("denied"),
	},
	RuleRequireJustification: {
		effect:            VerdictRequireJustification,
		params:            []string{"operations"},
		defaultOperations: []plan.Operation{plan.OpDelete},
		match:             matchOperation("requires justification"),
	},
}

// RuleKinds returns the known rule variants.
func RuleKinds() []RuleKind {
	kinds := make([]RuleKind, 0, len(ruleKinds))
	for k := range ruleKinds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// Rule is a parameterised safety rule.
type Rule struct {
	// ID is the rule name, or "safety_rules[i]" when unnamed.
	ID string

	// Kind selects the predicate.
	Kind RuleKind

	// Tables limits the rule to specific tables. Empty means all tables.
	Tables []string

	// Operations the rule applies to.
	Operations []plan.Operation

	// Threshold is the row limit for row-impact rules.
	Threshold int64

	// ExemptRoles are roles the rule never applies to.
	ExemptRoles []string
}

// Effect is the verdict a match imposes.
func (r *Rule) Effect() Verdict {
	return ruleKinds[r.Kind].effect
}

// Match evaluates the rule against a plan. It returns the reason and whether
// the rule matched.
func (r *Rule) Match(actor Actor, p *plan.Plan, pol *Policy) (string, bool) {
	spec, ok := ruleKinds[r.Kind]
	if !ok {
		return "", false
	}
	if len(r.Tables) > 0 && !slices.Contains(r.Tables, p.Table) {
		return "", false
	}
	if len(r.Operations) > 0 && !slices.Contains(r.Operations, p.Operation) {
		return "", false
	}
	if slices.Contains(r.ExemptRoles, actor.Role) {
		return "", false
	}
	return spec.match(r, actor, p, pol)
}

func matchDenyWithoutFilter(_ *Rule, _ Actor, p *plan.Plan, _ *Policy) (string, bool) {
	if p.HasFilter() {
		return "", false
	}
	return fmt.Sprintf("%s without a filter is not allowed", p.Operation), true
}

func matchRowThreshold(suffix string) func(*Rule, Actor, *plan.Plan, *Policy) (string, bool) {
	return func(r *Rule, _ Actor, p *plan.Plan, _ *Policy) (string, bool) {
		if p.EstimatedRows == nil || *p.EstimatedRows <= r.Threshold {
			return "", false
		}
		return fmt.Sprintf("%s affects an estimated %d rows (threshold %d): %s",
			p.Operation, *p.EstimatedRows, r.Threshold, suffix), true
	}
}

func matchSensitiveColumns(_ *Rule, _ Actor, p *plan.Plan, pol *Policy) (string, bool) {
	meta, ok := pol.Table(p.Table)
	if !ok || len(meta.Sensitive) == 0 {
		return "", false
	}

	var hits []string
	if p.Operation == plan.OpRead && len(p.Columns) == 0 {
		// Reading every column reads the sensitive ones too.
		hits = append(hits, meta.Sensitive...)
	} else {
		for _, col := range p.ReferencedColumns() {
			if meta.IsSensitive(col) {
				hits = append(hits, col)
			}
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	return fmt.Sprintf("sensitive column(s) %s on %s", strings.Join(hits, ", "), p.Table), true
}

func matchOperation(verb string) func(*Rule, Actor, *plan.Plan, *Policy) (string, bool) {
	return func(_ *Rule, _ Actor, p *plan.Plan, _ *Policy) (string, bool) {
		return fmt.Sprintf("%s on %s %s", p.Operation, p.Table, verb), true
	}
}
