package validation

import (
	"slices"

	"mercator-hq/warden/pkg/policy"
)

// Verdict is re-exported from the policy package so callers of this package
// do not need to import both.
type Verdict = policy.Verdict

const (
	VerdictAllow                = policy.VerdictAllow
	VerdictDeny                 = policy.VerdictDeny
	VerdictRequireJustification = policy.VerdictRequireJustification
)

// Reasons produced by the permission stage.
const (
	ReasonAllowed            = "allowed"
	ReasonNoPermission       = "no permission"
	ReasonPermissionDenied   = "permission denied"
	ReasonColumnNotPermitted = "column not permitted"
	ReasonNeedsJustification = "justification required"
)

// Category distinguishes permission entries from safety rules.
type Category string

const (
	CategoryPermission Category = "permission"
	CategorySafety     Category = "safety"
)

// MatchedRule is a policy element that contributed to a decision.
type MatchedRule struct {
	// Category is permission or safety.
	Category Category `json:"category"`

	// ID is "role/table/operation" for permissions and the rule name for
	// safety rules.
	ID string `json:"id"`

	// Effect is the verdict the element imposes.
	Effect Verdict `json:"effect"`

	// Reason describes the match.
	Reason string `json:"reason,omitempty"`
}

// Decision is the verdict produced by evaluating a plan. Decisions are
// values; Justify returns a modified copy.
type Decision struct {
	Verdict       Verdict       `json:"verdict"`
	Reason        string        `json:"reason"`
	MatchedRules  []MatchedRule `json:"matched_rules,omitempty"`
	Override      bool          `json:"override,omitempty"`
	PolicyVersion string        `json:"policy_version,omitempty"`
}

// Justify returns the decision as seen with the caller's justification. A
// require-justification decision with a non-empty justification gains the
// Override flag. The verdict itself is never changed.
func (d Decision) Justify(justification string) Decision {
	out := d.Clone()
	if d.Verdict == VerdictRequireJustification && justification != "" {
		out.Override = true
	}
	return out
}

// Permits reports whether the decision authorizes execution.
func (d Decision) Permits() bool {
	switch d.Verdict {
	case VerdictAllow:
		return true
	case VerdictRequireJustification:
		return d.Override
	default:
		return false
	}
}

// RuleIDs returns the IDs of the matched rules in evaluation order.
func (d Decision) RuleIDs() []string {
	ids := make([]string, len(d.MatchedRules))
	for i, m := range d.MatchedRules {
		ids[i] = m.ID
	}
	return ids
}

// Clone returns a deep copy.
func (d Decision) Clone() Decision {
	d.MatchedRules = slices.Clone(d.MatchedRules)
	return d
}
