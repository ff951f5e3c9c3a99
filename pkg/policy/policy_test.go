package policy

import (
	"errors"
	"os"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/plan"
)

func loadFixture(t *testing.T) *Policy {
	t.Helper()

	data, err := os.ReadFile("testdata/clinical.yaml")
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}
	p, err := Load(data)
	if err != nil {
		t.Fatalf("Failed to load fixture: %v", err)
	}
	return p
}

// TestLoad tests parsing of a complete policy document.
func TestLoad(t *testing.T) {
	p := loadFixture(t)

	if p.Version != "2025-01" {
		t.Errorf("Version = %q, want 2025-01", p.Version)
	}
	if len(p.Digest) != 64 {
		t.Errorf("Digest length = %d, want 64", len(p.Digest))
	}
	if !strings.HasPrefix(p.Revision(), "2025-01@") {
		t.Errorf("Revision() = %q", p.Revision())
	}
	if len(p.Roles) != 3 {
		t.Errorf("Roles = %v, want 3 roles", p.Roles)
	}
	if len(p.SafetyRules) != 3 {
		t.Fatalf("SafetyRules = %d, want 3", len(p.SafetyRules))
	}

	bulk := p.SafetyRules[1]
	if bulk.ID != "bulk-update-approval" || bulk.Kind != RuleMaxRowsWithoutJustification {
		t.Errorf("Unexpected rule: %+v", bulk)
	}
	if bulk.Threshold != 100 {
		t.Errorf("Threshold = %d, want 100", bulk.Threshold)
	}
	if bulk.Effect() != VerdictRequireJustification {
		t.Errorf("Effect() = %q", bulk.Effect())
	}

	perm, key, ok := p.Lookup("analyst", "Patient", plan.OpUpdate)
	if !ok || key != "Patient" || !perm.Scoped() {
		t.Errorf("Lookup(analyst, Patient, update) = %+v, %q, %v", perm, key, ok)
	}
}

// TestPolicy_Lookup tests exact and wildcard permission resolution.
func TestPolicy_Lookup(t *testing.T) {
	p := loadFixture(t)

	tests := []struct {
		role, table string
		op          plan.Operation
		wantOK      bool
		wantKey     string
		wantVerdict Verdict
	}{
		{"clinician", "Encounter", plan.OpRead, true, "Encounter", VerdictAllow},
		{"clinician", "Encounter", plan.OpDelete, false, "", ""},
		{"clinician", "Patient", plan.OpRead, false, "", ""},
		{"admin", "Patient", plan.OpDelete, true, "*", VerdictRequireJustification},
		{"admin", "Anything", plan.OpRead, true, "*", VerdictAllow},
		{"ghost", "Patient", plan.OpRead, false, "", ""},
	}

	for _, tt := range tests {
		perm, key, ok := p.Lookup(tt.role, tt.table, tt.op)
		if ok != tt.wantOK || key != tt.wantKey || perm.Verdict != tt.wantVerdict {
			t.Errorf("Lookup(%s, %s, %s) = (%q, %q, %v), want (%q, %q, %v)",
				tt.role, tt.table, tt.op, perm.Verdict, key, ok, tt.wantVerdict, tt.wantKey, tt.wantOK)
		}
	}
}

// TestLoad_Errors tests that malformed documents are rejected with ConfigError.
func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "empty",
			doc:     "",
			wantMsg: "empty",
		},
		{
			name:    "not yaml",
			doc:     "roles: [a\n",
			wantMsg: "failed to parse",
		},
		{
			name:    "unknown top-level field",
			doc:     "roles: [a]\nrules: []\n",
			wantMsg: "failed to parse",
		},
		{
			name:    "duplicate role",
			doc:     "roles: [a, a]\npermissions: {a: {T: {read: allow}}}\n",
			wantMsg: "duplicate role",
		},
		{
			name:    "unknown role in permission",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}, b: {T: {read: allow}}}\n",
			wantMsg: `unknown role "b"`,
		},
		{
			name:    "role with zero permissions",
			doc:     "roles: [a, b]\npermissions: {a: {T: {read: allow}}, b: {T: {read: deny}}}\n",
			wantMsg: `role "b" has no permissions`,
		},
		{
			name:    "invalid verdict",
			doc:     "roles: [a]\npermissions: {a: {T: {read: maybe}}}\n",
			wantMsg: "invalid verdict",
		},
		{
			name:    "unknown operation",
			doc:     "roles: [a]\npermissions: {a: {T: {drop: allow}}}\n",
			wantMsg: "unknown operation",
		},
		{
			name:    "unknown table with metadata",
			doc:     "roles: [a]\ntables: {T: {columns: [id]}}\npermissions: {a: {U: {read: allow}}}\n",
			wantMsg: `unknown table "U"`,
		},
		{
			name:    "unknown column with metadata",
			doc:     "roles: [a]\ntables: {T: {columns: [id]}}\npermissions: {a: {T: {read: {verdict: allow, columns: [nope]}}}}\n",
			wantMsg: `unknown column "nope"`,
		},
		{
			name:    "unknown rule",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - block_everything: {}\n",
			wantMsg: `unknown rule "block_everything"`,
		},
		{
			name:    "rule without predicate",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - name: x\n",
			wantMsg: "no predicate",
		},
		{
			name:    "two predicates",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - deny_without_filter: {}\n    deny_operations: {operations: [delete]}\n",
			wantMsg: "more than one predicate",
		},
		{
			name:    "missing threshold",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - max_rows: {operations: [update]}\n",
			wantMsg: "threshold is required",
		},
		{
			name:    "unknown parameter",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - deny_without_filter: {limit: 3}\n",
			wantMsg: `unknown parameter "limit"`,
		},
		{
			name:    "rule on unknown table",
			doc:     "roles: [a]\ntables: {T: {columns: [id]}}\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - tables: [U]\n    deny_without_filter: {}\n",
			wantMsg: `unknown table "U"`,
		},
		{
			name:    "duplicate rule names",
			doc:     "roles: [a]\npermissions: {a: {T: {read: allow}}}\nsafety_rules:\n  - {name: r, deny_without_filter: {}}\n  - {name: r, deny_operations: {operations: [delete]}}\n",
			wantMsg: "duplicate rule name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load([]byte(tt.doc))
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Load() error = %v, want *ConfigError", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %q, want it to contain %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

// TestLoad_RuleDefaults tests default operations for rules declared bare.
func TestLoad_RuleDefaults(t *testing.T) {
	doc := `
roles: [a]
permissions: {a: {T: {read: allow}}}
safety_rules:
  - deny_without_filter:
  - require_justification: {}
`
	p, err := Load([]byte(doc))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if got := p.SafetyRules[0].Operations; len(got) != 2 || got[0] != plan.OpUpdate || got[1] != plan.OpDelete {
		t.Errorf("deny_without_filter operations = %v", got)
	}
	if got := p.SafetyRules[1].Operations; len(got) != 1 || got[0] != plan.OpDelete {
		t.Errorf("require_justification operations = %v", got)
	}
	if p.SafetyRules[0].ID != "safety_rules[0]" {
		t.Errorf("ID = %q, want safety_rules[0]", p.SafetyRules[0].ID)
	}
}

// TestRule_Match tests each rule variant.
func TestRule_Match(t *testing.T) {
	pol := loadFixture(t)
	clinician := Actor{ID: "u1", Role: "clinician"}
	admin := Actor{ID: "u2", Role: "admin"}

	tests := []struct {
		name  string
		rule  Rule
		actor Actor
		plan  plan.Plan
		want  bool
	}{
		{
			name:  "unfiltered delete",
			rule:  Rule{Kind: RuleDenyWithoutFilter, Operations: []plan.Operation{plan.OpDelete}},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpDelete, Table: "Lab"},
			want:  true,
		},
		{
			name:  "filtered delete",
			rule:  Rule{Kind: RuleDenyWithoutFilter, Operations: []plan.Operation{plan.OpDelete}},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpDelete, Table: "Lab", Filter: plan.MustParseFilter("id = 1")},
			want:  false,
		},
		{
			name:  "over threshold",
			rule:  Rule{Kind: RuleMaxRows, Threshold: 10, Operations: []plan.Operation{plan.OpUpdate}},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpUpdate, Table: "Lab", EstimatedRows: plan.Int64(11)},
			want:  true,
		},
		{
			name:  "at threshold",
			rule:  Rule{Kind: RuleMaxRows, Threshold: 10, Operations: []plan.Operation{plan.OpUpdate}},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpUpdate, Table: "Lab", EstimatedRows: plan.Int64(10)},
			want:  false,
		},
		{
			name:  "no estimate",
			rule:  Rule{Kind: RuleMaxRowsWithoutJustification, Threshold: 10, Operations: []plan.Operation{plan.OpUpdate}},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpUpdate, Table: "Lab"},
			want:  false,
		},
		{
			name:  "sensitive column referenced",
			rule:  Rule{Kind: RuleDenySensitiveColumns, ExemptRoles: []string{"admin"}},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpRead, Table: "Patient", Columns: []string{"id", "mrn"}},
			want:  true,
		},
		{
			name:  "all columns read includes sensitive",
			rule:  Rule{Kind: RuleDenySensitiveColumns},
			actor: clinician,
			plan:  plan.Plan{Operation: plan.OpRead, Table: "Patient"},
			want:  true,
		},
		{
			name:  "exempt role",
			rule:  Rule{Kind: RuleDenySensitiveColumns, ExemptRoles: []string{"admin"}},
			actor: admin,
			plan:  plan.Plan{Operation: plan.OpRead, Table: "Patient", Columns: []string{"mrn"}},
			want:  false,
		},
		{
			name:  "table scope excludes",
			rule:  Rule{Kind: RuleDenyOperations, Tables: []string{"Patient"}, Operations: []plan.Operation{plan.OpDelete}},
			actor: admin,
			plan:  plan.Plan{Operation: plan.OpDelete, Table: "Lab"},
			want:  false,
		},
		{
			name:  "require justification",
			rule:  Rule{Kind: RuleRequireJustification, Operations: []plan.Operation{plan.OpDelete}},
			actor: admin,
			plan:  plan.Plan{Operation: plan.OpDelete, Table: "Lab"},
			want:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, got := tt.rule.Match(tt.actor, &tt.plan, pol)
			if got != tt.want {
				t.Fatalf("Match() = %v (%q), want %v", got, reason, tt.want)
			}
			if got && reason == "" {
				t.Error("Match() returned an empty reason")
			}
		})
	}
}
