package policy

import (
	"slices"
	"sort"
	"strings"
	"time"

	"mercator-hq/warden/pkg/plan"
)

// Verdict is the outcome of evaluating a plan against policy.
type Verdict string

const (
	VerdictAllow                Verdict = "allow"
	VerdictDeny                 Verdict = "deny"
	VerdictRequireJustification Verdict = "require-justification"
)

// ParseVerdict resolves a verdict name. Underscores are accepted in place of
// the hyphen in require-justification.
func ParseVerdict(s string) (Verdict, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-") {
	case "allow":
		return VerdictAllow, true
	case "deny":
		return VerdictDeny, true
	case "require-justification":
		return VerdictRequireJustification, true
	}
	return "", false
}

// Actor is the verified identity a request is made on behalf of.
type Actor struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// WildcardTable is the permission key that applies to every table without an
// exact entry.
const WildcardTable = "*"

// Permission is the verdict for one (role, table, operation) combination,
// optionally restricted to a subset of columns.
type Permission struct {
	Verdict Verdict  `json:"verdict" yaml:"verdict"`
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`
}

// Scoped reports whether the permission is limited to specific columns.
func (p Permission) Scoped() bool {
	return len(p.Columns) > 0
}

// Allows reports whether column is inside the permission's scope.
func (p Permission) Allows(column string) bool {
	return !p.Scoped() || slices.Contains(p.Columns, column)
}

// TableMeta is optional schema metadata for a table.
type TableMeta struct {
	Columns   []string `json:"columns" yaml:"columns"`
	Sensitive []string `json:"sensitive,omitempty" yaml:"sensitive,omitempty"`
}

// HasColumn reports whether the table declares column.
func (t TableMeta) HasColumn(column string) bool {
	return slices.Contains(t.Columns, column)
}

// IsSensitive reports whether column is tagged sensitive.
func (t TableMeta) IsSensitive(column string) bool {
	return slices.Contains(t.Sensitive, column)
}

// Policy is an immutable, validated governance configuration. Policies are
// produced by Load and must not be modified after construction.
type Policy struct {
	// Version is the version string declared in the document, if any.
	Version string

	// Digest is the hex SHA-256 of the source document.
	Digest string

	// Roles lists the declared roles in document order.
	Roles []string

	// Tables holds optional table metadata keyed by table name.
	Tables map[string]TableMeta

	// Permissions maps role -> table -> operation -> permission.
	Permissions map[string]map[string]map[plan.Operation]Permission

	// SafetyRules is the ordered list of safety rules.
	SafetyRules []Rule

	// Document is the raw source document.
	Document []byte

	// LoadedAt is when the policy was parsed.
	LoadedAt time.Time
}

// Revision identifies the policy in logs and audit records.
func (p *Policy) Revision() string {
	short := p.Digest
	if len(short) > 12 {
		short = short[:12]
	}
	if p.Version == "" {
		return short
	}
	return p.Version + "@" + short
}

// HasRole reports whether role is declared.
func (p *Policy) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Lookup resolves the permission for (role, table, op). For each operation an
// exact table entry takes precedence over the wildcard entry. The returned key
// is the table key that matched.
func (p *Policy) Lookup(role, table string, op plan.Operation) (perm Permission, key string, ok bool) {
	tables := p.Permissions[role]
	if perm, ok := tables[table][op]; ok {
		return perm, table, true
	}
	if perm, ok := tables[WildcardTable][op]; ok {
		return perm, WildcardTable, true
	}
	return Permission{}, "", false
}

// Table returns metadata for a table, if declared.
func (p *Policy) Table(name string) (TableMeta, bool) {
	t, ok := p.Tables[name]
	return t, ok
}

// TableNames returns the declared table names, sorted.
func (p *Policy) TableNames() []string {
	names := make([]string, 0, len(p.Tables))
	for name := range p.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasMetadata reports whether the document declared table metadata.
func (p *Policy) HasMetadata() bool {
	return len(p.Tables) > 0
}
