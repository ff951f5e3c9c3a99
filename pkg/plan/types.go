package plan

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Operation is the kind of data access a plan proposes.
type Operation string

const (
	OpRead   Operation = "read"
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Operations lists every operation kind in canonical order.
var Operations = []Operation{OpRead, OpInsert, OpUpdate, OpDelete}

// operationAliases maps upstream intent names onto operation kinds.
var operationAliases = map[string]Operation{
	"read":      OpRead,
	"select":    OpRead,
	"aggregate": OpRead,
	"insert":    OpInsert,
	"update":    OpUpdate,
	"delete":    OpDelete,
}

// ParseOperation resolves an operation name, accepting the upstream aliases
// "select" and "aggregate" for reads. Matching is case-insensitive.
func ParseOperation(s string) (Operation, error) {
	op, ok := operationAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown operation %q", s)
	}
	return op, nil
}

// Valid reports whether o is one of the known operation kinds.
func (o Operation) Valid() bool {
	switch o {
	case OpRead, OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// IsWrite reports whether the operation mutates data.
func (o Operation) IsWrite() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// IsDestructive reports whether the operation changes or removes existing rows.
func (o Operation) IsDestructive() bool {
	return o == OpUpdate || o == OpDelete
}

// UnmarshalText lets operations be decoded from aliases in JSON and YAML.
func (o *Operation) UnmarshalText(text []byte) error {
	op, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*o = op
	return nil
}

// Plan is the structured intent for a single database operation.
type Plan struct {
	// Operation is the kind of access requested.
	Operation Operation `json:"operation" yaml:"operation"`

	// Table is the target table.
	Table string `json:"table" yaml:"table"`

	// Columns optionally restricts the columns read or returned.
	Columns []string `json:"columns,omitempty" yaml:"columns,omitempty"`

	// Filter restricts the rows the operation applies to.
	Filter *Filter `json:"filter,omitempty" yaml:"filter,omitempty"`

	// Values is the write payload (column -> value) for inserts and updates.
	Values map[string]any `json:"values,omitempty" yaml:"values,omitempty"`

	// EstimatedRows is the upstream estimate of rows affected, if known.
	EstimatedRows *int64 `json:"estimated_rows,omitempty" yaml:"estimated_rows,omitempty"`
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name is usable as a table or column name.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// Validate checks the plan is structurally complete.
// It returns a *MalformedPlanError describing the first problem found.
func (p *Plan) Validate() error {
	if p == nil {
		return NewMalformedPlanError("plan", "plan is nil")
	}
	if p.Operation == "" {
		return NewMalformedPlanError("operation", "operation kind is required")
	}
	if !p.Operation.Valid() {
		return NewMalformedPlanError("operation", fmt.Sprintf("unknown operation %q", p.Operation))
	}
	if p.Table == "" {
		return NewMalformedPlanError("table", "target table is required")
	}
	if !ValidIdentifier(p.Table) {
		return NewMalformedPlanError("table", fmt.Sprintf("invalid table name %q", p.Table))
	}

	for i, col := range p.Columns {
		if !ValidIdentifier(col) {
			return NewMalformedPlanError(fmt.Sprintf("columns[%d]", i), fmt.Sprintf("invalid column name %q", col))
		}
	}
	for col := range p.Values {
		if !ValidIdentifier(col) {
			return NewMalformedPlanError("values", fmt.Sprintf("invalid column name %q", col))
		}
	}

	switch p.Operation {
	case OpInsert, OpUpdate:
		if len(p.Values) == 0 {
			return NewMalformedPlanError("values", fmt.Sprintf("%s requires a payload", p.Operation))
		}
	case OpRead, OpDelete:
		if len(p.Values) > 0 {
			return NewMalformedPlanError("values", fmt.Sprintf("%s does not take a payload", p.Operation))
		}
	}

	if p.Operation == OpInsert && p.Filter != nil && !p.Filter.Empty() {
		return NewMalformedPlanError("filter", "insert does not take a filter")
	}

	if p.Filter != nil {
		if err := p.Filter.validate(); err != nil {
			return err
		}
	}

	if p.EstimatedRows != nil && *p.EstimatedRows < 0 {
		return NewMalformedPlanError("estimated_rows", "must not be negative")
	}

	return nil
}

// HasFilter reports whether the plan restricts the rows it touches.
func (p *Plan) HasFilter() bool {
	return p.Filter != nil && !p.Filter.Empty()
}

// ReferencedColumns returns every column the plan reads, writes or filters on,
// sorted and de-duplicated.
func (p *Plan) ReferencedColumns() []string {
	seen := make(map[string]struct{})
	for _, c := range p.Columns {
		seen[c] = struct{}{}
	}
	for c := range p.Values {
		seen[c] = struct{}{}
	}
	if p.Filter != nil {
		for _, cond := range p.Filter.Conditions {
			seen[cond.Column] = struct{}{}
		}
	}

	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a deep copy suitable for snapshotting into an audit record.
func (p Plan) Clone() Plan {
	out := p
	if p.Columns != nil {
		out.Columns = append([]string(nil), p.Columns...)
	}
	if p.Values != nil {
		out.Values = make(map[string]any, len(p.Values))
		for k, v := range p.Values {
			out.Values[k] = v
		}
	}
	if p.Filter != nil {
		f := p.Filter.clone()
		out.Filter = &f
	}
	if p.EstimatedRows != nil {
		n := *p.EstimatedRows
		out.EstimatedRows = &n
	}
	return out
}

// String renders a compact description for logs: payload column names and the
// filter shape, without any values.
func (p Plan) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", p.Operation, p.Table)
	if len(p.Columns) > 0 {
		fmt.Fprintf(&b, " columns=%s", strings.Join(p.Columns, ","))
	}
	if p.HasFilter() {
		fmt.Fprintf(&b, " filter=%q", p.Filter.Shape())
	}
	if len(p.Values) > 0 {
		keys := make([]string, 0, len(p.Values))
		for k := range p.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, " set=%s", strings.Join(keys, ","))
	}
	return b.String()
}

// Decode parses a JSON plan document and validates it.
func Decode(data []byte) (Plan, error) {
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return Plan{}, NewMalformedPlanError("plan", err.Error())
	}
	if err := p.Validate(); err != nil {
		return Plan{}, err
	}
	return p, nil
}

// Int64 is a convenience for building plans with row estimates.
func Int64(n int64) *int64 {
	return &n
}
