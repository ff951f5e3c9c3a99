package plan

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Comparator is a comparison operator usable in a filter condition.
type Comparator string

const (
	CmpEq      Comparator = "eq"
	CmpNe      Comparator = "ne"
	CmpLt      Comparator = "lt"
	CmpLte     Comparator = "lte"
	CmpGt      Comparator = "gt"
	CmpGte     Comparator = "gte"
	CmpLike    Comparator = "like"
	CmpIn      Comparator = "in"
	CmpIsNull  Comparator = "is_null"
	CmpNotNull Comparator = "not_null"
)

var comparatorSymbols = map[Comparator]string{
	CmpEq:   "=",
	CmpNe:   "!=",
	CmpLt:   "<",
	CmpLte:  "<=",
	CmpGt:   ">",
	CmpGte:  ">=",
	CmpLike: "LIKE",
}

var symbolComparators = map[string]Comparator{
	"=":  CmpEq,
	"!=": CmpNe,
	"<>": CmpNe,
	"<":  CmpLt,
	"<=": CmpLte,
	">":  CmpGt,
	">=": CmpGte,
}

// Symbol returns the SQL operator for binary comparators, or "" for the
// comparators that need special rendering (in, is_null, not_null).
func (c Comparator) Symbol() string {
	return comparatorSymbols[c]
}

// Unary reports whether the comparator takes no operand.
func (c Comparator) Unary() bool {
	return c == CmpIsNull || c == CmpNotNull
}

func (c Comparator) valid() bool {
	switch c {
	case CmpEq, CmpNe, CmpLt, CmpLte, CmpGt, CmpGte, CmpLike, CmpIn, CmpIsNull, CmpNotNull:
		return true
	}
	return false
}

// Condition is a single column comparison.
type Condition struct {
	Column string     `json:"column" yaml:"column"`
	Op     Comparator `json:"op" yaml:"op"`
	Value  any        `json:"value,omitempty" yaml:"value,omitempty"`
	Values []any      `json:"values,omitempty" yaml:"values,omitempty"`
}

// Filter is a conjunction of conditions. An empty filter matches every row.
type Filter struct {
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// Empty reports whether the filter has no conditions.
func (f *Filter) Empty() bool {
	return f == nil || len(f.Conditions) == 0
}

func (f *Filter) validate() error {
	for i, c := range f.Conditions {
		field := fmt.Sprintf("filter[%d]", i)
		if !ValidIdentifier(c.Column) {
			return NewMalformedPlanError(field, fmt.Sprintf("invalid column name %q", c.Column))
		}
		if !c.Op.valid() {
			return NewMalformedPlanError(field, fmt.Sprintf("unknown comparator %q", c.Op))
		}
		if c.Op == CmpIn && len(c.Values) == 0 {
			return NewMalformedPlanError(field, "in requires at least one value")
		}
		if !c.Op.Unary() && c.Op != CmpIn && c.Value == nil {
			return NewMalformedPlanError(field, fmt.Sprintf("%s requires a value", c.Op))
		}
	}
	return nil
}

func (f Filter) clone() Filter {
	out := Filter{Conditions: make([]Condition, len(f.Conditions))}
	for i, c := range f.Conditions {
		out.Conditions[i] = c
		if c.Values != nil {
			out.Conditions[i].Values = append([]any(nil), c.Values...)
		}
	}
	return out
}

// String renders the filter in the compact string form accepted by ParseFilter.
func (f *Filter) String() string {
	if f.Empty() {
		return ""
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		switch c.Op {
		case CmpIsNull:
			parts = append(parts, c.Column+" IS NULL")
		case CmpNotNull:
			parts = append(parts, c.Column+" IS NOT NULL")
		case CmpIn:
			vals := make([]string, len(c.Values))
			for i, v := range c.Values {
				vals[i] = formatLiteral(v)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, strings.Join(vals, ", ")))
		default:
			parts = append(parts, fmt.Sprintf("%s %s %s", c.Column, c.Op.Symbol(), formatLiteral(c.Value)))
		}
	}
	return strings.Join(parts, " AND ")
}

// Shape renders the filter with every literal replaced by "?". It is the form
// used in logs, where plan values must not appear.
func (f *Filter) Shape() string {
	if f.Empty() {
		return ""
	}
	parts := make([]string, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		switch c.Op {
		case CmpIsNull:
			parts = append(parts, c.Column+" IS NULL")
		case CmpNotNull:
			parts = append(parts, c.Column+" IS NOT NULL")
		case CmpIn:
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(c.Values)), ", ")
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, marks))
		default:
			parts = append(parts, fmt.Sprintf("%s %s ?", c.Column, c.Op.Symbol()))
		}
	}
	return strings.Join(parts, " AND ")
}

// LogValue implements slog.LogValuer so a filter passed to a logger directly
// is rendered by Shape.
func (f *Filter) LogValue() slog.Value {
	return slog.StringValue(f.Shape())
}

// UnmarshalJSON accepts a filter string, a list of conditions, or an object
// with a "conditions" field.
func (f *Filter) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, `"`):
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		return f.parseInto(s)
	case strings.HasPrefix(trimmed, "["):
		return json.Unmarshal(data, &f.Conditions)
	default:
		type rawFilter Filter
		var raw rawFilter
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		*f = Filter(raw)
		return nil
	}
}

// UnmarshalYAML accepts the same shapes as UnmarshalJSON.
func (f *Filter) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return f.parseInto(node.Value)
	case yaml.SequenceNode:
		return node.Decode(&f.Conditions)
	default:
		type rawFilter Filter
		var raw rawFilter
		if err := node.Decode(&raw); err != nil {
			return err
		}
		*f = Filter(raw)
		return nil
	}
}

func (f *Filter) parseInto(s string) error {
	parsed, err := ParseFilter(s)
	if err != nil {
		return err
	}
	*f = *parsed
	return nil
}

var (
	nullPattern   = regexp.MustCompile(`(?i)^([A-Za-z_][A-Za-z0-9_]*)\s+IS\s+(NOT\s+)?NULL$`)
	inPattern     = regexp.MustCompile(`(?is)^([A-Za-z_][A-Za-z0-9_]*)\s+IN\s*\((.*)\)$`)
	likePattern   = regexp.MustCompile(`(?is)^([A-Za-z_][A-Za-z0-9_]*)\s+LIKE\s+(.+)$`)
	binaryPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*(<=|>=|!=|<>|=|<|>)\s*(.+)$`)
)

// ParseFilter parses the compact filter form:
//
//	col = 'text' AND n >= 10 AND other IS NOT NULL AND k IN (1, 2)
//
// Only conjunctions are supported. An empty string yields an empty filter.
func ParseFilter(s string) (*Filter, error) {
	f := &Filter{}
	if strings.TrimSpace(s) == "" {
		return f, nil
	}

	for i, part := range splitOutsideQuotes(s, " and ") {
		part = strings.TrimSpace(part)
		field := fmt.Sprintf("filter[%d]", i)

		if m := nullPattern.FindStringSubmatch(part); m != nil {
			op := CmpIsNull
			if m[2] != "" {
				op = CmpNotNull
			}
			f.Conditions = append(f.Conditions, Condition{Column: m[1], Op: op})
			continue
		}

		if m := inPattern.FindStringSubmatch(part); m != nil {
			var values []any
			for _, lit := range splitOutsideQuotes(m[2], ",") {
				lit = strings.TrimSpace(lit)
				if lit == "" {
					continue
				}
				v, ok := parseLiteral(lit)
				if !ok {
					return nil, NewMalformedPlanError(field, fmt.Sprintf("cannot parse literal %q", lit))
				}
				values = append(values, v)
			}
			if len(values) == 0 {
				return nil, NewMalformedPlanError(field, "in requires at least one value")
			}
			f.Conditions = append(f.Conditions, Condition{Column: m[1], Op: CmpIn, Values: values})
			continue
		}

		if m := likePattern.FindStringSubmatch(part); m != nil {
			v, ok := parseLiteral(strings.TrimSpace(m[2]))
			if !ok {
				return nil, NewMalformedPlanError(field, fmt.Sprintf("cannot parse literal %q", m[2]))
			}
			f.Conditions = append(f.Conditions, Condition{Column: m[1], Op: CmpLike, Value: v})
			continue
		}

		if m := binaryPattern.FindStringSubmatch(part); m != nil {
			v, ok := parseLiteral(strings.TrimSpace(m[3]))
			if !ok {
				return nil, NewMalformedPlanError(field, fmt.Sprintf("cannot parse literal %q", m[3]))
			}
			f.Conditions = append(f.Conditions, Condition{Column: m[1], Op: symbolComparators[m[2]], Value: v})
			continue
		}

		return nil, NewMalformedPlanError(field, fmt.Sprintf("cannot parse condition %q", part))
	}

	return f, nil
}

// MustParseFilter is like ParseFilter but panics on error. Intended for
// tests and static plans.
func MustParseFilter(s string) *Filter {
	f, err := ParseFilter(s)
	if err != nil {
		panic(err)
	}
	return f
}

// splitOutsideQuotes splits s on sep (matched case-insensitively) wherever
// sep does not fall inside a single- or double-quoted literal.
func splitOutsideQuotes(s, sep string) []string {
	var parts []string
	lower := strings.ToLower(s)
	var quote byte
	start := 0
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == quote {
				quote = 0
			}
			continue
		}
		if ch == '\'' || ch == '"' {
			quote = ch
			continue
		}
		if strings.HasPrefix(lower[i:], sep) {
			parts = append(parts, s[start:i])
			i += len(sep) - 1
			start = i + 1
		}
	}
	return append(parts, s[start:])
}

var barewordPattern = regexp.MustCompile(`^[A-Za-z0-9_.:+-]+$`)

// parseLiteral converts a filter literal into a Go value. Quoted text becomes
// a string; unquoted text must be a boolean, a number or a single bare word.
func parseLiteral(lit string) (any, bool) {
	if len(lit) >= 2 {
		if q := lit[0]; (q == '\'' || q == '"') && lit[len(lit)-1] == q {
			inner := lit[1 : len(lit)-1]
			return strings.ReplaceAll(inner, string(q)+string(q), string(q)), true
		}
	}
	switch strings.ToLower(lit) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(lit, 64); err == nil {
		return f, true
	}
	if barewordPattern.MatchString(lit) {
		return lit, true
	}
	return nil, false
}

func formatLiteral(v any) string {
	switch val := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case nil:
		return "NULL"
	default:
		return fmt.Sprint(val)
	}
}
