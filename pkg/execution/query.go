package execution

import (
	"fmt"
	"sort"
	"strings"

	"mercator-hq/warden/pkg/plan"
)

// Query is a parameterised statement built from a plan.
type Query struct {
	SQL  string
	Args []any
}

// builder accumulates SQL text and bind arguments.
type builder struct {
	dialect Dialect
	sql     strings.Builder
	args    []any
}

func (b *builder) bind(v any) string {
	b.args = append(b.args, v)
	return b.dialect.Placeholder(len(b.args))
}

// Build translates a validated plan into a statement for dialect. Identifiers
// are quoted and every value is bound, never interpolated.
func Build(dialect Dialect, p *plan.Plan) (Query, error) {
	if err := p.Validate(); err != nil {
		return Query{}, err
	}

	b := &builder{dialect: dialect}
	table := dialect.Quote(p.Table)

	switch p.Operation {
	case plan.OpRead:
		cols := "*"
		if len(p.Columns) > 0 {
			quoted := make([]string, len(p.Columns))
			for i, c := range p.Columns {
				quoted[i] = dialect.Quote(c)
			}
			cols = strings.Join(quoted, ", ")
		}
		fmt.Fprintf(&b.sql, "SELECT %s FROM %s", cols, table)
		b.where(p.Filter)

	case plan.OpInsert:
		keys := sortedKeys(p.Values)
		cols := make([]string, len(keys))
		marks := make([]string, len(keys))
		for i, k := range keys {
			cols[i] = dialect.Quote(k)
			marks[i] = b.bind(p.Values[k])
		}
		fmt.Fprintf(&b.sql, "INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(cols, ", "), strings.Join(marks, ", "))

	case plan.OpUpdate:
		keys := sortedKeys(p.Values)
		sets := make([]string, len(keys))
		for i, k := range keys {
			sets[i] = dialect.Quote(k) + " = " + b.bind(p.Values[k])
		}
		fmt.Fprintf(&b.sql, "UPDATE %s SET %s", table, strings.Join(sets, ", "))
		b.where(p.Filter)

	case plan.OpDelete:
		fmt.Fprintf(&b.sql, "DELETE FROM %s", table)
		b.where(p.Filter)

	default:
		return Query{}, plan.NewMalformedPlanError("operation", fmt.Sprintf("unsupported operation %q", p.Operation))
	}

	return Query{SQL: b.sql.String(), Args: b.args}, nil
}

func (b *builder) where(f *plan.Filter) {
	if f.Empty() {
		return
	}
	parts := make([]string, len(f.Conditions))
	for i, c := range f.Conditions {
		col := b.dialect.Quote(c.Column)
		switch c.Op {
		case plan.CmpIsNull:
			parts[i] = col + " IS NULL"
		case plan.CmpNotNull:
			parts[i] = col + " IS NOT NULL"
		case plan.CmpIn:
			marks := make([]string, len(c.Values))
			for j, v := range c.Values {
				marks[j] = b.bind(v)
			}
			parts[i] = fmt.Sprintf("%s IN (%s)", col, strings.Join(marks, ", "))
		default:
			parts[i] = fmt.Sprintf("%s %s %s", col, c.Op.Symbol(), b.bind(c.Value))
		}
	}
	b.sql.WriteString(" WHERE ")
	b.sql.WriteString(strings.Join(parts, " AND "))
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
