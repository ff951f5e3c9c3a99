package policy

import (
	"fmt"
	"sort"

	"mercator-hq/warden/pkg/plan"
)

// Validate checks the policy for internal consistency: every permission names
// a declared role, every declared role grants something, and, when table
// metadata is present, every table and column reference resolves.
func (p *Policy) Validate() error {
	if p == nil {
		return configErrorf("", "policy is nil")
	}
	if len(p.Roles) == 0 {
		return configErrorf("roles", "at least one role is required")
	}

	for table, meta := range p.Tables {
		field := "tables." + table
		if !plan.ValidIdentifier(table) {
			return configErrorf(field, "invalid table name")
		}
		for _, col := range meta.Columns {
			if !plan.ValidIdentifier(col) {
				return configErrorf(field+".columns", "invalid column name %q", col)
			}
		}
		for _, col := range meta.Sensitive {
			if !meta.HasColumn(col) {
				return configErrorf(field+".sensitive", "sensitive column %q is not declared", col)
			}
		}
	}

	// Deterministic order keeps the first reported error stable.
	roles := make([]string, 0, len(p.Permissions))
	for role := range p.Permissions {
		roles = append(roles, role)
	}
	sort.Strings(roles)

	for _, role := range roles {
		if !p.HasRole(role) {
			return configErrorf("permissions."+role, "unknown role %q", role)
		}
		tables := p.Permissions[role]
		names := make([]string, 0, len(tables))
		for t := range tables {
			names = append(names, t)
		}
		sort.Strings(names)

		for _, table := range names {
			field := fmt.Sprintf("permissions.%s.%s", role, table)
			if table != WildcardTable {
				if !plan.ValidIdentifier(table) {
					return configErrorf(field, "invalid table name")
				}
				if p.HasMetadata() {
					if _, ok := p.Tables[table]; !ok {
						return configErrorf(field, "unknown table %q", table)
					}
				}
			}
			for op, perm := range tables[table] {
				if err := p.validatePermission(field+"."+string(op), table, perm); err != nil {
					return err
				}
			}
		}
	}

	for _, role := range p.Roles {
		if !p.grantsAnything(role) {
			return configErrorf("roles", "role %q has no permissions", role)
		}
	}

	ids := make(map[string]struct{}, len(p.SafetyRules))
	for i, rule := range p.SafetyRules {
		field := fmt.Sprintf("safety_rules[%d]", i)
		if _, ok := ruleKinds[rule.Kind]; !ok {
			return configErrorf(field, "unknown rule %q", rule.Kind)
		}
		if _, dup := ids[rule.ID]; dup {
			return configErrorf(field, "duplicate rule name %q", rule.ID)
		}
		ids[rule.ID] = struct{}{}

		for _, table := range rule.Tables {
			if p.HasMetadata() {
				if _, ok := p.Tables[table]; !ok {
					return configErrorf(field+".tables", "unknown table %q", table)
				}
			} else if !plan.ValidIdentifier(table) {
				return configErrorf(field+".tables", "invalid table name %q", table)
			}
		}
		for _, role := range rule.ExemptRoles {
			if !p.HasRole(role) {
				return configErrorf(field+".exempt_roles", "unknown role %q", role)
			}
		}
		if rule.Kind == RuleDenySensitiveColumns && p.HasMetadata() && !p.anySensitive() {
			return configErrorf(field, "no table declares sensitive columns")
		}
	}

	return nil
}

func (p *Policy) validatePermission(field, table string, perm Permission) error {
	switch perm.Verdict {
	case VerdictAllow, VerdictDeny, VerdictRequireJustification:
	default:
		return configErrorf(field, "invalid verdict %q", perm.Verdict)
	}

	meta, hasMeta := p.Tables[table]
	for _, col := range perm.Columns {
		if !plan.ValidIdentifier(col) {
			return configErrorf(field+".columns", "invalid column name %q", col)
		}
		if hasMeta && !meta.HasColumn(col) {
			return configErrorf(field+".columns", "unknown column %q on %s", col, table)
		}
	}
	return nil
}

func (p *Policy) grantsAnything(role string) bool {
	for _, ops := range p.Permissions[role] {
		for _, perm := range ops {
			if perm.Verdict != VerdictDeny {
				return true
			}
		}
	}
	return false
}

func (p *Policy) anySensitive() bool {
	for _, meta := range p.Tables {
		if len(meta.Sensitive) > 0 {
			return true
		}
	}
	return false
}
