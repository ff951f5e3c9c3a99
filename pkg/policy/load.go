package policy

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"mercator-hq/warden/pkg/plan"
)

// document mirrors the YAML policy document.
type document struct {
	Version     string                                           `yaml:"version"`
	Roles       []string                                         `yaml:"roles"`
	Tables      map[string]TableMeta                             `yaml:"tables"`
	Permissions map[string]map[string]map[string]permissionEntry `yaml:"permissions"`
	SafetyRules []yaml.Node                                      `yaml:"safety_rules"`
}

// permissionEntry accepts either a bare verdict string or a mapping with
// verdict and columns.
type permissionEntry struct {
	Verdict string   `yaml:"verdict"`
	Columns []string `yaml:"columns"`
}

func (e *permissionEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		e.Verdict = node.Value
		return nil
	}
	type rawEntry permissionEntry
	var raw rawEntry
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*e = permissionEntry(raw)
	return nil
}

type ruleParams struct {
	Operations  []string `yaml:"operations"`
	Threshold   *int64   `yaml:"threshold"`
	ExemptRoles []string `yaml:"exempt_roles"`
}

// Load parses a policy document and validates it. Any structural or semantic
// problem is reported as a *ConfigError.
func Load(data []byte) (*Policy, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, NewConfigError("", "policy document is empty", nil)
		}
		return nil, NewConfigError("", "failed to parse policy document", err)
	}

	sum := sha256.Sum256(data)
	p := &Policy{
		Version:     doc.Version,
		Digest:      hex.EncodeToString(sum[:]),
		Tables:      doc.Tables,
		Permissions: make(map[string]map[string]map[plan.Operation]Permission, len(doc.Permissions)),
		Document:    slices.Clone(data),
		LoadedAt:    time.Now().UTC(),
	}

	seen := make(map[string]struct{}, len(doc.Roles))
	for i, role := range doc.Roles {
		if role == "" {
			return nil, configErrorf(fmt.Sprintf("roles[%d]", i), "role name is empty")
		}
		if _, dup := seen[role]; dup {
			return nil, configErrorf(fmt.Sprintf("roles[%d]", i), "duplicate role %q", role)
		}
		seen[role] = struct{}{}
		p.Roles = append(p.Roles, role)
	}

	for role, tables := range doc.Permissions {
		byTable := make(map[string]map[plan.Operation]Permission, len(tables))
		for table, ops := range tables {
			byOp := make(map[plan.Operation]Permission, len(ops))
			for opName, entry := range ops {
				field := fmt.Sprintf("permissions.%s.%s.%s", role, table, opName)
				op, err := plan.ParseOperation(opName)
				if err != nil {
					return nil, NewConfigError(field, "unknown operation", err)
				}
				verdict, ok := ParseVerdict(entry.Verdict)
				if !ok {
					return nil, configErrorf(field, "invalid verdict %q", entry.Verdict)
				}
				if _, dup := byOp[op]; dup {
					return nil, configErrorf(field, "operation %q defined more than once", op)
				}
				byOp[op] = Permission{Verdict: verdict, Columns: entry.Columns}
			}
			byTable[table] = byOp
		}
		p.Permissions[role] = byTable
	}

	for i := range doc.SafetyRules {
		rule, err := parseRule(&doc.SafetyRules[i], i)
		if err != nil {
			return nil, err
		}
		p.SafetyRules = append(p.SafetyRules, rule)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// parseRule decodes one safety_rules entry: optional name and tables keys
// plus exactly one variant key whose value holds the parameters.
func parseRule(node *yaml.Node, index int) (Rule, error) {
	field := fmt.Sprintf("safety_rules[%d]", index)
	if node.Kind != yaml.MappingNode {
		return Rule{}, configErrorf(field, "rule must be a mapping")
	}

	rule := Rule{ID: field}
	var variant *yaml.Node
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i].Value, node.Content[i+1]
		switch key {
		case "name":
			if value.Value != "" {
				rule.ID = value.Value
			}
		case "tables":
			if err := value.Decode(&rule.Tables); err != nil {
				return Rule{}, NewConfigError(field+".tables", "tables must be a list", err)
			}
		default:
			if _, ok := ruleKinds[RuleKind(key)]; !ok {
				return Rule{}, configErrorf(field, "unknown rule %q", key)
			}
			if variant != nil {
				return Rule{}, configErrorf(field, "rule declares more than one predicate (%s, %s)", rule.Kind, key)
			}
			rule.Kind = RuleKind(key)
			variant = value
		}
	}
	if variant == nil {
		return Rule{}, configErrorf(field, "rule has no predicate")
	}

	spec := ruleKinds[rule.Kind]
	field += "." + string(rule.Kind)

	var params ruleParams
	switch variant.Kind {
	case yaml.MappingNode:
		for i := 0; i < len(variant.Content); i += 2 {
			key := variant.Content[i].Value
			if key != "exempt_roles" && !slices.Contains(spec.params, key) {
				return Rule{}, configErrorf(field, "unknown parameter %q", key)
			}
		}
		if err := variant.Decode(&params); err != nil {
			return Rule{}, NewConfigError(field, "invalid parameters", err)
		}
	case yaml.ScalarNode:
		// A bare key ("deny_without_filter:") means default parameters.
		if variant.Tag != "!!null" && variant.Value != "" {
			return Rule{}, configErrorf(field, "parameters must be a mapping")
		}
	default:
		return Rule{}, configErrorf(field, "parameters must be a mapping")
	}

	for _, name := range params.Operations {
		op, err := plan.ParseOperation(name)
		if err != nil {
			return Rule{}, NewConfigError(field+".operations", "unknown operation", err)
		}
		rule.Operations = append(rule.Operations, op)
	}
	if len(rule.Operations) == 0 {
		if spec.requireOperations {
			return Rule{}, configErrorf(field, "operations is required")
		}
		rule.Operations = slices.Clone(spec.defaultOperations)
	}

	if spec.requireThreshold {
		if params.Threshold == nil {
			return Rule{}, configErrorf(field, "threshold is required")
		}
		if *params.Threshold < 0 {
			return Rule{}, configErrorf(field, "threshold must not be negative")
		}
		rule.Threshold = *params.Threshold
	}
	rule.ExemptRoles = params.ExemptRoles

	return rule, nil
}
