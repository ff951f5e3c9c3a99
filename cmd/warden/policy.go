package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/policy"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy document tools",
	Long: `Check, inspect and replace the policy document.

Subcommands:
  lint    - Parse and validate a policy document
  tables  - List the table metadata a policy declares
  reload  - Replace the active policy (admin role only)`,
}

var policyLintFlags struct {
	file string
}

var policyLintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Parse and validate a policy document",
	Long: `Parse a policy document and run every structural check applied on load.
Nothing is changed. The command exits non-zero if the document would be
rejected.

Examples:
  warden policy lint --file policy.yaml
  warden policy lint --file policy.yaml -o json`,
	RunE: runPolicyLint,
}

var policyTablesFlags struct {
	file string
}

var policyTablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List table metadata declared by a policy",
	Long: `List the tables, columns and sensitive columns a policy declares.

Without --file the configured policy source is read.`,
	RunE: runPolicyTables,
}

var policyReloadFlags struct {
	file  string
	actor actorFlags
}

var policyReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Replace the active policy",
	Long: `Validate a new policy document and make it the active policy.

The document replaces the configured policy file only if it is valid. The
attempt is recorded in the audit ledger whether it succeeds or not. Only the
configured admin role may reload.

Examples:
  warden policy reload --file policy-v2.yaml --actor ops --role admin`,
	RunE: runPolicyReload,
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyLintCmd)
	policyCmd.AddCommand(policyTablesCmd)
	policyCmd.AddCommand(policyReloadCmd)

	policyLintCmd.Flags().StringVarP(&policyLintFlags.file, "file", "f", "", "policy file to check")
	policyTablesCmd.Flags().StringVarP(&policyTablesFlags.file, "file", "f", "", "policy file (default: configured source)")
	policyReloadCmd.Flags().StringVarP(&policyReloadFlags.file, "file", "f", "", "replacement policy file")
	policyReloadFlags.actor.register(policyReloadCmd)
}

// LintResult is the outcome of checking one policy document.
type LintResult struct {
	File        string   `json:"file"`
	Valid       bool     `json:"valid"`
	Error       string   `json:"error,omitempty"`
	Revision    string   `json:"revision,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Tables      []string `json:"tables,omitempty"`
	SafetyRules []string `json:"safety_rules,omitempty"`
}

func (r LintResult) RenderText(w io.Writer) error {
	if !r.Valid {
		fmt.Fprintf(w, "%s: invalid\n  %s\n", r.File, r.Error)
		return nil
	}
	fmt.Fprintf(w, "%s: valid\n", r.File)
	fmt.Fprintf(w, "  Revision:     %s\n", r.Revision)
	fmt.Fprintf(w, "  Roles:        %s\n", strings.Join(r.Roles, ", "))
	fmt.Fprintf(w, "  Tables:       %s\n", strings.Join(r.Tables, ", "))
	fmt.Fprintf(w, "  Safety rules: %s\n", strings.Join(r.SafetyRules, ", "))
	return nil
}

func runPolicyLint(cmd *cobra.Command, args []string) error {
	if policyLintFlags.file == "" {
		return cli.NewConfigError("file", "--file is required")
	}
	data, err := os.ReadFile(policyLintFlags.file)
	if err != nil {
		return cli.NewCommandError("policy lint", err)
	}

	result := LintResult{File: policyLintFlags.file}
	p, loadErr := policy.Load(data)
	if loadErr != nil {
		result.Error = loadErr.Error()
	} else {
		result.Valid = true
		result.Revision = p.Revision()
		result.Roles = p.Roles
		result.Tables = p.TableNames()
		for _, r := range p.SafetyRules {
			result.SafetyRules = append(result.SafetyRules, r.ID)
		}
	}

	if err := render(cmd, result); err != nil {
		return err
	}
	if loadErr != nil {
		return cli.NewCommandError("policy lint", loadErr)
	}
	return nil
}

type tablesView struct {
	Revision string                      `json:"revision"`
	Tables   map[string]policy.TableMeta `json:"tables"`
}

func (v tablesView) RenderText(w io.Writer) error {
	if len(v.Tables) == 0 {
		fmt.Fprintln(w, "No table metadata declared")
		return nil
	}
	for _, name := range slices.Sorted(maps.Keys(v.Tables)) {
		t := v.Tables[name]
		fmt.Fprintf(w, "%s\n  columns:   %s\n", name, strings.Join(t.Columns, ", "))
		if len(t.Sensitive) > 0 {
			fmt.Fprintf(w, "  sensitive: %s\n", strings.Join(t.Sensitive, ", "))
		}
	}
	return nil
}

func runPolicyTables(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)

	var data []byte
	if policyTablesFlags.file != "" {
		b, err := os.ReadFile(policyTablesFlags.file)
		if err != nil {
			return cli.NewCommandError("policy tables", err)
		}
		data = b
	} else {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		src, err := openSource(ctx, &cfg.Policy)
		if err != nil {
			return cli.NewCommandError("policy tables", err)
		}
		if data, err = src.Read(ctx); err != nil {
			return cli.NewCommandError("policy tables", err)
		}
	}

	p, err := policy.Load(data)
	if err != nil {
		return cli.NewCommandError("policy tables", err)
	}
	return render(cmd, tablesView{Revision: p.Revision(), Tables: p.Tables})
}

func runPolicyReload(cmd *cobra.Command, args []string) error {
	actor, err := policyReloadFlags.actor.actor()
	if err != nil {
		return err
	}
	if policyReloadFlags.file == "" {
		return cli.NewConfigError("file", "--file is required")
	}
	doc, err := os.ReadFile(policyReloadFlags.file)
	if err != nil {
		return cli.NewCommandError("policy reload", err)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("policy reload", err)
	}
	defer closeApp(a)

	if err := a.svc.ReloadPolicy(ctx, actor, doc); err != nil {
		var notAuthorized *execution.NotAuthorizedError
		if errors.As(err, &notAuthorized) {
			return &cli.DeniedError{Verdict: string(notAuthorized.Verdict), Reason: notAuthorized.Reason}
		}
		return cli.NewCommandError("policy reload", err)
	}

	p, err := a.store.Current()
	if err != nil {
		return cli.NewCommandError("policy reload", err)
	}
	fmt.Fprintf(commandOutput(cmd), "Policy reloaded: %s\n", p.Revision())
	return nil
}
