package main

import (
	"encoding/json"
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
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/service"
	"mercator-hq/warden/pkg/validation"
)

var validateFlags struct {
	plan  string
	actor actorFlags
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Evaluate a plan against the active policy",
	Long: `Evaluate a query plan against the active policy without executing it.

The plan is a JSON document. Use "-" to read it from stdin. The decision is
printed and, unless ledger.record_validations is false, recorded in the audit
ledger. A deny or require-justification verdict exits with status 2.

Examples:
  warden validate --plan plan.json --actor alice --role analyst
  cat plan.json | warden validate --plan - --actor alice --role analyst -o json`,
	RunE: runValidate,
}

var executeFlags struct {
	plan          string
	dryRun        bool
	justification string
	actor         actorFlags
}

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Validate and execute a plan",
	Long: `Validate a query plan and execute it against the governed database.

Every attempt is recorded in the audit ledger, including rejected ones. A
require-justification verdict runs only when --justification is given. With
--dry-run the plan runs in a transaction that is always rolled back.

Examples:
  warden execute --plan read.json --actor alice --role analyst
  warden execute --plan cleanup.json --actor bob --role admin \
      --justification "ticket OPS-142 duplicate rows"
  warden execute --plan insert.json --actor carol --role clinician --dry-run`,
	RunE: runExecute,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(executeCmd)

	validateCmd.Flags().StringVarP(&validateFlags.plan, "plan", "p", "", "plan file (JSON), or - for stdin")
	validateFlags.actor.register(validateCmd)

	executeCmd.Flags().StringVarP(&executeFlags.plan, "plan", "p", "", "plan file (JSON), or - for stdin")
	executeCmd.Flags().BoolVar(&executeFlags.dryRun, "dry-run", false, "simulate without committing")
	executeCmd.Flags().StringVar(&executeFlags.justification, "justification", "", "rationale for plans that require justification")
	executeFlags.actor.register(executeCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	actor, err := validateFlags.actor.actor()
	if err != nil {
		return err
	}
	p, err := readPlan(cmd, validateFlags.plan)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	defer closeApp(a)

	decision, err := a.svc.Validate(ctx, actor, p)
	if err != nil {
		return cli.NewCommandError("validate", err)
	}
	if err := render(cmd, decisionView{decision}); err != nil {
		return err
	}
	if decision.Verdict != validation.VerdictAllow {
		return &cli.DeniedError{Verdict: string(decision.Verdict), Reason: decision.Reason}
	}
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	actor, err := executeFlags.actor.actor()
	if err != nil {
		return err
	}
	p, err := readPlan(cmd, executeFlags.plan)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("execute", err)
	}
	defer closeApp(a)

	outcome, execErr := a.svc.Execute(ctx, actor, p, service.ExecuteOptions{
		DryRun:        executeFlags.dryRun,
		Justification: executeFlags.justification,
	})
	if err := render(cmd, outcomeView{outcome}); err != nil {
		return errors.Join(execErr, err)
	}
	if execErr == nil {
		return nil
	}

	var notAuthorized *execution.NotAuthorizedError
	if errors.As(execErr, &notAuthorized) {
		return &cli.DeniedError{Verdict: string(notAuthorized.Verdict), Reason: notAuthorized.Reason}
	}
	return cli.NewCommandError("execute", execErr)
}

// readPlan decodes the plan document at path. Semantic checks are left to
// the service so that malformed plans are evaluated and recorded like any
// other.
func readPlan(cmd *cobra.Command, path string) (*plan.Plan, error) {
	if path == "" {
		return nil, cli.NewConfigError("plan", "--plan is required")
	}

	var r io.Reader
	if path == "-" {
		r = os.Stdin
		if cmd != nil {
			r = cmd.InOrStdin()
		}
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, cli.NewConfigError("plan", fmt.Sprintf("failed to open plan: %v", err))
		}
		defer f.Close()
		r = f
	}

	var p plan.Plan
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, cli.NewConfigError("plan", fmt.Sprintf("invalid plan document: %v", err))
	}
	return &p, nil
}

type decisionView struct {
	validation.Decision
}

func (v decisionView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Verdict: %s\n", v.Verdict)
	fmt.Fprintf(w, "Reason:  %s\n", v.Reason)
	if v.PolicyVersion != "" {
		fmt.Fprintf(w, "Policy:  %s\n", v.PolicyVersion)
	}
	if v.Override {
		fmt.Fprintln(w, "Override: justified")
	}
	for _, m := range v.MatchedRules {
		fmt.Fprintf(w, "  - [%s] %s -> %s", m.Category, m.ID, m.Effect)
		if m.Reason != "" {
			fmt.Fprintf(w, " (%s)", m.Reason)
		}
		fmt.Fprintln(w)
	}
	return nil
}

type outcomeView struct {
	execution.Outcome
}

func (v outcomeView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Status:        %s\n", v.Status)
	fmt.Fprintf(w, "Rows affected: %d\n", v.RowsAffected)
	if v.Attempts > 0 {
		fmt.Fprintf(w, "Attempts:      %d\n", v.Attempts)
	}
	if v.Error != "" {
		fmt.Fprintf(w, "Error:         %s (%s)\n", v.Error, v.ErrorKind)
	}
	for _, row := range v.Rows {
		fields := make([]string, 0, len(row))
		for _, k := range slices.Sorted(maps.Keys(row)) {
			fields = append(fields, fmt.Sprintf("%s=%v", k, row[k]))
		}
		fmt.Fprintln(w, strings.Join(fields, " "))
	}
	if v.Truncated {
		fmt.Fprintln(w, "(truncated)")
	}
	return nil
}
