package main

import (
	"fmt"
	"io"
	"iter"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/audit/export"
	"mercator-hq/warden/pkg/audit/storage"
	"mercator-hq/warden/pkg/audit/verify"
	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/policy"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query, export and verify the audit ledger",
	Long: `Inspect the audit ledger.

Subcommands:
  query   - List records matching a filter
  export  - Stream records to a file as json, ndjson or csv
  verify  - Check the hash chain and sequence of every record`,
}

// filterFlags are the record filter flags shared by query and export.
type filterFlags struct {
	actorID  string
	role     string
	verdict  string
	status   string
	kind     string
	since    string
	until    string
	afterSeq int64
	limit    int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.actorID, "filter-actor", "", "only records for this actor id")
	cmd.Flags().StringVar(&f.role, "filter-role", "", "only records for this role")
	cmd.Flags().StringVar(&f.verdict, "verdict", "", "only records with this verdict (allow, deny, require-justification)")
	cmd.Flags().StringVar(&f.status, "status", "", "only records with this outcome status")
	cmd.Flags().StringVar(&f.kind, "kind", "", "only records of this kind (validate, execute, policy_reload)")
	cmd.Flags().StringVar(&f.since, "since", "", "only records at or after this RFC 3339 time")
	cmd.Flags().StringVar(&f.until, "until", "", "only records before this RFC 3339 time")
	cmd.Flags().Int64Var(&f.afterSeq, "after-seq", 0, "only records after this sequence id")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of records (0 = server maximum)")
}

func (f *filterFlags) filter() (audit.Filter, error) {
	out := audit.Filter{
		ActorID:  f.actorID,
		Role:     f.role,
		Status:   execution.Status(f.status),
		Kind:     audit.Kind(f.kind),
		AfterSeq: f.afterSeq,
		Limit:    f.limit,
	}
	if f.verdict != "" {
		v, ok := policy.ParseVerdict(f.verdict)
		if !ok {
			return out, cli.NewConfigError("verdict", fmt.Sprintf("unknown verdict %q", f.verdict))
		}
		out.Verdict = v
	}
	if f.kind != "" && !out.Kind.Valid() {
		return out, cli.NewConfigError("kind", fmt.Sprintf("unknown kind %q", f.kind))
	}

	var err error
	if out.Since, err = parseTime("since", f.since); err != nil {
		return out, err
	}
	if out.Until, err = parseTime("until", f.until); err != nil {
		return out, err
	}
	return out, nil
}

func parseTime(field, s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, cli.NewConfigError(field, fmt.Sprintf("invalid time %q: %v", s, err))
	}
	return &t, nil
}

var auditQueryFlags struct {
	filter filterFlags
	actor  actorFlags
}

var auditQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "List audit records matching a filter",
	Long: `List audit records in sequence order.

The query runs on behalf of --actor and --role. Callers without the admin
role see data store and internal failure details redacted.

Examples:
  warden audit query --actor ops --role admin --verdict deny --limit 20
  warden audit query --actor ops --role admin --kind policy_reload -o json
  warden audit query --actor ops --role admin --since 2026-01-01T00:00:00Z`,
	RunE: runAuditQuery,
}

var auditExportFlags struct {
	filter   filterFlags
	format   string
	out      string
	progress bool
}

var auditExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audit records",
	Long: `Stream audit records from the ledger to a file or stdout.

Records are read page by page and written as they arrive, so exports of
large ledgers run in constant memory. Export reads the ledger directly and
writes records exactly as stored.

Examples:
  warden audit export --format csv --out audit.csv
  warden audit export --format ndjson --since 2026-01-01T00:00:00Z > jan.ndjson`,
	RunE: runAuditExport,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the integrity of the audit ledger",
	Long: `Recompute the hash of every stored record and check that sequence ids are
contiguous. Any mismatch or gap is reported and the command exits non-zero.`,
	RunE: runAuditVerify,
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditQueryCmd)
	auditCmd.AddCommand(auditExportCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	auditQueryFlags.filter.register(auditQueryCmd)
	auditQueryFlags.actor.register(auditQueryCmd)

	auditExportFlags.filter.register(auditExportCmd)
	auditExportCmd.Flags().StringVar(&auditExportFlags.format, "format", "ndjson", "export format: json, ndjson, csv")
	auditExportCmd.Flags().StringVar(&auditExportFlags.out, "out", "", "output file (default stdout)")
	auditExportCmd.Flags().BoolVar(&auditExportFlags.progress, "progress", false, "report progress on stderr")
}

func runAuditQuery(cmd *cobra.Command, args []string) error {
	actor, err := auditQueryFlags.actor.actor()
	if err != nil {
		return err
	}
	filter, err := auditQueryFlags.filter.filter()
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
		return cli.NewCommandError("audit query", err)
	}
	defer closeApp(a)

	records, err := a.svc.QueryAudit(ctx, actor, filter)
	if err != nil {
		return cli.NewCommandError("audit query", err)
	}
	return render(cmd, recordsView(records))
}

func runAuditExport(cmd *cobra.Command, args []string) error {
	filter, err := auditExportFlags.filter.filter()
	if err != nil {
		return err
	}
	format := export.Format(auditExportFlags.format)
	exporter, err := export.New(format)
	if err != nil {
		return cli.NewConfigError("format", err.Error())
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ledger, err := storage.Open(&cfg.Ledger)
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}
	defer ledger.Close()

	w := commandOutput(cmd)
	if auditExportFlags.out != "" {
		f, err := os.Create(auditExportFlags.out)
		if err != nil {
			return cli.NewCommandError("audit export", err)
		}
		defer f.Close()
		w = f
	}

	ctx := commandContext(cmd)
	var progress *cli.Progress
	if auditExportFlags.progress {
		total, err := ledger.LastSeq(ctx)
		if err != nil {
			return cli.NewCommandError("audit export", err)
		}
		progress = cli.NewProgress(os.Stderr, "exporting", total-filter.AfterSeq)
	}

	n, err := exporter.Export(ctx, counted(ledger.Query(ctx, filter), progress), w)
	progress.Done()
	if err != nil {
		return cli.NewCommandError("audit export", err)
	}
	if auditExportFlags.out != "" {
		fmt.Fprintf(commandOutput(cmd), "Exported %d records to %s\n", n, auditExportFlags.out)
	}
	return nil
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ledger, err := storage.Open(&cfg.Ledger)
	if err != nil {
		return cli.NewCommandError("audit verify", err)
	}
	defer ledger.Close()

	report, err := verify.Verify(commandContext(cmd), ledger)
	if err != nil {
		return cli.NewCommandError("audit verify", err)
	}
	if err := render(cmd, reportView{report}); err != nil {
		return err
	}
	if !report.OK() {
		return cli.NewCommandError("audit verify", fmt.Errorf("%d integrity problems found", len(report.Problems)))
	}
	return nil
}

// counted reports each record to progress as it passes through.
func counted(seq iter.Seq2[*audit.Record, error], progress *cli.Progress) iter.Seq2[*audit.Record, error] {
	return func(yield func(*audit.Record, error) bool) {
		for r, err := range seq {
			if err == nil {
				progress.Add(1)
			}
			if !yield(r, err) {
				return
			}
		}
	}
}

type recordsView []*audit.Record

func (v recordsView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "%-6s %-20s %-13s %-12s %-10s %-21s %s\n",
		"SEQ", "TIME", "KIND", "ACTOR", "ROLE", "VERDICT", "STATUS")
	for _, r := range v {
		status := "-"
		if r.Outcome != nil {
			status = string(r.Outcome.Status)
		}
		fmt.Fprintf(w, "%-6d %-20s %-13s %-12s %-10s %-21s %s\n",
			r.Seq, r.Timestamp.Format(time.RFC3339), r.Kind, r.ActorID, r.Role, r.Decision.Verdict, status)
	}
	fmt.Fprintf(w, "%d records\n", len(v))
	return nil
}

type reportView struct {
	*verify.Report
}

func (v reportView) RenderText(w io.Writer) error {
	fmt.Fprintf(w, "Checked %d records (seq %d-%d) in %s\n",
		v.Checked, v.FirstSeq, v.LastSeq, v.Duration.Round(time.Millisecond))
	if v.OK() {
		fmt.Fprintln(w, "Ledger intact")
		return nil
	}
	for _, p := range v.Problems {
		fmt.Fprintf(w, "  seq %d: %s: %s\n", p.Seq, p.Kind, p.Detail)
	}
	return nil
}
