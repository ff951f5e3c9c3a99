package main

import (
	"database/sql"
	"encoding/json"
	"os"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/cli"
)

// recordActivity runs two validations and one denied execution.
func recordActivity(t *testing.T, env *testEnv) {
	t.Helper()

	validateFlags.plan = env.writePlan(t, "read.json", readPatientPlan)
	validateFlags.actor = actorFlags{id: "alice", role: "analyst"}
	if err := runValidate(nil, nil); err != nil {
		t.Fatalf("Failed to validate: %v", err)
	}
	validateFlags.actor = actorFlags{id: "bob", role: "clinician"}
	if err := runValidate(nil, nil); cli.ExitCode(err) != cli.ExitDenied {
		t.Fatalf("Expected denied validation, got %v", err)
	}

	executeFlags.plan = env.writePlan(t, "delete.json", deletePatientPlan)
	executeFlags.actor = actorFlags{id: "alice", role: "analyst"}
	if err := runExecute(nil, nil); cli.ExitCode(err) != cli.ExitDenied {
		t.Fatalf("Expected denied execution, got %v", err)
	}
}

// TestAuditQueryCommand tests filtered queries over recorded activity.
func TestAuditQueryCommand(t *testing.T) {
	tests := []struct {
		name   string
		filter filterFlags
		want   int
	}{
		{"all", filterFlags{}, 3},
		{"by actor", filterFlags{actorID: "alice"}, 2},
		{"denied", filterFlags{verdict: "deny"}, 2},
		{"executions", filterFlags{kind: "execute"}, 1},
		{"limit", filterFlags{limit: 1}, 1},
		{"after seq", filterFlags{afterSeq: 2}, 1},
	}

	env := setupEnv(t)
	recordActivity(t, env)
	output = "json"

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditQueryFlags.filter = tt.filter
			auditQueryFlags.actor = actorFlags{id: "ops", role: "admin"}

			cmd, buf := testCommand()
			if err := runAuditQuery(cmd, nil); err != nil {
				t.Fatalf("Failed to query: %v", err)
			}
			var records []*audit.Record
			if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
				t.Fatalf("Failed to decode records: %v", err)
			}
			if len(records) != tt.want {
				t.Errorf("got %d records, want %d", len(records), tt.want)
			}
		})
	}
}

// TestAuditQueryCommandInvalidFilter tests filter flag validation.
func TestAuditQueryCommandInvalidFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter filterFlags
	}{
		{"verdict", filterFlags{verdict: "maybe"}},
		{"kind", filterFlags{kind: "delete"}},
		{"since", filterFlags{since: "yesterday"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupEnv(t)
			auditQueryFlags.filter = tt.filter
			auditQueryFlags.actor = actorFlags{id: "ops", role: "admin"}
			if got := cli.ExitCode(runAuditQuery(nil, nil)); got != cli.ExitConfig {
				t.Errorf("exit code = %d, want %d", got, cli.ExitConfig)
			}
		})
	}
}

// TestAuditExportCommand tests CSV export to a file.
func TestAuditExportCommand(t *testing.T) {
	env := setupEnv(t)
	recordActivity(t, env)

	out := env.dir + "/audit.csv"
	auditExportFlags.format = "csv"
	auditExportFlags.out = out

	cmd, buf := testCommand()
	if err := runAuditExport(cmd, nil); err != nil {
		t.Fatalf("Failed to export: %v", err)
	}
	if !strings.Contains(buf.String(), "Exported 3 records") {
		t.Errorf("unexpected summary: %q", buf.String())
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 4 {
		t.Errorf("got %d lines, want header plus 3 records", len(lines))
	}

	auditExportFlags.format = "xml"
	if got := cli.ExitCode(runAuditExport(nil, nil)); got != cli.ExitConfig {
		t.Errorf("exit code for unknown format = %d, want %d", got, cli.ExitConfig)
	}
}

// TestAuditVerifyCommand tests verification of an intact and a tampered
// ledger.
func TestAuditVerifyCommand(t *testing.T) {
	env := setupEnv(t)
	recordActivity(t, env)

	cmd, buf := testCommand()
	if err := runAuditVerify(cmd, nil); err != nil {
		t.Fatalf("Failed to verify intact ledger: %v", err)
	}
	if !strings.Contains(buf.String(), "Ledger intact") {
		t.Errorf("unexpected report:\n%s", buf.String())
	}

	tamperLedger(t, env.ledgerPath)

	cmd, buf = testCommand()
	if err := runAuditVerify(cmd, nil); err == nil {
		t.Fatal("Expected verification of tampered ledger to fail")
	}
	if !strings.Contains(buf.String(), "seq 2") {
		t.Errorf("report does not name the tampered record:\n%s", buf.String())
	}
}

// tamperLedger rewrites the stored payload of record 2 behind the ledger's
// back.
func tamperLedger(t *testing.T, path string) {
	t.Helper()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("Failed to open ledger database: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`DROP TRIGGER audit_records_no_update`); err != nil {
		t.Fatalf("Failed to drop trigger: %v", err)
	}
	res, err := db.Exec(`UPDATE audit_records SET payload = replace(payload, '"bob"', '"eve"') WHERE seq = 2`)
	if err != nil {
		t.Fatalf("Failed to tamper with ledger: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Fatalf("Tampered %d rows, want 1", n)
	}
}
