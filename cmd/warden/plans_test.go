package main

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/execution"
)

const (
	readPatientPlan   = `{"operation":"read","table":"Patient","columns":["id","gender"]}`
	deletePatientPlan = `{"operation":"delete","table":"Patient","filter":{"conditions":[{"column":"id","op":"eq","value":2}]}}`
	insertLabPlan     = `{"operation":"insert","table":"Lab","values":{"id":1,"patient_id":1,"test":"cbc","result":"ok"}}`
)

// TestValidateCommand tests validate verdicts and exit statuses.
func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name     string
		plan     string
		actorID  string
		role     string
		wantCode int
		wantOut  string
	}{
		{"allowed read", readPatientPlan, "alice", "analyst", cli.ExitOK, "Verdict: allow"},
		{"denied delete", deletePatientPlan, "alice", "analyst", cli.ExitDenied, "Verdict: deny"},
		{"justification required", deletePatientPlan, "root", "admin", cli.ExitDenied, "require-justification"},
		{"missing role", readPatientPlan, "alice", "", cli.ExitConfig, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupEnv(t)
			validateFlags.plan = env.writePlan(t, "plan.json", tt.plan)
			validateFlags.actor = actorFlags{id: tt.actorID, role: tt.role}

			cmd, buf := testCommand()
			err := runValidate(cmd, nil)
			if got := cli.ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err: %v)", got, tt.wantCode, err)
			}
			if !strings.Contains(buf.String(), tt.wantOut) {
				t.Errorf("output missing %q:\n%s", tt.wantOut, buf.String())
			}
		})
	}
}

// TestValidateCommandBadPlan tests that undecodable plan documents are
// rejected before any component is opened.
func TestValidateCommandBadPlan(t *testing.T) {
	env := setupEnv(t)
	validateFlags.actor = actorFlags{id: "alice", role: "analyst"}

	for name, path := range map[string]string{
		"missing flag":  "",
		"missing file":  env.dir + "/nope.json",
		"unknown field": env.writePlan(t, "bad.json", `{"operation":"read","table":"Patient","bogus":1}`),
	} {
		t.Run(name, func(t *testing.T) {
			validateFlags.plan = path
			err := runValidate(nil, nil)
			if got := cli.ExitCode(err); got != cli.ExitConfig {
				t.Errorf("exit code = %d, want %d (err: %v)", got, cli.ExitConfig, err)
			}
		})
	}
}

// TestExecuteCommand tests reads, dry runs and justified deletes.
func TestExecuteCommand(t *testing.T) {
	env := setupEnv(t)
	output = "json"

	run := func(t *testing.T, plan, actorID, role, justification string, dryRun bool) (execution.Outcome, error) {
		t.Helper()
		executeFlags.plan = env.writePlan(t, "plan.json", plan)
		executeFlags.actor = actorFlags{id: actorID, role: role}
		executeFlags.justification = justification
		executeFlags.dryRun = dryRun

		cmd, buf := testCommand()
		err := runExecute(cmd, nil)

		var outcome execution.Outcome
		if decodeErr := json.Unmarshal(buf.Bytes(), &outcome); decodeErr != nil {
			t.Fatalf("Failed to decode outcome: %v\n%s", decodeErr, buf.String())
		}
		return outcome, err
	}

	t.Run("read", func(t *testing.T) {
		outcome, err := run(t, readPatientPlan, "alice", "analyst", "", false)
		if err != nil {
			t.Fatalf("Failed to execute: %v", err)
		}
		if outcome.Status != execution.StatusExecuted || len(outcome.Rows) != 3 {
			t.Errorf("outcome = %+v, want executed with 3 rows", outcome)
		}
	})

	t.Run("dry run insert", func(t *testing.T) {
		outcome, err := run(t, insertLabPlan, "carol", "clinician", "", true)
		if err != nil {
			t.Fatalf("Failed to execute: %v", err)
		}
		if outcome.Status != execution.StatusDryRun || outcome.RowsAffected != 1 {
			t.Errorf("outcome = %+v, want dry run affecting 1 row", outcome)
		}
	})

	t.Run("unjustified delete", func(t *testing.T) {
		outcome, err := run(t, deletePatientPlan, "root", "admin", "", false)
		var denied *cli.DeniedError
		if !errors.As(err, &denied) {
			t.Fatalf("Expected DeniedError, got %v", err)
		}
		if outcome.Status != execution.StatusRejected {
			t.Errorf("Status = %s, want %s", outcome.Status, execution.StatusRejected)
		}
	})

	t.Run("justified delete", func(t *testing.T) {
		outcome, err := run(t, deletePatientPlan, "root", "admin", "duplicate record", false)
		if err != nil {
			t.Fatalf("Failed to execute: %v", err)
		}
		if outcome.RowsAffected != 1 {
			t.Errorf("RowsAffected = %d, want 1", outcome.RowsAffected)
		}
	})
}
