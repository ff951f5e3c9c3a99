package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"mercator-hq/warden/pkg/cli"
	"mercator-hq/warden/pkg/config"
)

// TestPolicyLintCommand tests linting valid and invalid documents.
func TestPolicyLintCommand(t *testing.T) {
	dir := t.TempDir()
	invalid := filepath.Join(dir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("roles: []\npermissions: {}\n"), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	tests := []struct {
		name      string
		file      string
		wantValid bool
		wantCode  int
	}{
		{"valid", "../../pkg/policy/testdata/clinical.yaml", true, cli.ExitOK},
		{"invalid", invalid, false, cli.ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetFlags()
			defer resetFlags()
			output = "json"
			policyLintFlags.file = tt.file

			cmd, buf := testCommand()
			err := runPolicyLint(cmd, nil)
			if got := cli.ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err: %v)", got, tt.wantCode, err)
			}

			var result LintResult
			if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
				t.Fatalf("Failed to decode result: %v", err)
			}
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (error: %s)", result.Valid, tt.wantValid, result.Error)
			}
			if tt.wantValid && len(result.SafetyRules) != 3 {
				t.Errorf("SafetyRules = %v, want 3 rules", result.SafetyRules)
			}
		})
	}

	resetFlags()
	if got := cli.ExitCode(runPolicyLint(nil, nil)); got != cli.ExitConfig {
		t.Errorf("exit code without --file = %d, want %d", got, cli.ExitConfig)
	}
}

// TestPolicyTablesCommand tests listing tables from a file and from the
// configured source.
func TestPolicyTablesCommand(t *testing.T) {
	setupEnv(t)

	for name, file := range map[string]string{
		"file":   "../../pkg/policy/testdata/clinical.yaml",
		"source": "",
	} {
		t.Run(name, func(t *testing.T) {
			policyTablesFlags.file = file
			cmd, buf := testCommand()
			if err := runPolicyTables(cmd, nil); err != nil {
				t.Fatalf("Failed to list tables: %v", err)
			}
			out := buf.String()
			for _, want := range []string{"Encounter", "Lab", "Patient", "sensitive: mrn"} {
				if !strings.Contains(out, want) {
					t.Errorf("output missing %q:\n%s", want, out)
				}
			}
		})
	}
}

// TestPolicyReloadCommand tests authorization, rejection and persistence.
func TestPolicyReloadCommand(t *testing.T) {
	env := setupEnv(t)

	original, err := os.ReadFile(env.policyPath)
	if err != nil {
		t.Fatalf("Failed to read policy: %v", err)
	}
	next := strings.Replace(string(original), `version: "2025-01"`, `version: "2025-02"`, 1)
	nextPath := filepath.Join(env.dir, "next.yaml")
	if err := os.WriteFile(nextPath, []byte(next), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}
	badPath := filepath.Join(env.dir, "bad.yaml")
	if err := os.WriteFile(badPath, []byte("roles: [\n"), 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	tests := []struct {
		name     string
		file     string
		role     string
		wantCode int
		wantDoc  string
	}{
		{"not admin", nextPath, "analyst", cli.ExitDenied, string(original)},
		{"invalid document", badPath, "admin", cli.ExitFailure, string(original)},
		{"accepted", nextPath, "admin", cli.ExitOK, next},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policyReloadFlags.file = tt.file
			policyReloadFlags.actor = actorFlags{id: "ops", role: tt.role}

			cmd, buf := testCommand()
			err := runPolicyReload(cmd, nil)
			if got := cli.ExitCode(err); got != tt.wantCode {
				t.Fatalf("exit code = %d, want %d (err: %v)", got, tt.wantCode, err)
			}

			onDisk, err := os.ReadFile(env.policyPath)
			if err != nil {
				t.Fatalf("Failed to read policy: %v", err)
			}
			if string(onDisk) != tt.wantDoc {
				t.Errorf("policy file changed unexpectedly:\n%s", onDisk)
			}
			if tt.wantCode == cli.ExitOK && !strings.Contains(buf.String(), "2025-02@") {
				t.Errorf("unexpected output: %q", buf.String())
			}
		})
	}

	// Every attempt is recorded.
	output = "json"
	auditQueryFlags.filter = filterFlags{kind: "policy_reload"}
	auditQueryFlags.actor = actorFlags{id: "ops", role: "admin"}
	cmd, buf := testCommand()
	if err := runAuditQuery(cmd, nil); err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if n := strings.Count(buf.String(), `"kind": "policy_reload"`); n != 3 {
		t.Errorf("got %d policy_reload records, want 3", n)
	}
}

// TestServeDryRun tests configuration checking without starting a server.
func TestServeDryRun(t *testing.T) {
	setupEnv(t)
	serveFlags.dryRun = true
	serveFlags.listenAddress = "127.0.0.1:0"

	cmd, buf := testCommand()
	if err := runServe(cmd, nil); err != nil {
		t.Fatalf("Failed dry run: %v", err)
	}
	if !strings.Contains(buf.String(), "Configuration is valid") {
		t.Errorf("unexpected output: %q", buf.String())
	}

	serveFlags.dryRun = true
	serveFlags.logLevel = "loud"
	config.Reset()
	if got := cli.ExitCode(runServe(nil, nil)); got != cli.ExitConfig {
		t.Errorf("exit code for bad log level = %d, want %d", got, cli.ExitConfig)
	}
}
