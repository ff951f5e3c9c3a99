package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/execution"
)

// testEnv is a workspace with a config file, a writable copy of the clinical
// policy, a seeded data store and an empty SQLite ledger.
type testEnv struct {
	dir        string
	policyPath string
	ledgerPath string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		policyPath: filepath.Join(dir, "policy.yaml"),
		ledgerPath: filepath.Join(dir, "ledger.db"),
	}

	doc, err := os.ReadFile("../../pkg/policy/testdata/clinical.yaml")
	if err != nil {
		t.Fatalf("Failed to read policy fixture: %v", err)
	}
	if err := os.WriteFile(env.policyPath, doc, 0o644); err != nil {
		t.Fatalf("Failed to write policy: %v", err)
	}

	dataPath := filepath.Join(dir, "data.db")
	seedDataStore(t, dataPath)

	cfg := fmt.Sprintf(`policy:
  file_path: %s
datastore:
  driver: sqlite
  dsn: %s
ledger:
  backend: sqlite
  sqlite:
    path: %s
telemetry:
  logging:
    level: error
`, env.policyPath, dataPath, env.ledgerPath)
	cfgPath := filepath.Join(dir, "warden.yaml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	resetFlags()
	cfgFile = cfgPath
	config.Reset()
	t.Cleanup(func() {
		resetFlags()
		config.Reset()
	})
	return env
}

func seedDataStore(t *testing.T, path string) {
	t.Helper()

	data, err := execution.Open(&config.DataStoreConfig{Driver: "sqlite", DSN: path})
	if err != nil {
		t.Fatalf("Failed to open data store: %v", err)
	}
	defer data.Close()

	for _, stmt := range []string{
		`CREATE TABLE Patient (id INTEGER PRIMARY KEY, mrn TEXT, dob TEXT, gender TEXT, deidentified INTEGER DEFAULT 0)`,
		`CREATE TABLE Lab (id INTEGER PRIMARY KEY, patient_id INTEGER, test TEXT, result TEXT)`,
		`INSERT INTO Patient (id, mrn, dob, gender) VALUES (1, 'A1', '1980-01-01', 'F'), (2, 'A2', '1975-05-05', 'M'), (3, 'A3', '1990-09-09', 'F')`,
	} {
		if _, err := data.DB().Exec(stmt); err != nil {
			t.Fatalf("Failed to seed data store: %v", err)
		}
	}
}

// writePlan writes a plan document into the workspace and returns its path.
func (e *testEnv) writePlan(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("Failed to write plan: %v", err)
	}
	return path
}

func resetFlags() {
	cfgFile = ""
	verbose = false
	output = "text"
	serveFlags.listenAddress = ""
	serveFlags.logLevel = ""
	serveFlags.dryRun = false
	validateFlags.plan = ""
	validateFlags.actor = actorFlags{}
	executeFlags.plan = ""
	executeFlags.dryRun = false
	executeFlags.justification = ""
	executeFlags.actor = actorFlags{}
	auditQueryFlags.filter = filterFlags{}
	auditQueryFlags.actor = actorFlags{}
	auditExportFlags.filter = filterFlags{}
	auditExportFlags.format = "ndjson"
	auditExportFlags.out = ""
	auditExportFlags.progress = false
	policyLintFlags.file = ""
	policyTablesFlags.file = ""
	policyReloadFlags.file = ""
	policyReloadFlags.actor = actorFlags{}
}

// testCommand returns a command whose output is captured in buf.
func testCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}
