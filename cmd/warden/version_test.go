package main

import (
	"strings"
	"testing"
)

// TestVersionCommand tests the version output.
func TestVersionCommand(t *testing.T) {
	origVersion, origCommit := Version, GitCommit
	defer func() { Version, GitCommit = origVersion, origCommit }()

	Version = "1.2.3-test"
	GitCommit = "abc123"

	cmd, buf := testCommand()
	versionCmd.Run(cmd, nil)

	out := buf.String()
	for _, want := range []string{"Warden 1.2.3-test", "Git Commit: abc123", "Go Version:", "OS/Arch:"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
}

// TestCommandTree tests that every command is registered under root.
func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"validate"},
		{"execute"},
		{"version"},
		{"audit", "query"},
		{"audit", "export"},
		{"audit", "verify"},
		{"policy", "lint"},
		{"policy", "tables"},
		{"policy", "reload"},
	} {
		cmd, _, err := rootCmd.Find(path)
		if err != nil {
			t.Errorf("Failed to find %v: %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %q", path, cmd.Name())
		}
	}
}
