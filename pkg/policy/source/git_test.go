package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/http"

	"mercator-hq/warden/pkg/config"
)

// commitFile writes a file into the repository worktree and commits it.
func commitFile(t *testing.T, repo *gogit.Repository, dir, name, content string) {
	t.Helper()

	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	worktree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if _, err := worktree.Add(name); err != nil {
		t.Fatalf("Failed to add %s: %v", name, err)
	}
	_, err = worktree.Commit("update "+name, &gogit.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
}

// newOriginRepo creates a repository holding policy.yaml on master.
func newOriginRepo(t *testing.T) (*gogit.Repository, string) {
	t.Helper()

	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("Failed to init repo: %v", err)
	}
	commitFile(t, repo, dir, "policy.yaml", "version: v1\n")
	return repo, dir
}

func gitConfig(origin, clone string) *config.GitPolicyConfig {
	return &config.GitPolicyConfig{
		Repository: origin,
		Branch:     "master",
		Path:       "policy.yaml",
		Auth:       config.GitAuthConfig{Type: "none"},
		Poll:       config.GitPollConfig{Interval: 50 * time.Millisecond, Timeout: 5 * time.Second},
		Clone:      config.GitCloneConfig{LocalPath: clone},
	}
}

// TestNewGitSource tests configuration checks.
func TestNewGitSource(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.GitPolicyConfig
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "empty repository", cfg: &config.GitPolicyConfig{Branch: "main", Path: "p.yaml"}, wantErr: true},
		{name: "empty branch", cfg: &config.GitPolicyConfig{Repository: "r", Path: "p.yaml"}, wantErr: true},
		{name: "empty path", cfg: &config.GitPolicyConfig{Repository: "r", Branch: "main"}, wantErr: true},
		{
			name: "token without value",
			cfg: &config.GitPolicyConfig{
				Repository: "r", Branch: "main", Path: "p.yaml",
				Auth: config.GitAuthConfig{Type: "token"},
			},
			wantErr: true,
		},
		{name: "valid", cfg: &config.GitPolicyConfig{Repository: "r", Branch: "main", Path: "p.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewGitSource(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGitSource() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestNewGitAuth tests the supported auth types.
func TestNewGitAuth(t *testing.T) {
	auth, err := NewGitAuth(&config.GitAuthConfig{Type: "token", Token: "secret"})
	if err != nil {
		t.Fatalf("Failed to create token auth: %v", err)
	}
	basic, ok := auth.(*http.BasicAuth)
	if !ok || basic.Password != "secret" {
		t.Errorf("token auth = %#v", auth)
	}

	if auth, err := NewGitAuth(&config.GitAuthConfig{Type: "none"}); err != nil || auth != nil {
		t.Errorf("none auth = %v, %v", auth, err)
	}

	if _, err := NewGitAuth(&config.GitAuthConfig{Type: "kerberos"}); err == nil {
		t.Error("Expected error for unknown auth type")
	}

	keyPath := filepath.Join(t.TempDir(), "id_rsa")
	if err := os.WriteFile(keyPath, []byte("not a key"), 0644); err != nil {
		t.Fatalf("Failed to write key: %v", err)
	}
	if _, err := NewGitAuth(&config.GitAuthConfig{Type: "ssh", SSHKeyPath: keyPath}); err == nil {
		t.Error("Expected error for world-readable SSH key")
	}
}

// TestGitSource_OpenAndRead tests cloning and reading the policy file.
func TestGitSource_OpenAndRead(t *testing.T) {
	_, origin := newOriginRepo(t)
	clone := filepath.Join(t.TempDir(), "clone")

	src, err := NewGitSource(gitConfig(origin, clone))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}

	if _, err := src.Read(context.Background()); err == nil {
		t.Error("Expected error reading before Open")
	}

	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	data, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if string(data) != "version: v1\n" {
		t.Errorf("Read() = %q", data)
	}
	if len(src.Head()) != 40 {
		t.Errorf("Head() = %q, want a full SHA", src.Head())
	}

	// A second source reuses the existing clone.
	again, err := NewGitSource(gitConfig(origin, clone))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	if err := again.Open(context.Background()); err != nil {
		t.Fatalf("Failed to reopen clone: %v", err)
	}
	if again.Head() != src.Head() {
		t.Errorf("reopened head = %s, want %s", again.Head(), src.Head())
	}
}

// TestGitSource_Pull tests that only changes to the policy path are reported.
func TestGitSource_Pull(t *testing.T) {
	repo, origin := newOriginRepo(t)
	src, err := NewGitSource(gitConfig(origin, filepath.Join(t.TempDir(), "clone")))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}

	changed, err := src.Pull(context.Background())
	if err != nil {
		t.Fatalf("Failed to pull: %v", err)
	}
	if changed {
		t.Error("Pull() reported a change with no new commits")
	}

	commitFile(t, repo, origin, "README.md", "docs")
	changed, err = src.Pull(context.Background())
	if err != nil {
		t.Fatalf("Failed to pull: %v", err)
	}
	if changed {
		t.Error("Pull() reported a policy change for an unrelated file")
	}

	commitFile(t, repo, origin, "policy.yaml", "version: v2\n")
	changed, err = src.Pull(context.Background())
	if err != nil {
		t.Fatalf("Failed to pull: %v", err)
	}
	if !changed {
		t.Error("Pull() missed a policy change")
	}
	data, err := src.Read(context.Background())
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if string(data) != "version: v2\n" {
		t.Errorf("Read() after pull = %q", data)
	}
}

// TestGitSource_Poll tests that polling invokes the callback after a commit.
func TestGitSource_Poll(t *testing.T) {
	repo, origin := newOriginRepo(t)
	src, err := NewGitSource(gitConfig(origin, filepath.Join(t.TempDir(), "clone")))
	if err != nil {
		t.Fatalf("Failed to create source: %v", err)
	}
	if err := src.Open(context.Background()); err != nil {
		t.Fatalf("Failed to open: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 1)
	go src.Poll(ctx, func(ctx context.Context) error {
		data, err := src.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case fired <- string(data):
		default:
		}
		return nil
	})

	commitFile(t, repo, origin, "policy.yaml", "version: v3\n")

	select {
	case got := <-fired:
		if got != "version: v3\n" {
			t.Errorf("callback saw %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for poll callback")
	}
}
