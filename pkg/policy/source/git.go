package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"mercator-hq/warden/pkg/config"
)

// GitSource reads the policy document from a file in a Git repository.
type GitSource struct {
	cfg       *config.GitPolicyConfig
	localPath string
	auth      transport.AuthMethod

	mu   sync.RWMutex
	repo *gogit.Repository
	head string

	logger *slog.Logger
}

// NewGitSource validates the configuration and prepares a source. Call Open
// before Read.
func NewGitSource(cfg *config.GitPolicyConfig) (*GitSource, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Repository == "" {
		return nil, fmt.Errorf("repository URL cannot be empty")
	}
	if cfg.Branch == "" {
		return nil, fmt.Errorf("branch cannot be empty")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("policy path cannot be empty")
	}

	auth, err := NewGitAuth(&cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth: %w", err)
	}

	localPath := cfg.Clone.LocalPath
	if localPath == "" {
		localPath = filepath.Join(os.TempDir(), "warden-policy")
	}

	return &GitSource{
		cfg:       cfg,
		localPath: localPath,
		auth:      auth,
		logger:    slog.Default().With("component", "policy.source.git"),
	}, nil
}

// Name returns the repository URL, branch and path.
func (s *GitSource) Name() string {
	return fmt.Sprintf("%s@%s:%s", s.cfg.Repository, s.cfg.Branch, s.cfg.Path)
}

// Open clones the repository, or opens an existing clone at the local path.
func (s *GitSource) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Clone.CleanOnStart {
		if err := os.RemoveAll(s.localPath); err != nil {
			return fmt.Errorf("failed to clean existing clone: %w", err)
		}
	}

	if _, err := os.Stat(filepath.Join(s.localPath, ".git")); err == nil {
		repo, err := gogit.PlainOpen(s.localPath)
		if err != nil {
			return fmt.Errorf("failed to open existing clone: %w", err)
		}
		s.repo = repo
		return s.refreshHeadLocked()
	}

	if err := os.MkdirAll(s.localPath, 0755); err != nil {
		return fmt.Errorf("failed to create clone directory: %w", err)
	}

	cloneCtx, cancel := s.opContext(ctx)
	defer cancel()

	repo, err := gogit.PlainCloneContext(cloneCtx, s.localPath, false, &gogit.CloneOptions{
		URL:           s.cfg.Repository,
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Depth:         s.cfg.Clone.Depth,
		Auth:          s.auth,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}
	s.repo = repo

	if err := s.refreshHeadLocked(); err != nil {
		return err
	}
	s.logger.Info("policy repository cloned",
		"repository", s.cfg.Repository,
		"branch", s.cfg.Branch,
		"commit", shortSHA(s.head),
	)
	return nil
}

// Read returns the policy document at the configured path in the worktree.
func (s *GitSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.repo == nil {
		return nil, fmt.Errorf("repository not opened")
	}
	path := filepath.Join(s.localPath, s.cfg.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q from repository: %w", s.cfg.Path, err)
	}
	return data, nil
}

// Head returns the commit the worktree is at.
func (s *GitSource) Head() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head
}

// Pull fetches the remote branch. It reports whether the policy file changed.
func (s *GitSource) Pull(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.repo == nil {
		return false, fmt.Errorf("repository not opened")
	}

	worktree, err := s.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}

	from := s.head
	pullCtx, cancel := s.opContext(ctx)
	defer cancel()

	err = worktree.PullContext(pullCtx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(s.cfg.Branch),
		SingleBranch:  true,
		Auth:          s.auth,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return false, fmt.Errorf("failed to pull: %w", err)
	}

	if err := s.refreshHeadLocked(); err != nil {
		return false, err
	}
	if from == s.head {
		return false, nil
	}

	changed, err := s.fileChangedLocked(from, s.head)
	if err != nil {
		return false, err
	}
	s.logger.Info("policy repository updated",
		"from", shortSHA(from),
		"to", shortSHA(s.head),
		"policy_changed", changed,
	)
	return changed, nil
}

// Poll pulls at the configured interval until ctx is cancelled, calling
// onChange whenever a pull changes the policy file.
func (s *GitSource) Poll(ctx context.Context, onChange func(context.Context) error) error {
	interval := s.cfg.Poll.Interval
	if interval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("policy repository poller started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("policy repository poller stopped")
			return nil
		case <-ticker.C:
			changed, err := s.Pull(ctx)
			if err != nil {
				s.logger.Error("policy repository pull failed", "error", err)
				continue
			}
			if !changed {
				continue
			}
			if err := onChange(ctx); err != nil {
				s.logger.Error("policy reload after pull failed",
					"commit", shortSHA(s.Head()),
					"error", err,
				)
			}
		}
	}
}

func (s *GitSource) refreshHeadLocked() error {
	ref, err := s.repo.Head()
	if err != nil {
		return fmt.Errorf("failed to get HEAD: %w", err)
	}
	s.head = ref.Hash().String()
	return nil
}

// fileChangedLocked reports whether the policy path differs between commits.
func (s *GitSource) fileChangedLocked(fromSHA, toSHA string) (bool, error) {
	if fromSHA == "" {
		return true, nil
	}
	fromCommit, err := s.repo.CommitObject(plumbing.NewHash(fromSHA))
	if err != nil {
		// A shallow clone may not have the old commit; assume a change.
		return true, nil
	}
	toCommit, err := s.repo.CommitObject(plumbing.NewHash(toSHA))
	if err != nil {
		return false, fmt.Errorf("failed to get commit %s: %w", shortSHA(toSHA), err)
	}
	fromTree, err := fromCommit.Tree()
	if err != nil {
		return false, fmt.Errorf("failed to get tree: %w", err)
	}
	toTree, err := toCommit.Tree()
	if err != nil {
		return false, fmt.Errorf("failed to get tree: %w", err)
	}
	changes, err := fromTree.Diff(toTree)
	if err != nil {
		return false, fmt.Errorf("failed to diff trees: %w", err)
	}

	want := filepath.ToSlash(filepath.Clean(s.cfg.Path))
	for _, change := range changes {
		if change.From.Name == want || change.To.Name == want {
			return true, nil
		}
	}
	return false, nil
}

func (s *GitSource) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Poll.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Poll.Timeout)
	}
	return context.WithCancel(ctx)
}

// NewGitAuth builds the transport auth for the configured type.
// Supported types: "token", "ssh", "none".
func NewGitAuth(cfg *config.GitAuthConfig) (transport.AuthMethod, error) {
	switch cfg.Type {
	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("token auth requires non-empty token")
		}
		return &http.BasicAuth{Username: "git", Password: cfg.Token}, nil

	case "ssh":
		if cfg.SSHKeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires ssh_key_path")
		}
		info, err := os.Stat(cfg.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to access SSH key file: %w", err)
		}
		if mode := info.Mode().Perm(); mode&0077 != 0 {
			return nil, fmt.Errorf("SSH key file permissions too open (%o), should be 0600", mode)
		}
		auth, err := ssh.NewPublicKeysFromFile("git", cfg.SSHKeyPath, cfg.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load SSH key: %w", err)
		}
		return auth, nil

	case "none", "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown auth type: %s", cfg.Type)
	}
}

func shortSHA(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
