package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Source supplies the raw policy document.
type Source interface {
	// Name identifies the source in logs (a path or repository URL).
	Name() string

	// Read returns the current document.
	Read(ctx context.Context) ([]byte, error)
}

// WritableSource is a Source that can persist a replacement document.
type WritableSource interface {
	Source

	// Write replaces the stored document.
	Write(ctx context.Context, data []byte) error
}

// Store holds the active policy. Readers get a consistent snapshot without
// locking; writers swap in a fully validated replacement.
type Store struct {
	current atomic.Pointer[Policy]

	// mu serializes writers so that Reload's read-parse-swap is not
	// interleaved with a concurrent Replace.
	mu sync.Mutex

	onSwap []func(prev, next *Policy)
	logger *slog.Logger
}

// NewStore creates an empty store. Current returns ErrPolicyMissing until the
// first successful Replace.
func NewStore() *Store {
	return &Store{
		logger: slog.Default().With("component", "policy.store"),
	}
}

// OnSwap registers a callback invoked after each successful swap. Callbacks
// must be registered before the store is shared.
func (s *Store) OnSwap(fn func(prev, next *Policy)) {
	s.onSwap = append(s.onSwap, fn)
}

// Current returns the active policy snapshot.
func (s *Store) Current() (*Policy, error) {
	p := s.current.Load()
	if p == nil {
		return nil, ErrPolicyMissing
	}
	return p, nil
}

// Replace validates p and atomically makes it the active policy. On error the
// previous policy stays active.
func (s *Store) Replace(p *Policy) error {
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.current.Swap(p)
	s.logger.Info("policy replaced",
		"revision", p.Revision(),
		"roles", len(p.Roles),
		"safety_rules", len(p.SafetyRules),
	)
	for _, fn := range s.onSwap {
		fn(old, p)
	}
	return nil
}

// Reload reads the document from src, parses it and replaces the active
// policy. It returns the new policy.
func (s *Store) Reload(ctx context.Context, src Source) (*Policy, error) {
	data, err := src.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy from %s: %w", src.Name(), err)
	}

	p, err := Load(data)
	if err != nil {
		s.logger.Error("policy reload rejected",
			"source", src.Name(),
			"error", err,
		)
		return nil, err
	}

	if err := s.Replace(p); err != nil {
		return nil, err
	}
	return p, nil
}
