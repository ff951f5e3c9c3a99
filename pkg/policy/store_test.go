package policy

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
)

type bytesSource struct {
	data []byte
	err  error
}

func (s *bytesSource) Name() string { return "bytes" }

func (s *bytesSource) Read(ctx context.Context) ([]byte, error) {
	return s.data, s.err
}

// TestStore_CurrentBeforeLoad tests the missing-policy error.
func TestStore_CurrentBeforeLoad(t *testing.T) {
	s := NewStore()

	_, err := s.Current()
	if !errors.Is(err, ErrPolicyMissing) {
		t.Fatalf("Current() error = %v, want ErrPolicyMissing", err)
	}
	var missing *PolicyMissingError
	if !errors.As(err, &missing) {
		t.Error("Expected *PolicyMissingError")
	}
}

// TestStore_Reload tests loading from a source and swapping.
func TestStore_Reload(t *testing.T) {
	data, err := os.ReadFile("testdata/clinical.yaml")
	if err != nil {
		t.Fatalf("Failed to read fixture: %v", err)
	}

	s := NewStore()
	var swaps int
	s.OnSwap(func(prev, next *Policy) {
		swaps++
		if next == nil {
			t.Error("OnSwap called with nil policy")
		}
	})

	p, err := s.Reload(context.Background(), &bytesSource{data: data})
	if err != nil {
		t.Fatalf("Reload() failed: %v", err)
	}

	cur, err := s.Current()
	if err != nil {
		t.Fatalf("Current() failed: %v", err)
	}
	if cur != p {
		t.Error("Current() did not return the reloaded policy")
	}
	if swaps != 1 {
		t.Errorf("swaps = %d, want 1", swaps)
	}
}

// TestStore_FailedReloadKeepsPrevious tests atomicity of replace.
func TestStore_FailedReloadKeepsPrevious(t *testing.T) {
	s := NewStore()
	good := loadFixture(t)
	if err := s.Replace(good); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	bad := &bytesSource{data: []byte("roles: [a, a]\n")}
	_, err := s.Reload(context.Background(), bad)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Reload() error = %v, want *ConfigError", err)
	}

	broken := &bytesSource{err: errors.New("disk on fire")}
	if _, err := s.Reload(context.Background(), broken); err == nil {
		t.Fatal("Expected error from failing source")
	}

	cur, _ := s.Current()
	if cur != good {
		t.Error("Failed reload replaced the active policy")
	}
}

// TestStore_ReplaceRejectsInvalid tests that Replace re-validates.
func TestStore_ReplaceRejectsInvalid(t *testing.T) {
	s := NewStore()
	p := &Policy{Roles: []string{"a"}}

	err := s.Replace(p)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Replace() error = %v, want *ConfigError", err)
	}
	if _, err := s.Current(); !errors.Is(err, ErrPolicyMissing) {
		t.Error("Invalid policy became active")
	}
}

// TestStore_ConcurrentReaders tests readers during swaps.
func TestStore_ConcurrentReaders(t *testing.T) {
	s := NewStore()
	first := loadFixture(t)
	second := loadFixture(t)
	if err := s.Replace(first); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				p, err := s.Current()
				if err != nil {
					t.Errorf("Current() failed: %v", err)
					return
				}
				if p != first && p != second {
					t.Error("Current() returned an unknown snapshot")
					return
				}
			}
		}()
	}

	for i := 0; i < 100; i++ {
		next := first
		if i%2 == 0 {
			next = second
		}
		if err := s.Replace(next); err != nil {
			t.Errorf("Replace() failed: %v", err)
		}
	}
	wg.Wait()
}
