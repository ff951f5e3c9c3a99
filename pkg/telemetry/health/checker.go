package health

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status values.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckFunc checks one component. It returns nil when healthy.
type CheckFunc func(ctx context.Context) error

// Pinger is anything with a context-aware Ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger to a CheckFunc.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// CheckResult is the result of a single check.
type CheckResult struct {
	Status   string        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// HealthStatus is the aggregated system status.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Ready reports whether every check passed.
func (s HealthStatus) Ready() bool {
	return s.Status == StatusReady || s.Status == StatusOK
}

// ErrCheckTimeout is reported when a check exceeds the timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// Checker manages named health checks.
type Checker struct {
	mu           sync.RWMutex
	checks       map[string]CheckFunc
	checkTimeout time.Duration
}

// New creates a checker. A zero timeout means 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]CheckFunc),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck registers or replaces the check for name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// UnregisterCheck removes the check for name.
func (c *Checker) UnregisterCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// ListChecks returns the registered check names, sorted.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Sorted(maps.Keys(c.checks))
}

// CheckLiveness reports that the process is running.
func (c *Checker) CheckLiveness(ctx context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: time.Now().UTC()}
}

// CheckReadiness runs every check concurrently and aggregates the results.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := maps.Clone(c.checks)
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var mu sync.Mutex

	// Checks report failures in their result, never through the group, so
	// one failing check does not cancel the others.
	var g errgroup.Group
	for name, check := range checks {
		g.Go(func() error {
			result := c.runCheck(ctx, check)
			mu.Lock()
			results[name] = result
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := StatusReady
	for _, r := range results {
		if r.Status != StatusOK {
			status = StatusDegraded
		}
	}

	return HealthStatus{
		Status:    status,
		Checks:    results,
		Timestamp: time.Now().UTC(),
	}
}

func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() {
		errCh <- check(checkCtx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Duration: time.Since(start)}
		}
		return CheckResult{Status: StatusOK, Duration: time.Since(start)}
	case <-checkCtx.Done():
		return CheckResult{Status: StatusUnhealthy, Message: ErrCheckTimeout.Error(), Duration: time.Since(start)}
	}
}
