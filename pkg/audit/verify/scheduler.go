package verify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/warden/pkg/audit"
)

// Scheduler runs ledger verification on a cron schedule.
type Scheduler struct {
	ledger   audit.Ledger
	schedule string
	onReport func(*Report)
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool

	// last is kept outside mu: Stop holds mu while waiting for a run.
	last atomic.Pointer[Report]
}

// NewScheduler creates a scheduler for the given standard cron expression.
// onReport, if non-nil, is called after every run.
func NewScheduler(ledger audit.Ledger, schedule string, onReport func(*Report)) *Scheduler {
	return &Scheduler{
		ledger:   ledger,
		schedule: schedule,
		onReport: onReport,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "audit.verify.scheduler"),
	}
}

// Start schedules verification. An empty schedule is a no-op. The scheduler
// stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("verify schedule not configured, skipping scheduler")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule verification: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("verify scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce performs a single verification and records its report.
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.logger.Info("starting scheduled ledger verification")

	report, err := Verify(ctx, s.ledger)
	if err != nil {
		s.logger.Error("scheduled verification failed", "error", err)
		return
	}

	s.last.Store(report)

	if s.onReport != nil {
		s.onReport(report)
	}
}

// Stop stops the scheduler and waits for a running verification to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("verify scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LastReport returns the most recent report, or nil.
func (s *Scheduler) LastReport() *Report {
	return s.last.Load()
}

// NextRun returns the next scheduled verification time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
