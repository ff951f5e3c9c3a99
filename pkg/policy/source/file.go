package source

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource loads the policy document from a file on disk.
type FileSource struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

// NewFileSource creates a file-based policy source.
func NewFileSource(path string) *FileSource {
	return &FileSource{
		path:   path,
		logger: slog.Default().With("component", "policy.source.file"),
	}
}

// Name returns the file path.
func (s *FileSource) Name() string {
	return s.path
}

// Read returns the current file contents.
func (s *FileSource) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %q: %w", s.path, err)
	}
	return data, nil
}

// Write replaces the file contents atomically: the document is written to a
// temporary file in the same directory, synced, and renamed over the target.
func (s *FileSource) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".policy-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write policy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync policy: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close policy: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod policy: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace policy file %q: %w", s.path, err)
	}

	s.logger.Info("policy file written", "path", s.path, "bytes", len(data))
	return nil
}

// Watch blocks until ctx is cancelled, calling onChange after the policy file
// is created, written or replaced. Bursts of events within debounce collapse
// into a single call. The parent directory is watched so that editors which
// replace files by rename are seen.
func (s *FileSource) Watch(ctx context.Context, debounce time.Duration, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	target := filepath.Clean(s.path)
	d := newDebouncer(debounce)
	defer d.stop()

	s.logger.Info("policy file watcher started",
		"path", s.path,
		"debounce_ms", debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("policy file watcher stopped")
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}

			s.logger.Debug("policy file event", "op", event.Op.String())
			d.trigger(func() {
				if err := onChange(ctx); err != nil {
					s.logger.Error("policy reload after file change failed", "error", err)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			s.logger.Error("policy file watcher error", "error", err)
		}
	}
}

// debouncer runs the most recent callback once no trigger has arrived for
// the interval.
type debouncer struct {
	interval time.Duration
	mu       sync.Mutex
	timer    *time.Timer
	stopped  bool
}

func newDebouncer(interval time.Duration) *debouncer {
	return &debouncer{interval: interval}
}

func (d *debouncer) trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
