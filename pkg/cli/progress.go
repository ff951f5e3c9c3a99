package cli

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Progress prints a single updating status line for long-running commands
// such as ledger exports. A nil *Progress is a no-op.
type Progress struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	total   int64
	current int64
	started time.Time
	last    time.Time
	every   time.Duration
}

// NewProgress creates a reporter writing to w. total may be zero when the
// amount of work is unknown.
func NewProgress(w io.Writer, label string, total int64) *Progress {
	now := time.Now()
	return &Progress{
		w:       w,
		label:   label,
		total:   total,
		started: now,
		every:   200 * time.Millisecond,
	}
}

// Add records n more items and redraws at most every 200ms.
func (p *Progress) Add(n int64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current += n
	if now := time.Now(); now.Sub(p.last) >= p.every {
		p.last = now
		p.render()
	}
}

// Done prints the final line.
func (p *Progress) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintf(p.w, " (%s)\n", time.Since(p.started).Round(time.Millisecond))
}

// Current returns the number of items recorded.
func (p *Progress) Current() int64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

func (p *Progress) render() {
	if p.total > 0 {
		pct := float64(p.current) / float64(p.total) * 100
		if pct > 100 {
			pct = 100
		}
		fmt.Fprintf(p.w, "\r%s: %d/%d (%.0f%%)", p.label, p.current, p.total, pct)
		return
	}
	fmt.Fprintf(p.w, "\r%s: %d", p.label, p.current)
}
