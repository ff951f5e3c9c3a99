package storage

import (
	"context"
	"iter"
	"log/slog"
	"sort"
	"sync"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/config"
)

const backendMemory = "memory"

// MemoryLedger is an in-process ledger. Records are kept in their sealed,
// encoded form so that reads never share state with writers.
type MemoryLedger struct {
	mu       sync.RWMutex
	entries  []audit.StoredEntry
	meta     []*audit.Record // decoded copies for filtering, parallel to entries
	next     int64
	pageSize int
	closed   bool
	logger   *slog.Logger
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(pageSize int) *MemoryLedger {
	if pageSize <= 0 {
		pageSize = config.DefaultLedgerPageSize
	}
	return &MemoryLedger{
		next:     1,
		pageSize: pageSize,
		logger:   slog.Default().With("component", "audit.storage.memory"),
	}
}

// Append implements audit.Ledger.
func (l *MemoryLedger) Append(ctx context.Context, r *audit.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, audit.NewStorageError(backendMemory, "append", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, audit.NewStorageError(backendMemory, "append", errClosed)
	}

	sealed := *r
	sealed.Seq = l.next
	payload, err := sealed.Seal()
	if err != nil {
		return 0, audit.NewStorageError(backendMemory, "encode", err)
	}
	entry := audit.StoredEntry{Seq: sealed.Seq, Payload: payload, Hash: sealed.Hash}
	decoded, err := entry.Decode()
	if err != nil {
		return 0, audit.NewStorageError(backendMemory, "encode", err)
	}

	l.entries = append(l.entries, entry)
	l.meta = append(l.meta, decoded)
	l.next++

	r.Seq = sealed.Seq
	r.Hash = sealed.Hash
	return sealed.Seq, nil
}

// Query implements audit.Ledger.
func (l *MemoryLedger) Query(ctx context.Context, f audit.Filter) iter.Seq2[*audit.Record, error] {
	return func(yield func(*audit.Record, error) bool) {
		if err := f.Validate(0); err != nil {
			yield(nil, err)
			return
		}

		l.mu.RLock()
		upper := l.next - 1
		l.mu.RUnlock()

		after := f.AfterSeq
		emitted := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, audit.NewStorageError(backendMemory, "query", err))
				return
			}

			page, more := l.page(f, after, upper)
			for _, entry := range page {
				if f.Limit > 0 && emitted >= f.Limit {
					return
				}
				r, err := entry.Decode()
				if err != nil {
					yield(nil, audit.NewStorageError(backendMemory, "decode", err))
					return
				}
				if !yield(r, nil) {
					return
				}
				emitted++
				after = entry.Seq
			}
			if !more {
				return
			}
		}
	}
}

// page returns up to pageSize matching entries after the given seq, and
// whether more entries may follow.
func (l *MemoryLedger) page(f audit.Filter, after, upper int64) ([]audit.StoredEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq > after })
	var out []audit.StoredEntry
	for i := start; i < len(l.entries) && l.entries[i].Seq <= upper; i++ {
		if !f.Match(l.meta[i]) {
			continue
		}
		out = append(out, l.entries[i])
		if len(out) == l.pageSize {
			return out, true
		}
	}
	return out, false
}

// Entries implements audit.Ledger.
func (l *MemoryLedger) Entries(ctx context.Context, afterSeq int64) iter.Seq2[audit.StoredEntry, error] {
	return func(yield func(audit.StoredEntry, error) bool) {
		l.mu.RLock()
		start := sort.Search(len(l.entries), func(i int) bool { return l.entries[i].Seq > afterSeq })
		snapshot := append([]audit.StoredEntry(nil), l.entries[start:]...)
		l.mu.RUnlock()

		for _, entry := range snapshot {
			if err := ctx.Err(); err != nil {
				yield(audit.StoredEntry{}, err)
				return
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}

// LastSeq implements audit.Ledger.
func (l *MemoryLedger) LastSeq(context.Context) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.next - 1, nil
}

// Ping implements audit.Ledger.
func (l *MemoryLedger) Ping(context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return audit.NewStorageError(backendMemory, "ping", errClosed)
	}
	return nil
}

// Close implements audit.Ledger.
func (l *MemoryLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.logger.Info("memory ledger closed", "records", len(l.entries))
	return nil
}
