package storage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/execution"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/validation"
)

func sqliteConfig(t *testing.T) config.SQLiteConfig {
	t.Helper()

	wal := true
	return config.SQLiteConfig{
		Path:         filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns: 4,
		MaxIdleConns: 2,
		WALMode:      &wal,
		BusyTimeout:  5 * time.Second,
	}
}

type ledgerFactory func(t *testing.T, pageSize int) audit.Ledger

var backends = map[string]ledgerFactory{
	"memory": func(t *testing.T, pageSize int) audit.Ledger {
		l := NewMemoryLedger(pageSize)
		t.Cleanup(func() { l.Close() })
		return l
	},
	"sqlite": func(t *testing.T, pageSize int) audit.Ledger {
		l, err := NewSQLiteLedger(sqliteConfig(t), pageSize)
		if err != nil {
			t.Fatalf("Failed to open SQLite ledger: %v", err)
		}
		t.Cleanup(func() { l.Close() })
		return l
	},
}

func newTestRecord(actorID, role string, kind audit.Kind, verdict policy.Verdict, status execution.Status) *audit.Record {
	p := plan.Plan{Operation: plan.OpRead, Table: "Encounter", Filter: plan.MustParseFilter("id = 1")}
	e := audit.Entry{
		Kind:     kind,
		Actor:    policy.Actor{ID: actorID, Role: role},
		Plan:     &p,
		Decision: validation.Decision{Verdict: verdict, Reason: "test", PolicyVersion: "v1@abc"},
	}
	if status != "" {
		e.Outcome = &execution.Outcome{Status: status}
	}
	return audit.NewRecord(e)
}

func appendRecord(t *testing.T, l audit.Ledger, r *audit.Record) int64 {
	t.Helper()

	seq, err := l.Append(context.Background(), r)
	if err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	return seq
}

// TestLedger_AppendAndQuery tests sequence assignment and ascending queries.
func TestLedger_AppendAndQuery(t *testing.T) {
	for name, newLedger := range backends {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, 0)

			var last int64
			for i := 0; i < 5; i++ {
				r := newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted)
				seq := appendRecord(t, l, r)
				if seq <= last {
					t.Fatalf("seq %d not greater than %d", seq, last)
				}
				if r.Seq != seq || len(r.Hash) != 64 {
					t.Errorf("record not updated: seq=%d hash=%q", r.Seq, r.Hash)
				}
				last = seq
			}

			records, err := audit.Collect(l.Query(context.Background(), audit.Filter{}))
			if err != nil {
				t.Fatalf("Failed to query: %v", err)
			}
			if len(records) != 5 {
				t.Fatalf("got %d records, want 5", len(records))
			}
			for i, r := range records {
				if r.Seq != int64(i+1) {
					t.Errorf("records[%d].Seq = %d", i, r.Seq)
				}
				if r.Plan == nil || r.Plan.Table != "Encounter" {
					t.Errorf("records[%d].Plan = %+v", i, r.Plan)
				}
				payload, err := r.Payload()
				if err != nil {
					t.Fatalf("Failed to encode: %v", err)
				}
				if audit.HashPayload(payload) != r.Hash {
					t.Errorf("records[%d] hash does not match its payload", i)
				}
			}

			lastSeq, err := l.LastSeq(context.Background())
			if err != nil || lastSeq != 5 {
				t.Errorf("LastSeq() = %d, %v", lastSeq, err)
			}
		})
	}
}

// TestLedger_QueryFilters tests each filter field.
func TestLedger_QueryFilters(t *testing.T) {
	for name, newLedger := range backends {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, 2)

			appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictDeny, execution.StatusRejected))
			appendRecord(t, l, newTestRecord("u2", "analyst", audit.KindValidate, policy.VerdictRequireJustification, ""))
			appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted))
			mid := time.Now().UTC()
			time.Sleep(5 * time.Millisecond)
			appendRecord(t, l, newTestRecord("u3", "admin", audit.KindExecute, policy.VerdictAllow, execution.StatusDryRun))
			appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindPolicyReload, policy.VerdictDeny, execution.StatusRejected))

			tests := []struct {
				name    string
				filter  audit.Filter
				wantSeq []int64
			}{
				{"all", audit.Filter{}, []int64{1, 2, 3, 4, 5}},
				{"actor", audit.Filter{ActorID: "u1"}, []int64{1, 3, 5}},
				{"role", audit.Filter{Role: "admin"}, []int64{4}},
				{"verdict", audit.Filter{Verdict: policy.VerdictDeny}, []int64{1, 5}},
				{"status", audit.Filter{Status: execution.StatusDryRun}, []int64{4}},
				{"kind", audit.Filter{Kind: audit.KindValidate}, []int64{2}},
				{"since", audit.Filter{Since: &mid}, []int64{4, 5}},
				{"until", audit.Filter{Until: &mid}, []int64{1, 2, 3}},
				{"after seq", audit.Filter{AfterSeq: 3}, []int64{4, 5}},
				{"limit", audit.Filter{Limit: 3}, []int64{1, 2, 3}},
				{"combined", audit.Filter{ActorID: "u1", Kind: audit.KindExecute, Limit: 1, AfterSeq: 1}, []int64{3}},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					records, err := audit.Collect(l.Query(context.Background(), tt.filter))
					if err != nil {
						t.Fatalf("Failed to query: %v", err)
					}
					got := make([]int64, len(records))
					for i, r := range records {
						got[i] = r.Seq
					}
					if fmt.Sprint(got) != fmt.Sprint(tt.wantSeq) {
						t.Errorf("seqs = %v, want %v", got, tt.wantSeq)
					}
				})
			}
		})
	}
}

// TestLedger_QueryLazyAndRestartable tests paging, early termination and
// re-iteration.
func TestLedger_QueryLazyAndRestartable(t *testing.T) {
	for name, newLedger := range backends {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, 3)
			for i := 0; i < 10; i++ {
				appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted))
			}

			seq := l.Query(context.Background(), audit.Filter{})
			for pass := 0; pass < 2; pass++ {
				records, err := audit.Collect(seq)
				if err != nil {
					t.Fatalf("Failed to query: %v", err)
				}
				if len(records) != 10 {
					t.Errorf("pass %d: got %d records, want 10", pass, len(records))
				}
			}

			count := 0
			for r, err := range seq {
				if err != nil {
					t.Fatalf("Failed to query: %v", err)
				}
				count++
				if r.Seq == 4 {
					break
				}
			}
			if count != 4 {
				t.Errorf("early break after %d records, want 4", count)
			}

			// Records appended mid-iteration are outside the bound taken at
			// the start.
			count = 0
			for _, err := range seq {
				if err != nil {
					t.Fatalf("Failed to query: %v", err)
				}
				if count == 0 {
					appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted))
				}
				count++
			}
			if count != 10 {
				t.Errorf("iteration saw %d records, want 10", count)
			}
		})
	}
}

// TestLedger_InvalidFilter tests that query errors are yielded.
func TestLedger_InvalidFilter(t *testing.T) {
	for name, newLedger := range backends {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, 0)
			_, err := audit.Collect(l.Query(context.Background(), audit.Filter{Limit: -1}))
			if err == nil {
				t.Error("expected error for negative limit")
			}
		})
	}
}

// TestLedger_ConcurrentAppends tests that concurrent appends get unique,
// gap-free sequence ids.
func TestLedger_ConcurrentAppends(t *testing.T) {
	for name, newLedger := range backends {
		t.Run(name, func(t *testing.T) {
			l := newLedger(t, 0)

			const n = 40
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = make(map[int64]bool)
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					r := newTestRecord(fmt.Sprintf("u%d", i), "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted)
					seq, err := l.Append(context.Background(), r)
					if err != nil {
						t.Errorf("Failed to append: %v", err)
						return
					}
					mu.Lock()
					seen[seq] = true
					mu.Unlock()
				}(i)
			}
			wg.Wait()

			if len(seen) != n {
				t.Fatalf("got %d unique seqs, want %d", len(seen), n)
			}
			for i := int64(1); i <= n; i++ {
				if !seen[i] {
					t.Errorf("seq %d missing", i)
				}
			}
		})
	}
}

// TestSQLiteLedger_DurableCounter tests that sequence ids continue after a
// restart.
func TestSQLiteLedger_DurableCounter(t *testing.T) {
	cfg := sqliteConfig(t)

	l, err := NewSQLiteLedger(cfg, 0)
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	for i := 0; i < 3; i++ {
		appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted))
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Failed to close ledger: %v", err)
	}

	l, err = NewSQLiteLedger(cfg, 0)
	if err != nil {
		t.Fatalf("Failed to reopen ledger: %v", err)
	}
	defer l.Close()

	seq := appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted))
	if seq != 4 {
		t.Errorf("seq after restart = %d, want 4", seq)
	}
}

// TestSQLiteLedger_Immutable tests that stored records cannot be changed.
func TestSQLiteLedger_Immutable(t *testing.T) {
	l, err := NewSQLiteLedger(sqliteConfig(t), 0)
	if err != nil {
		t.Fatalf("Failed to open ledger: %v", err)
	}
	defer l.Close()

	appendRecord(t, l, newTestRecord("u1", "clinician", audit.KindExecute, policy.VerdictAllow, execution.StatusExecuted))

	if _, err := l.db.Exec(`UPDATE audit_records SET verdict = 'deny' WHERE seq = 1`); err == nil {
		t.Error("UPDATE on audit_records succeeded")
	}
	if _, err := l.db.Exec(`DELETE FROM audit_records WHERE seq = 1`); err == nil {
		t.Error("DELETE on audit_records succeeded")
	}
}

// TestOpen tests backend selection.
func TestOpen(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	l, err := Open(&config.LedgerConfig{Backend: "memory"})
	if err != nil {
		t.Fatalf("Failed to open memory ledger: %v", err)
	}
	if _, ok := l.(*MemoryLedger); !ok {
		t.Errorf("Open(memory) = %T", l)
	}
	if !strings.Contains(buf.String(), "level=WARN") || !strings.Contains(buf.String(), "not durable") {
		t.Errorf("Open(memory) did not warn about durability: %q", buf.String())
	}

	buf.Reset()
	sl, err := Open(&config.LedgerConfig{Backend: "sqlite", SQLite: sqliteConfig(t), PageSize: 10})
	if err != nil {
		t.Fatalf("Failed to open sqlite ledger: %v", err)
	}
	defer sl.Close()
	if strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("Open(sqlite) warned: %q", buf.String())
	}

	if _, err := Open(&config.LedgerConfig{Backend: "redis"}); err == nil {
		t.Error("expected error for unknown backend")
	}
}
