package storage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/config"
)

const backendSQLite = "sqlite"

// SQLiteLedger is a durable ledger backed by SQLite.
type SQLiteLedger struct {
	db       *sql.DB
	config   config.SQLiteConfig
	pageSize int

	// appendMu serializes sequence allocation and the insert that uses it,
	// so commit order always equals sequence order.
	appendMu sync.Mutex

	logger *slog.Logger
}

// NewSQLiteLedger opens (creating if needed) the ledger database at
// cfg.Path.
func NewSQLiteLedger(cfg config.SQLiteConfig, pageSize int) (*SQLiteLedger, error) {
	logger := slog.Default().With("component", "audit.storage.sqlite")

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, audit.NewStorageError(backendSQLite, "open", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate&_sync=FULL",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, audit.NewStorageError(backendSQLite, "open", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	if pageSize <= 0 {
		pageSize = config.DefaultLedgerPageSize
	}
	l := &SQLiteLedger{
		db:       db,
		config:   cfg,
		pageSize: pageSize,
		logger:   logger,
	}

	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite ledger initialized",
		"path", cfg.Path,
		"wal_mode", cfg.UsesWAL(),
		"page_size", pageSize,
	)
	return l, nil
}

func (l *SQLiteLedger) initialize() error {
	if l.config.UsesWAL() {
		if _, err := l.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return audit.NewStorageError(backendSQLite, "enable_wal", err)
		}
	}

	if _, err := l.db.Exec(Schema); err != nil {
		return audit.NewStorageError(backendSQLite, "create_schema", err)
	}
	if _, err := l.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return audit.NewStorageError(backendSQLite, "insert_schema_version", err)
	}

	var version int
	if err := l.db.QueryRow(GetSchemaVersion).Scan(&version); err != nil {
		return audit.NewStorageError(backendSQLite, "get_schema_version", err)
	}
	if version != SchemaVersion {
		return audit.NewStorageError(backendSQLite, "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}
	return nil
}

// Append implements audit.Ledger.
func (l *SQLiteLedger) Append(ctx context.Context, r *audit.Record) (int64, error) {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, audit.NewStorageError(backendSQLite, "begin", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next_seq FROM ledger_counter WHERE id = 1`).Scan(&seq); err != nil {
		return 0, audit.NewStorageError(backendSQLite, "allocate_seq", err)
	}

	sealed := *r
	sealed.Seq = seq
	payload, err := sealed.Seal()
	if err != nil {
		return 0, audit.NewStorageError(backendSQLite, "encode", err)
	}

	var status any
	if sealed.Outcome != nil {
		status = string(sealed.Outcome.Status)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_records (seq, id, kind, actor_id, role, verdict, status, recorded_at, payload, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		seq, sealed.ID, string(sealed.Kind), sealed.ActorID, sealed.Role,
		string(sealed.Decision.Verdict), status, sealed.Timestamp.UnixNano(),
		string(payload), sealed.Hash,
	)
	if err != nil {
		return 0, audit.NewStorageError(backendSQLite, "append", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE ledger_counter SET next_seq = ? WHERE id = 1`, seq+1); err != nil {
		return 0, audit.NewStorageError(backendSQLite, "advance_seq", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, audit.NewStorageError(backendSQLite, "commit", err)
	}

	r.Seq = seq
	r.Hash = sealed.Hash
	return seq, nil
}

// Query implements audit.Ledger.
func (l *SQLiteLedger) Query(ctx context.Context, f audit.Filter) iter.Seq2[*audit.Record, error] {
	return func(yield func(*audit.Record, error) bool) {
		if err := f.Validate(0); err != nil {
			yield(nil, err)
			return
		}

		upper, err := l.LastSeq(ctx)
		if err != nil {
			yield(nil, err)
			return
		}

		where, args := buildWhereClause(f)
		after := f.AfterSeq
		remaining := f.Limit

		for {
			page := l.pageSize
			if f.Limit > 0 && remaining < page {
				page = remaining
			}
			if page == 0 {
				return
			}

			records, err := l.page(ctx, where, args, after, upper, page)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range records {
				if !yield(r, nil) {
					return
				}
				after = r.Seq
			}
			remaining -= len(records)
			if len(records) < page {
				return
			}
		}
	}
}

func (l *SQLiteLedger) page(ctx context.Context, where string, args []any, after, upper int64, limit int) ([]*audit.Record, error) {
	query := "SELECT seq, payload, hash FROM audit_records WHERE seq > ? AND seq <= ?"
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY seq ASC LIMIT ?"

	all := append([]any{after, upper}, args...)
	all = append(all, limit)

	rows, err := l.db.QueryContext(ctx, query, all...)
	if err != nil {
		return nil, audit.NewStorageError(backendSQLite, "query", err)
	}
	defer rows.Close()

	var records []*audit.Record
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, audit.NewStorageError(backendSQLite, "scan", err)
		}
		r, err := entry.Decode()
		if err != nil {
			return nil, audit.NewStorageError(backendSQLite, "decode", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.NewStorageError(backendSQLite, "query", err)
	}
	return records, nil
}

// Entries implements audit.Ledger.
func (l *SQLiteLedger) Entries(ctx context.Context, afterSeq int64) iter.Seq2[audit.StoredEntry, error] {
	return func(yield func(audit.StoredEntry, error) bool) {
		after := afterSeq
		for {
			rows, err := l.db.QueryContext(ctx,
				`SELECT seq, payload, hash FROM audit_records WHERE seq > ? ORDER BY seq ASC LIMIT ?`,
				after, l.pageSize)
			if err != nil {
				yield(audit.StoredEntry{}, audit.NewStorageError(backendSQLite, "entries", err))
				return
			}

			var entries []audit.StoredEntry
			for rows.Next() {
				entry, err := scanEntry(rows)
				if err != nil {
					rows.Close()
					yield(audit.StoredEntry{}, audit.NewStorageError(backendSQLite, "scan", err))
					return
				}
				entries = append(entries, entry)
			}
			err = rows.Err()
			rows.Close()
			if err != nil {
				yield(audit.StoredEntry{}, audit.NewStorageError(backendSQLite, "entries", err))
				return
			}

			for _, entry := range entries {
				if !yield(entry, nil) {
					return
				}
				after = entry.Seq
			}
			if len(entries) < l.pageSize {
				return
			}
		}
	}
}

// LastSeq implements audit.Ledger.
func (l *SQLiteLedger) LastSeq(ctx context.Context) (int64, error) {
	var next int64
	if err := l.db.QueryRowContext(ctx, `SELECT next_seq FROM ledger_counter WHERE id = 1`).Scan(&next); err != nil {
		return 0, audit.NewStorageError(backendSQLite, "last_seq", err)
	}
	return next - 1, nil
}

// Ping implements audit.Ledger.
func (l *SQLiteLedger) Ping(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return audit.NewStorageError(backendSQLite, "ping", err)
	}
	return nil
}

// Close implements audit.Ledger.
func (l *SQLiteLedger) Close() error {
	if err := l.db.Close(); err != nil {
		return audit.NewStorageError(backendSQLite, "close", err)
	}
	l.logger.Info("SQLite ledger closed")
	return nil
}

func scanEntry(rows *sql.Rows) (audit.StoredEntry, error) {
	var (
		entry   audit.StoredEntry
		payload string
	)
	if err := rows.Scan(&entry.Seq, &payload, &entry.Hash); err != nil {
		return audit.StoredEntry{}, err
	}
	entry.Payload = []byte(payload)
	return entry, nil
}

// buildWhereClause builds the filter conditions (without "WHERE") and their
// arguments. AfterSeq and Limit are applied by the pager.
func buildWhereClause(f audit.Filter) (string, []any) {
	var (
		conditions []string
		args       []any
	)

	if f.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, f.ActorID)
	}
	if f.Role != "" {
		conditions = append(conditions, "role = ?")
		args = append(args, f.Role)
	}
	if f.Since != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if f.Until != nil {
		conditions = append(conditions, "recorded_at < ?")
		args = append(args, f.Until.UnixNano())
	}
	if f.Verdict != "" {
		conditions = append(conditions, "verdict = ?")
		args = append(args, string(f.Verdict))
	}
	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(f.Kind))
	}

	return strings.Join(conditions, " AND "), args
}
