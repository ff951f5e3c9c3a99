package execution

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"mercator-hq/warden/pkg/config"
	"mercator-hq/warden/pkg/plan"
	"mercator-hq/warden/pkg/policy"
	"mercator-hq/warden/pkg/validation"
)

var (
	analyst = policy.Actor{ID: "a-1", Role: "analyst"}
	allow   = validation.Decision{Verdict: validation.VerdictAllow, Reason: validation.ReasonAllowed}
	justify = validation.Decision{Verdict: validation.VerdictRequireJustification, Reason: "bulk update"}
	deny    = validation.Decision{Verdict: validation.VerdictDeny, Reason: validation.ReasonNoPermission}
)

func testExecutionConfig() *config.ExecutionConfig {
	return &config.ExecutionConfig{
		Timeout:         5 * time.Second,
		ImpactThreshold: 100,
		MaxReadRows:     10,
		ReadRetry: config.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
		},
	}
}

// setupStore opens a SQLite data store with 600 patients, half of them "F".
func setupStore(t *testing.T) *DataStore {
	t.Helper()

	store, err := Open(&config.DataStoreConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "data.db"),
	})
	if err != nil {
		t.Fatalf("Failed to open data store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	db := store.DB()
	if _, err := db.Exec(`CREATE TABLE Patient (
		id INTEGER PRIMARY KEY,
		mrn TEXT,
		dob TEXT,
		gender TEXT,
		deidentified INTEGER DEFAULT 0
	)`); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("Failed to begin: %v", err)
	}
	for i := 1; i <= 600; i++ {
		gender := "M"
		if i%2 == 0 {
			gender = "F"
		}
		if _, err := tx.Exec(`INSERT INTO Patient (id, mrn, dob, gender) VALUES (?, ?, ?, ?)`,
			i, fmt.Sprintf("MRN%04d", i), "1980-01-01", gender); err != nil {
			t.Fatalf("Failed to seed: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Failed to commit seed: %v", err)
	}
	return store
}

func countRows(t *testing.T, db *sql.DB, where string) int64 {
	t.Helper()

	var n int64
	if err := db.QueryRow(`SELECT COUNT(*) FROM Patient WHERE ` + where).Scan(&n); err != nil {
		t.Fatalf("Failed to count rows: %v", err)
	}
	return n
}

// TestEngine_Insert tests that a real insert persists and a dry run does not.
func TestEngine_Insert(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store, testExecutionConfig())
	defer engine.Close()

	p := &plan.Plan{
		Operation: plan.OpInsert,
		Table:     "Patient",
		Values:    map[string]any{"id": int64(1001), "mrn": "NEW1", "gender": "F"},
	}

	outcome, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow, DryRun: true})
	if err != nil {
		t.Fatalf("Failed dry run: %v", err)
	}
	if outcome.Status != StatusDryRun || outcome.RowsAffected != 1 {
		t.Errorf("dry run outcome = %+v", outcome)
	}
	if n := countRows(t, store.DB(), "id = 1001"); n != 0 {
		t.Errorf("dry run persisted %d rows", n)
	}

	outcome, err = engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow})
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if outcome.Status != StatusExecuted || outcome.RowsAffected != 1 {
		t.Errorf("outcome = %+v", outcome)
	}
	if n := countRows(t, store.DB(), "id = 1001"); n != 1 {
		t.Errorf("insert persisted %d rows, want 1", n)
	}
}

// TestEngine_DryRunMatchesRealRun tests that simulation reports the same row
// impact as the real execution.
func TestEngine_DryRunMatchesRealRun(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store, testExecutionConfig())
	defer engine.Close()

	p := &plan.Plan{
		Operation: plan.OpUpdate,
		Table:     "Patient",
		Values:    map[string]any{"deidentified": true},
		Filter:    plan.MustParseFilter("id <= 40"),
	}

	dry, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow, DryRun: true})
	if err != nil {
		t.Fatalf("Failed dry run: %v", err)
	}
	if n := countRows(t, store.DB(), "deidentified = 1"); n != 0 {
		t.Fatalf("dry run changed %d rows", n)
	}

	executed, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow})
	if err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if dry.RowsAffected != executed.RowsAffected || executed.RowsAffected != 40 {
		t.Errorf("dry run rows = %d, real rows = %d, want 40", dry.RowsAffected, executed.RowsAffected)
	}
	if n := countRows(t, store.DB(), "deidentified = 1"); n != 40 {
		t.Errorf("update changed %d rows, want 40", n)
	}
}

// TestEngine_ImpactGuard tests the measured row threshold for destructive
// operations.
func TestEngine_ImpactGuard(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store, testExecutionConfig())
	defer engine.Close()

	del := &plan.Plan{
		Operation:     plan.OpDelete,
		Table:         "Patient",
		Filter:        plan.MustParseFilter("gender = 'F'"),
		EstimatedRows: plan.Int64(5),
	}

	outcome, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: del, Decision: allow})
	var impact *ImpactThresholdExceededError
	if !errors.As(err, &impact) {
		t.Fatalf("Execute() error = %v, want ImpactThresholdExceededError", err)
	}
	if impact.RowsAffected != 300 || impact.Threshold != 100 {
		t.Errorf("impact = %+v", impact)
	}
	if outcome.Status != StatusFailed || outcome.ErrorKind != KindImpactThresholdExceeded {
		t.Errorf("outcome = %+v", outcome)
	}
	if n := countRows(t, store.DB(), "gender = 'F'"); n != 300 {
		t.Errorf("guarded delete removed rows: %d remain", n)
	}

	// A justified decision has already accepted the impact.
	outcome, err = engine.Execute(context.Background(), Request{
		Actor:         analyst,
		Plan:          del,
		Decision:      justify,
		Justification: "approved cleanup",
	})
	if err != nil {
		t.Fatalf("Failed justified delete: %v", err)
	}
	if outcome.Status != StatusExecuted || outcome.RowsAffected != 300 {
		t.Errorf("outcome = %+v", outcome)
	}
	if n := countRows(t, store.DB(), "gender = 'F'"); n != 0 {
		t.Errorf("%d rows remain after justified delete", n)
	}
}

// TestEngine_Read tests that reads return capped rows and count all matches.
func TestEngine_Read(t *testing.T) {
	store := setupStore(t)
	engine := NewEngine(store, testExecutionConfig())
	defer engine.Close()

	p := &plan.Plan{
		Operation: plan.OpRead,
		Table:     "Patient",
		Columns:   []string{"id", "gender"},
		Filter:    plan.MustParseFilter("id <= 25"),
	}

	outcome, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow})
	if err != nil {
		t.Fatalf("Failed to read: %v", err)
	}
	if outcome.RowsAffected != 25 || len(outcome.Rows) != 10 || !outcome.Truncated {
		t.Errorf("outcome rows = %d/%d truncated=%v", len(outcome.Rows), outcome.RowsAffected, outcome.Truncated)
	}
	if got := outcome.Rows[0]["gender"]; got != "M" {
		t.Errorf("first row gender = %v, want M", got)
	}
	if outcome.WithoutRows().Rows != nil {
		t.Error("WithoutRows() kept row data")
	}

	dry, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow, DryRun: true})
	if err != nil {
		t.Fatalf("Failed dry read: %v", err)
	}
	if dry.RowsAffected != 25 || len(dry.Rows) != 0 {
		t.Errorf("dry read = %d rows returned, %d matched", len(dry.Rows), dry.RowsAffected)
	}
}

func newMockEngine(t *testing.T, cfg *config.ExecutionConfig) (*Engine, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewEngine(NewDataStore(db, SQLite{}), cfg), mock
}

// TestEngine_Rejected tests that unauthorized plans never touch the store.
func TestEngine_Rejected(t *testing.T) {
	engine, mock := newMockEngine(t, testExecutionConfig())
	defer engine.Close()

	p := &plan.Plan{Operation: plan.OpDelete, Table: "Encounter", Filter: plan.MustParseFilter("mrn = '123'")}

	tests := []struct {
		name     string
		decision validation.Decision
		just     string
	}{
		{"deny", deny, ""},
		{"deny with justification", deny, "please"},
		{"justification missing", justify, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, err := engine.Execute(context.Background(), Request{
				Actor:         analyst,
				Plan:          p,
				Decision:      tt.decision,
				Justification: tt.just,
			})
			var notAuth *NotAuthorizedError
			if !errors.As(err, &notAuth) {
				t.Fatalf("Execute() error = %v, want NotAuthorizedError", err)
			}
			if outcome.Status != StatusRejected || outcome.ErrorKind != KindNotAuthorized {
				t.Errorf("outcome = %+v", outcome)
			}
		})
	}

	if _, err := engine.Execute(context.Background(), Request{Actor: analyst, Decision: allow}); Classify(err) != KindMalformedPlan {
		t.Errorf("nil plan error = %v, want malformed", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected data store calls: %v", err)
	}
}

// TestEngine_LogsOmitPlanValues tests that execution logs carry the plan
// shape but none of its filter or payload values.
func TestEngine_LogsOmitPlanValues(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	engine := NewEngine(setupStore(t), testExecutionConfig())
	defer engine.Close()
	ctx := context.Background()

	update := &plan.Plan{
		Operation: plan.OpUpdate,
		Table:     "Patient",
		Filter:    plan.MustParseFilter("mrn = 'MRN0002'"),
		Values:    map[string]any{"dob": "1911-11-11"},
	}
	if _, err := engine.Execute(ctx, Request{Actor: analyst, Plan: update, Decision: allow}); err != nil {
		t.Fatalf("Failed to execute: %v", err)
	}
	if _, err := engine.Execute(ctx, Request{Actor: analyst, Plan: update, Decision: deny}); err == nil {
		t.Fatal("expected rejection")
	}

	out := buf.String()
	for _, value := range []string{"MRN0002", "1911-11-11"} {
		if strings.Contains(out, value) {
			t.Errorf("logs contain plan value %q:\n%s", value, out)
		}
	}
	if !strings.Contains(out, "mrn = ?") {
		t.Errorf("logs missing plan shape:\n%s", out)
	}
}

// TestEngine_ReadRetry tests that transient read failures are retried.
func TestEngine_ReadRetry(t *testing.T) {
	engine, mock := newMockEngine(t, testExecutionConfig())
	defer engine.Close()

	query := `SELECT "id" FROM "Lab" WHERE "id" = ?`
	mock.ExpectBegin()
	mock.ExpectQuery(query).WithArgs(int64(1)).WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery(query).WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectCommit()

	p := &plan.Plan{Operation: plan.OpRead, Table: "Lab", Columns: []string{"id"}, Filter: plan.MustParseFilter("id = 1")}
	outcome, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if outcome.Attempts != 2 || outcome.RowsAffected != 1 {
		t.Errorf("outcome = %+v, want 2 attempts and 1 row", outcome)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestEngine_ReadRetryExhausted tests the retry bound.
func TestEngine_ReadRetryExhausted(t *testing.T) {
	cfg := testExecutionConfig()
	cfg.ReadRetry.MaxAttempts = 2
	engine, mock := newMockEngine(t, cfg)
	defer engine.Close()

	query := `SELECT * FROM "Lab"`
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery(query).WillReturnError(&pgconn.PgError{Code: "40P01"})
		mock.ExpectRollback()
	}

	outcome, err := engine.Execute(context.Background(), Request{
		Actor:    analyst,
		Plan:     &plan.Plan{Operation: plan.OpRead, Table: "Lab"},
		Decision: allow,
	})
	var dsErr *DataStoreError
	if !errors.As(err, &dsErr) || !dsErr.Transient {
		t.Fatalf("Execute() error = %v, want transient DataStoreError", err)
	}
	if outcome.Status != StatusFailed || outcome.Attempts != 2 || outcome.ErrorKind != KindDataStore {
		t.Errorf("outcome = %+v", outcome)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestEngine_WriteNotRetried tests that a failed write surfaces after one
// attempt even when the error is transient.
func TestEngine_WriteNotRetried(t *testing.T) {
	engine, mock := newMockEngine(t, testExecutionConfig())
	defer engine.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "Lab" WHERE "id" = ?`).
		WithArgs(int64(9)).
		WillReturnError(&pgconn.PgError{Code: "40001"})
	mock.ExpectRollback()

	outcome, err := engine.Execute(context.Background(), Request{
		Actor:    analyst,
		Plan:     &plan.Plan{Operation: plan.OpDelete, Table: "Lab", Filter: plan.MustParseFilter("id = 9")},
		Decision: allow,
	})
	if err == nil {
		t.Fatal("Execute() should fail")
	}
	if outcome.Status != StatusFailed || outcome.Attempts != 1 {
		t.Errorf("outcome = %+v, want one failed attempt", outcome)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// TestEngine_Timeout tests that a slow statement rolls back with a timeout.
func TestEngine_Timeout(t *testing.T) {
	cfg := testExecutionConfig()
	cfg.Timeout = 30 * time.Millisecond
	engine, mock := newMockEngine(t, cfg)
	defer engine.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "Lab" SET "result" = ? WHERE "id" = ?`).
		WillDelayFor(time.Second).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	outcome, err := engine.Execute(context.Background(), Request{
		Actor: analyst,
		Plan: &plan.Plan{
			Operation: plan.OpUpdate,
			Table:     "Lab",
			Values:    map[string]any{"result": "ok"},
			Filter:    plan.MustParseFilter("id = 2"),
		},
		Decision: allow,
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Execute() error = %v, want ErrTimeout", err)
	}
	if outcome.Status != StatusFailed || outcome.ErrorKind != KindTimeout {
		t.Errorf("outcome = %+v", outcome)
	}
}

// TestEngine_Close tests that Close aborts in-flight work and rejects new
// requests.
func TestEngine_Close(t *testing.T) {
	engine, mock := newMockEngine(t, testExecutionConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "Lab" WHERE "id" = ?`).
		WillDelayFor(5 * time.Second).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()

	p := &plan.Plan{Operation: plan.OpDelete, Table: "Lab", Filter: plan.MustParseFilter("id = 4")}
	done := make(chan error, 1)
	go func() {
		_, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := engine.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("in-flight error = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight execution did not return after Close")
	}

	if _, err := engine.Execute(context.Background(), Request{Actor: analyst, Plan: p, Decision: allow}); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute() after Close error = %v, want ErrClosed", err)
	}
}
