package execution

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"mercator-hq/warden/pkg/config"
)

// DataStore is the governed database.
type DataStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to the data store described by cfg.
func Open(cfg *config.DataStoreConfig) (*DataStore, error) {
	dialect, ok := DialectFor(cfg.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported data store driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open data store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := NewDataStore(db, dialect)
	store.logger.Info("data store opened",
		"driver", cfg.Driver,
		"dialect", dialect.Name(),
	)
	return store, nil
}

// NewDataStore wraps an existing connection pool.
func NewDataStore(db *sql.DB, dialect Dialect) *DataStore {
	return &DataStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "execution.datastore"),
	}
}

// DB returns the underlying pool.
func (s *DataStore) DB() *sql.DB {
	return s.db
}

// Dialect returns the SQL dialect.
func (s *DataStore) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the connection.
func (s *DataStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return newDataStoreError("ping", err)
	}
	return nil
}

// Close closes the pool.
func (s *DataStore) Close() error {
	return s.db.Close()
}
