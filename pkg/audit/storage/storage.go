package storage

import (
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/warden/pkg/audit"
	"mercator-hq/warden/pkg/config"
)

var errClosed = errors.New("ledger is closed")

// Open creates the ledger backend selected by cfg. The memory backend does
// not survive a restart and logs a warning when opened.
func Open(cfg *config.LedgerConfig) (audit.Ledger, error) {
	switch cfg.Backend {
	case backendSQLite:
		return NewSQLiteLedger(cfg.SQLite, cfg.PageSize)
	case backendMemory:
		slog.Default().With("component", "audit.storage").Warn(
			"memory ledger is not durable, audit records and sequence ids are lost on restart",
			"backend", cfg.Backend,
		)
		return NewMemoryLedger(cfg.PageSize), nil
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
}
