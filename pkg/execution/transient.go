package execution

import (
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	mattn "github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Postgres SQLSTATE codes worth retrying.
var transientPgCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57P03": true, // cannot_connect_now
}

// IsTransient reports whether err is a lock-contention or connection failure
// that may succeed on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var modernErr *sqlite.Error
	if errors.As(err, &modernErr) {
		switch modernErr.Code() & 0xff {
		case sqlitelib.SQLITE_BUSY, sqlitelib.SQLITE_LOCKED:
			return true
		}
		return false
	}

	var mattnErr mattn.Error
	if errors.As(err, &mattnErr) {
		return mattnErr.Code == mattn.ErrBusy || mattnErr.Code == mattn.ErrLocked
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientPgCodes[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}
	return pgconn.SafeToRetry(err)
}
