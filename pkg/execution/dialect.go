package execution

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between supported databases.
type Dialect interface {
	// Name identifies the dialect in logs.
	Name() string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// Quote quotes an identifier.
	Quote(ident string) string
}

// SQLite uses ? placeholders.
type SQLite struct{}

func (SQLite) Name() string           { return "sqlite" }
func (SQLite) Placeholder(int) string { return "?" }
func (SQLite) Quote(ident string) string {
	return quoteIdent(ident)
}

// Postgres uses $n placeholders.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (Postgres) Quote(ident string) string {
	return quoteIdent(ident)
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, bool) {
	switch driver {
	case "sqlite", "sqlite3":
		return SQLite{}, true
	case "pgx", "postgres":
		return Postgres{}, true
	}
	return nil, false
}
