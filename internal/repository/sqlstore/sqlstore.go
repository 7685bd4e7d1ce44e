// Package sqlstore implements the repository interfaces on a relational
// database. Two backends are supported through database/sql:
//
//   - SQLite via modernc.org/sqlite (pure Go, no CGo). Used for local runs and
//     tests; ":memory:" gives every test its own database.
//   - PostgreSQL via github.com/lib/pq, selected by a postgres:// DSN.
//
// Queries are written once with "?" placeholders and rebound to $1, $2, ...
// for PostgreSQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect identifies the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// DialectFor picks the backend for a DSN: postgres:// and postgresql://
// URLs select PostgreSQL, anything else is treated as a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// DB wraps a sql.DB connection pool and implements both
// repository.UserRepository and repository.TokenRepository.
type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Open connects to dsn, choosing the dialect with DialectFor.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	return New(ctx, DialectFor(dsn), dsn, logger)
}

// New opens a pool for the given dialect and verifies it with a ping.
// It does not migrate; call Migrate for that.
func New(ctx context.Context, dialect Dialect, dsn string, logger *slog.Logger) (*DB, error) {
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// One connection: an in-memory database exists per connection, and
		// SQLite serializes writers anyway.
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging %s database: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
			}
		}
	}

	return &DB{conn: conn, dialect: dialect, logger: logger}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Dialect returns the backend in use.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// rebind rewrites "?" placeholders for the current dialect.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation reports whether err is a unique-constraint failure from
// either backend.
//
// WHY INSPECT DRIVER ERRORS AND NOT THE MESSAGE TEXT?
// Messages differ between drivers and versions. The SQLite extended result
// code and the Postgres SQLSTATE ("23505") are stable contracts. The message
// is only a fallback for a bare SQLITE_CONSTRAINT, which also covers NOT NULL
// and CHECK failures.
//
// WHY DOES IT MATTER?
// Callers turn a true result into apperror.ErrConflict, and the service treats
// that as "someone else won the race", not as a failure. Misreporting a
// different constraint as a conflict would hide a real bug behind a retry.
func isUniqueViolation(err error) bool {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			// Without extended result codes only the message tells them apart.
			return strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
		}
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505" // unique_violation
	}
	return false
}
