// internal/store/errors.go
package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrNilDatabaseConnection is returned when a constructor receives a nil connection.
	ErrNilDatabaseConnection = errors.New("database connection must not be nil")

	// ErrUnknownDialect is returned for dialects the client cannot build SQL for.
	ErrUnknownDialect = errors.New("unknown sql dialect")

	// ErrBuildingQueryFailed is returned when goqu cannot render a statement.
	ErrBuildingQueryFailed = errors.New("building query failed")

	// ErrUniqueViolation is returned when a statement violates a unique constraint or index.
	ErrUniqueViolation = errors.New("unique constraint violated")

	// ErrStoreFailure wraps every other driver error: lost connections, timeouts, syntax errors.
	ErrStoreFailure = errors.New("store failure")

	// ErrNoIdentity is returned when an insert did not report the generated id.
	ErrNoIdentity = errors.New("insert returned no identity")
)

const pgUniqueViolation = "23505"

// classify attaches the matching package sentinel to a driver error.
func classify(err error) error {
	if isUniqueViolation(err) {
		return errors.Join(ErrUniqueViolation, err)
	}
	return errors.Join(ErrStoreFailure, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgUniqueViolation
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		if code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		// primary result code only, when extended codes are off
		return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(liteErr.Error(), "UNIQUE constraint failed")
	}

	return false
}
