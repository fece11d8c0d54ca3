// internal/store/adapters/interfaces.go
package adapters

import (
	"context"
	"errors"
)

// ErrLastInsertIDUnsupported is returned by drivers that only report generated keys through RETURNING.
var ErrLastInsertIDUnsupported = errors.New("driver does not report last insert id")

// DBAdapter defines the database operations the store client needs from a driver.
type DBAdapter interface {
	Query(ctx context.Context, query string, args ...any) (DBRows, error)
	Exec(ctx context.Context, query string, args ...any) (DBResult, error)
	Close() error
}

// DBRows defines the interface for query result rows.
type DBRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// DBResult defines the interface for execution results.
type DBResult interface {
	RowsAffected() (int64, error)
	LastInsertId() (int64, error)
}
