// internal/store/dialect.go
package store

import (
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
)

// Dialect names the SQL flavour statements are rendered in.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// ParseDialect validates a dialect name.
func ParseDialect(name string) (Dialect, error) {
	switch d := Dialect(name); d {
	case DialectPostgres, DialectSQLite:
		return d, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
}

func (d Dialect) builder() goqu.DialectWrapper {
	return goqu.Dialect(string(d))
}

// supportsReturning reports whether inserts can hand back generated ids via RETURNING.
// goqu's sqlite3 dialect does not render RETURNING, so sqlite relies on LastInsertId.
func (d Dialect) supportsReturning() bool {
	return d == DialectPostgres
}
