// internal/db/db.go
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // registers the "postgres" database/sql driver
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"libraledger/internal/config"
	"libraledger/internal/store"
)

const memoryDSN = ":memory:"

// sqlitePragmas are applied by the driver to every new connection.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"synchronous(NORMAL)",
}

// OpenPostgresPool opens a pgx pool and verifies it can reach the server.
func OpenPostgresPool(ctx context.Context, url string, maxConns int) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	if maxConns < 1 || maxConns > math.MaxInt32 {
		return nil, fmt.Errorf("max connections must be between 1 and %d, got %d", math.MaxInt32, maxConns)
	}
	poolConfig.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// OpenPostgresSQL opens a database/sql handle on lib/pq.
func OpenPostgresSQL(ctx context.Context, url string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// OpenPostgresSQLX opens an sqlx handle on lib/pq.
func OpenPostgresSQLX(ctx context.Context, url string, maxConns int) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, fmt.Errorf("connecting database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	return db, nil
}

// OpenSQLite opens a SQLite database file, or a private in-memory database for ":memory:".
// An in-memory database lives on a single connection, so the pool is pinned to one.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	params := make([]string, 0, len(sqlitePragmas)+1)
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	if path != memoryDSN {
		params = append(params, "_pragma=journal_mode(WAL)")
	}
	dsn := path + "?" + strings.Join(params, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == memoryDSN {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// Connect opens the configured driver, wraps it in a store client and applies migrations.
// The caller owns the returned client and must Close it on shutdown.
func Connect(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*store.Client, error) {
	options := []store.Option{
		store.WithTimeout(cfg.StatementTimeout),
		store.WithLogger(logger),
	}

	var (
		client *store.Client
		err    error
	)

	switch cfg.Driver {
	case config.DriverPGX:
		pool, openErr := OpenPostgresPool(ctx, cfg.URL, cfg.MaxConns)
		if openErr != nil {
			return nil, openErr
		}
		client, err = store.NewClientFromPGXPool(pool, options...)
		if err != nil {
			pool.Close()
		}
	case config.DriverPQ:
		db, openErr := OpenPostgresSQL(ctx, cfg.URL, cfg.MaxConns)
		if openErr != nil {
			return nil, openErr
		}
		client, err = store.NewClientFromSQLDB(db, store.DialectPostgres, options...)
		if err != nil {
			db.Close()
		}
	case config.DriverSQLX:
		db, openErr := OpenPostgresSQLX(ctx, cfg.URL, cfg.MaxConns)
		if openErr != nil {
			return nil, openErr
		}
		client, err = store.NewClientFromSQLX(db, store.DialectPostgres, options...)
		if err != nil {
			db.Close()
		}
	case config.DriverSQLite:
		db, openErr := OpenSQLite(ctx, cfg.URL)
		if openErr != nil {
			return nil, openErr
		}
		client, err = store.NewClientFromSQLDB(db, store.DialectSQLite, options...)
		if err != nil {
			db.Close()
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("creating store client: %w", err)
	}

	if err := Migrate(ctx, client); err != nil {
		client.Close()
		return nil, err
	}

	logger.Info("store connected", "driver", cfg.Driver, "dialect", string(client.Dialect()))
	return client, nil
}
