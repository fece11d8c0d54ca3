// internal/db/testdb.go
package db

import (
	"context"
	"testing"

	"libraledger/internal/config"
	"libraledger/internal/store"
)

// OpenTestClient creates a fresh migrated in-memory SQLite store.
// Property tests that cannot hand over a *testing.T use it directly and close the client themselves.
func OpenTestClient(ctx context.Context, options ...store.Option) (*store.Client, error) {
	db, err := OpenSQLite(ctx, memoryDSN)
	if err != nil {
		return nil, err
	}

	client, err := store.NewClientFromSQLDB(db, store.DialectSQLite, options...)
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := Migrate(ctx, client); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewTestClient creates a fresh in-memory store for one test and closes it on cleanup.
func NewTestClient(t testing.TB, options ...store.Option) *store.Client {
	t.Helper()

	client, err := OpenTestClient(context.Background(), options...)
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return client
}

// TestDatabaseConfig describes the in-memory store for code paths that go through Connect.
func TestDatabaseConfig() config.DatabaseConfig {
	return config.DatabaseConfig{
		Driver:   config.DriverSQLite,
		URL:      memoryDSN,
		MaxConns: 1,
	}
}
