// internal/db/migrate.go
package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"

	"libraledger/internal/store"
)

//go:embed migrations
var migrationsFS embed.FS

const (
	migrationsTable = "schema_migrations"
	upSuffix        = ".up.sql"
)

type migration struct {
	version int
	name    string
	file    string
}

const createMigrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    INTEGER PRIMARY KEY,
    name       TEXT NOT NULL,
    applied_at TIMESTAMP NOT NULL
)`

// Migrate applies every embedded migration for the client's dialect that has not been applied yet.
// Files are named NNNN_name.up.sql and run in version order.
func Migrate(ctx context.Context, client *store.Client) error {
	if err := client.ExecScript(ctx, createMigrationsTable); err != nil {
		return fmt.Errorf("creating migrations table: %w", err)
	}

	migs, err := loadMigrations(client.Dialect())
	if err != nil {
		return err
	}

	applied, err := appliedVersions(ctx, client)
	if err != nil {
		return err
	}

	for _, m := range migs {
		if applied[m.version] {
			continue
		}

		script, err := migrationsFS.ReadFile(m.file)
		if err != nil {
			return fmt.Errorf("reading migration %d: %w", m.version, err)
		}
		if err := client.ExecScript(ctx, string(script)); err != nil {
			return fmt.Errorf("running migration %d (%s): %w", m.version, m.name, err)
		}

		err = client.InsertRecord(ctx, migrationsTable, goqu.Record{
			"version":    m.version,
			"name":       m.name,
			"applied_at": time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}
	}

	return nil
}

func appliedVersions(ctx context.Context, client *store.Client) (map[int]bool, error) {
	applied := make(map[int]bool)
	err := client.Query(ctx, migrationsTable, nil, func(row store.Scanner) error {
		var version int
		if err := row.Scan(&version); err != nil {
			return err
		}
		applied[version] = true
		return nil
	}, "version")
	if err != nil {
		return nil, fmt.Errorf("reading applied migrations: %w", err)
	}
	return applied, nil
}

func loadMigrations(dialect store.Dialect) ([]migration, error) {
	dir := path.Join("migrations", string(dialect))
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("listing migrations for %s: %w", dialect, err)
	}

	var migs []migration
	for _, entry := range entries {
		fileName := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(fileName, upSuffix) {
			continue
		}

		prefix, name, ok := strings.Cut(strings.TrimSuffix(fileName, upSuffix), "_")
		if !ok {
			return nil, fmt.Errorf("migration %q is not named NNNN_name%s", fileName, upSuffix)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %q has invalid version: %w", fileName, err)
		}

		migs = append(migs, migration{version: version, name: name, file: path.Join(dir, fileName)})
	}

	sort.Slice(migs, func(i, j int) bool { return migs[i].version < migs[j].version })
	return migs, nil
}
