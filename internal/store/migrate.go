package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ApplyMigrations runs every *.up.sql file in dir that is not yet recorded in
// schema_migrations, in lexical order, each in its own transaction.
func ApplyMigrations(ctx context.Context, db *sql.DB, dialect Dialect, dir string) error {
	m := migrator{db: db, dialect: dialect}
	if err := m.ensureTable(ctx); err != nil {
		return err
	}

	pending, err := m.pending(ctx, dir)
	if err != nil {
		return err
	}
	for _, file := range pending {
		if err := m.apply(ctx, file); err != nil {
			return err
		}
	}
	return nil
}

type migrator struct {
	db      *sql.DB
	dialect Dialect
}

// migrationsTableDDL differs only in the timestamp column type.
func (m migrator) migrationsTableDDL() string {
	appliedAt := "TIMESTAMPTZ NOT NULL DEFAULT NOW()"
	if m.dialect == DialectSQLite {
		appliedAt = "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	}
	return `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at ` + appliedAt + `
	)`
}

func (m migrator) ensureTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, m.migrationsTableDDL()); err != nil {
		return fmt.Errorf("%s: ensure schema_migrations: %w", m.dialect, err)
	}
	return nil
}

func (m migrator) pending(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".up.sql") {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)

	out := files[:0]
	for _, file := range files {
		done, err := m.applied(ctx, filepath.Base(file))
		if err != nil {
			return nil, err
		}
		if !done {
			out = append(out, file)
		}
	}
	return out, nil
}

func (m migrator) applied(ctx context.Context, version string) (bool, error) {
	var n int
	err := m.db.QueryRowContext(ctx, m.dialect.Rebind(`SELECT COUNT(*) FROM schema_migrations WHERE version=$1`), version).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("%s: check migration %s: %w", m.dialect, version, err)
	}
	return n > 0, nil
}

func (m migrator) apply(ctx context.Context, file string) error {
	version := filepath.Base(file)
	contents, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", version, err)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin migration %s: %w", m.dialect, version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("%s: execute migration %s: %w", m.dialect, version, err)
	}
	if _, err := tx.ExecContext(ctx, m.dialect.Rebind(`INSERT INTO schema_migrations(version) VALUES($1)`), version); err != nil {
		return fmt.Errorf("%s: record migration %s: %w", m.dialect, version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit migration %s: %w", m.dialect, version, err)
	}
	return nil
}
