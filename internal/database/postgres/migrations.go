package postgres

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// appliedMigrations returns the set of already-applied migration versions,
// creating the bookkeeping table on first use.
func (p *Pool) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	versions, err := p.MigrationsApplied(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// pendingMigrations returns sorted SQL migration filenames not yet applied.
func pendingMigrations(applied map[string]bool) ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	var files []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") && !applied[e.Name()] {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Migrate applies all pending migrations, each in its own transaction.
func (p *Pool) Migrate(ctx context.Context) error {
	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	files, err := pendingMigrations(applied)
	if err != nil {
		return err
	}

	for _, file := range files {
		if err := p.applyMigration(ctx, file); err != nil {
			return err
		}
		slog.Info("applied migration", "version", file)
	}
	return nil
}

func (p *Pool) applyMigration(ctx context.Context, file string) error {
	content, err := migrationsFS.ReadFile("migrations/" + file)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction for %s: %w", file, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("execute migration %s: %w", file, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", file); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}

// MigrationsApplied returns the applied migration versions in order.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}
