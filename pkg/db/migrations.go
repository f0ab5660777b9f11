package db

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migration represents a single schema migration.
type Migration struct {
	Version string
	Name    string
	SQL     string
}

// MigrationResult holds the result of a migration run.
type MigrationResult struct {
	Applied []string
	Skipped []string
}

// MigrationStatusEntry represents a single migration in a status report.
type MigrationStatusEntry struct {
	Version   string
	Name      string
	AppliedAt *time.Time // nil for pending
}

// MigrationStatus reports applied and pending migrations.
type MigrationStatus struct {
	Applied []MigrationStatusEntry
	Pending []MigrationStatusEntry
}

// RunMigrations applies all embedded schema migrations that have not yet
// been applied. Migrations run in version order inside a transaction each,
// and a schema_migrations tracking table prevents re-running them.
func RunMigrations(ctx context.Context, pool *pgxpool.Pool) (*MigrationResult, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	result := &MigrationResult{}

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	applied, err := getAppliedMigrations(ctx, pool)
	if err != nil {
		return nil, fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			result.Skipped = append(result.Skipped, m.Version)
			continue
		}
		if err := applyMigration(ctx, pool, m); err != nil {
			return result, fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		result.Applied = append(result.Applied, m.Version)
	}

	return result, nil
}

// Status reports which embedded migrations are applied and which are pending.
func Status(ctx context.Context, pool *pgxpool.Pool) (*MigrationStatus, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}

	if err := ensureMigrationsTable(ctx, pool); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	appliedAt, err := getAppliedTimes(ctx, pool)
	if err != nil {
		return nil, err
	}

	status := &MigrationStatus{}
	for _, m := range migrations {
		entry := MigrationStatusEntry{Version: m.Version, Name: m.Name}
		if at, ok := appliedAt[m.Version]; ok {
			t := at
			entry.AppliedAt = &t
			status.Applied = append(status.Applied, entry)
		} else {
			status.Pending = append(status.Pending, entry)
		}
	}
	return status, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// loadMigrations reads the embedded .sql files sorted by version. Filenames
// use numeric prefixes (001_, 002_) so lexical order is version order.
func loadMigrations() ([]Migration, error) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var migrations []Migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		sql, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, Migration{
			Version: strings.TrimSuffix(name, ".sql"),
			Name:    name,
			SQL:     string(sql),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func getAppliedMigrations(ctx context.Context, pool *pgxpool.Pool) (map[string]bool, error) {
	applied := make(map[string]bool)

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func getAppliedTimes(ctx context.Context, pool *pgxpool.Pool) (map[string]time.Time, error) {
	applied := make(map[string]time.Time)

	rows, err := pool.Query(ctx, "SELECT version, applied_at FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		applied[version] = at
	}
	return applied, rows.Err()
}

// applyMigration runs a single migration and records it, both inside one
// transaction so a half-applied migration is never recorded.
func applyMigration(ctx context.Context, pool *pgxpool.Pool, m Migration) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO schema_migrations (version) VALUES ($1)", m.Version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit(ctx)
}
