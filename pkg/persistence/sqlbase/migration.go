// Package sqlbase holds the schema migrator shared by SQL stores.
package sqlbase

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// migrationLockID is the postgres advisory lock key held while migrating.
const migrationLockID = 7_202_604

var ErrDuplicateVersion = errors.New("duplicate migration version")

// Migration is one forward-only schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Migrator applies migrations in version order and records each one in automata_migrations.
type Migrator struct {
	db         *sql.DB
	logger     *slog.Logger
	migrations []Migration
}

func NewMigrator(db *sql.DB, logger *slog.Logger, migrations []Migration) (*Migrator, error) {
	sorted := slices.SortedFunc(slices.Values(migrations), func(a, b Migration) int {
		return cmp.Compare(a.Version, b.Version)
	})

	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateVersion, sorted[i].Version)
		}
	}

	return &Migrator{db: db, logger: logger.With("module", "migrator"), migrations: sorted}, nil
}

// Latest is the highest known version, 0 without migrations.
func (m *Migrator) Latest() int {
	if len(m.migrations) == 0 {
		return 0
	}

	return m.migrations[len(m.migrations)-1].Version
}

// Pending returns the migrations newer than version.
func Pending(migrations []Migration, version int) []Migration {
	var pending []Migration

	for _, migration := range migrations {
		if migration.Version > version {
			pending = append(pending, migration)
		}
	}

	return pending
}

// Up brings the schema to Latest. Concurrent callers are serialized by an advisory lock.
func (m *Migrator) Up(ctx context.Context) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire migration connection: %w", err)
	}

	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}

	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			m.logger.ErrorContext(ctx, "Failed to release migration lock", "error", err)
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS automata_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create automata_migrations: %w", err)
	}

	var current int
	if err := conn.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM automata_migrations").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	pending := Pending(m.migrations, current)
	if len(pending) == 0 {
		m.logger.DebugContext(ctx, "Schema up to date", "version", current)

		return nil
	}

	for _, migration := range pending {
		if err := m.apply(ctx, conn, migration); err != nil {
			return err
		}
	}

	m.logger.InfoContext(ctx, "Schema migrated", "from", current, "to", m.Latest())

	return nil
}

func (m *Migrator) apply(ctx context.Context, conn *sql.Conn, migration Migration) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: begin: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d (%s): %w", migration.Version, migration.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO automata_migrations (version, name) VALUES ($1, $2)", migration.Version, migration.Name); err != nil {
		_ = tx.Rollback()

		return fmt.Errorf("migration %d: record: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migration %d: commit: %w", migration.Version, err)
	}

	m.logger.InfoContext(ctx, "Applied migration", "version", migration.Version, "name", migration.Name)

	return nil
}
