package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"PerpVAMM/internal/observability"
	"PerpVAMM/internal/persistence/migrations"
)

// migrationLockKey is the advisory lock held while migrating, so two
// instances starting together apply each file once.
const migrationLockKey int64 = 0x7065727076616d6d // "perpvamm"

// Migrator applies the numbered {version}_{name}.up.sql / .down.sql files
// of an fs.FS and records them in public.schema_migrations.
type Migrator struct {
	db     *sql.DB
	files  fs.FS
	logger zerolog.Logger
}

// NewMigrator migrates with the schema embedded in the binary.
func NewMigrator(db *sql.DB) *Migrator {
	return NewMigratorFS(db, migrations.FS)
}

func NewMigratorFS(db *sql.DB, files fs.FS) *Migrator {
	return &Migrator{db: db, files: files, logger: observability.NewLogger("migrator")}
}

// Up applies every pending up-migration in version order, each in its own
// transaction together with its schema_migrations row.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		pending, err := m.pending(ctx, conn)
		if err != nil {
			return err
		}
		for _, name := range pending {
			err := m.step(ctx, conn, name, `INSERT INTO public.schema_migrations (version, filename) VALUES ($1, $2)`, version(name), name)
			if err != nil {
				return err
			}
			m.logger.Info().Str("file", name).Msg("applied migration")
		}
		return nil
	})
}

// Down reverts the most recently applied migration. It is a no-op on an
// empty schema.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var v, upName string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&v, &upName)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		downName := strings.TrimSuffix(upName, ".up.sql") + ".down.sql"
		if err := m.step(ctx, conn, downName, `DELETE FROM public.schema_migrations WHERE version = $1`, v); err != nil {
			return err
		}
		m.logger.Info().Str("file", downName).Msg("rolled back migration")
		return nil
	})
}

// Pending lists the up-migrations not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	return m.pending(ctx, conn)
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)

	if err := ensureMigrationTable(ctx, conn); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// step executes one migration file and its bookkeeping statement atomically.
func (m *Migrator) step(ctx context.Context, conn *sql.Conn, name, bookkeeping string, args ...any) error {
	body, err := fs.ReadFile(m.files, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", name, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return fmt.Errorf("exec migration %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func (m *Migrator) pending(ctx context.Context, conn *sql.Conn) ([]string, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied versions: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]struct{})
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ups, err := migrationFiles(m.files, ".up.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return slices.DeleteFunc(ups, func(name string) bool {
		_, ok := applied[version(name)]
		return ok
	}), nil
}

func ensureMigrationTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

// migrationFiles lists the files with suffix in name order, which is
// version order for zero-padded prefixes.
func migrationFiles(files fs.FS, suffix string) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			out = append(out, e.Name())
		}
	}
	slices.Sort(out)
	return out, nil
}

// version is the numeric prefix of a migration file: "000001_state.up.sql"
// gives "000001".
func version(name string) string {
	v, _, _ := strings.Cut(name, "_")
	return v
}
