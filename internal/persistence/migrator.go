package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migration is one discovered version: paired {version}_{name}.up.sql and
// .down.sql files under the migrations directory.
type migration struct {
	version string
	name    string
	upPath  string
	dnPath  string
}

// Migrator applies the versioned schema files. The ledger table lives in
// public because the strat schema itself is created by the first migration.
type Migrator struct {
	db  *sql.DB
	dir string
	log zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, log zerolog.Logger) *Migrator {
	return &Migrator{db: db, dir: migrationsDir, log: log}
}

// Up applies every discovered migration not yet in the ledger, in version
// order, one transaction each.
func (m *Migrator) Up(ctx context.Context) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	migs, err := m.discover()
	if err != nil {
		return err
	}
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, mig := range migs {
		if applied[mig.version] {
			continue
		}
		if err := m.runFile(ctx, mig.upPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.stratbook_migrations (version, name) VALUES ($1, $2)`,
				mig.version, mig.name)
			return err
		}); err != nil {
			return fmt.Errorf("apply %s: %w", mig.version, err)
		}
		m.log.Info().Str("version", mig.version).Str("name", mig.name).Msg("migration applied")
	}
	return nil
}

// Down reverts the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	if err := m.ensureLedger(ctx); err != nil {
		return err
	}
	migs, err := m.discover()
	if err != nil {
		return err
	}

	var latest string
	err = m.db.QueryRowContext(ctx,
		`SELECT version FROM public.stratbook_migrations ORDER BY version DESC LIMIT 1`,
	).Scan(&latest)
	if err == sql.ErrNoRows {
		m.log.Info().Msg("nothing to revert")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read migration ledger: %w", err)
	}

	for _, mig := range migs {
		if mig.version != latest {
			continue
		}
		if err := m.runFile(ctx, mig.dnPath, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM public.stratbook_migrations WHERE version = $1`, mig.version)
			return err
		}); err != nil {
			return fmt.Errorf("revert %s: %w", mig.version, err)
		}
		m.log.Info().Str("version", mig.version).Str("name", mig.name).Msg("migration reverted")
		return nil
	}
	return fmt.Errorf("no migration files for applied version %s", latest)
}

// runFile executes one SQL file plus a ledger mutation in a single
// transaction.
func (m *Migrator) runFile(ctx context.Context, path string, ledger func(*sql.Tx) error) error {
	stmts, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(stmts)); err != nil {
		return err
	}
	if err := ledger(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// discover walks the migrations directory and pairs up/down files by
// version. Missing down files are tolerated until a revert needs them.
func (m *Migrator) discover() ([]migration, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, base, ok := splitMigrationName(name)
		if !ok {
			continue
		}
		mig := byVersion[version]
		if mig == nil {
			mig = &migration{version: version, name: base}
			byVersion[version] = mig
		}
		if strings.HasSuffix(name, ".up.sql") {
			mig.upPath = filepath.Join(m.dir, name)
		} else if strings.HasSuffix(name, ".down.sql") {
			mig.dnPath = filepath.Join(m.dir, name)
		}
	}

	out := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.upPath == "" {
			return nil, fmt.Errorf("migration %s has no up file", mig.version)
		}
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func (m *Migrator) ensureLedger(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.stratbook_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure migration ledger: %w", err)
	}
	return nil
}

func (m *Migrator) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := m.db.QueryContext(ctx, `SELECT version FROM public.stratbook_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// splitMigrationName breaks "000001_stratbook.up.sql" into version and base
// name ("000001", "stratbook").
func splitMigrationName(filename string) (version, name string, ok bool) {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(filename, ".up.sql"), ".down.sql")
	parts := strings.SplitN(trimmed, "_", 2)
	if len(parts) != 2 || parts[0] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
