package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"
)

// ErrNoDownMigration is returned by MigrateDown when the latest applied
// migration has no down file.
var ErrNoDownMigration = errors.New("migration has no down SQL")

// Migration is one versioned schema change. Files are named
// YYYYMMDD_HHMMSS_name.up.sql with an optional matching .down.sql.
type Migration struct {
	Version string // YYYYMMDD_HHMMSS
	Name    string
	UpSQL   string
	DownSQL string
}

// MigrationRecord is a row of schema_migrations.
type MigrationRecord struct {
	Version   string
	AppliedAt time.Time
}

// migrationFile is a parsed migration filename.
type migrationFile struct {
	version string
	name    string
	up      bool
}

// parseMigrationFilename splits "20261018_090000_brew_stats.up.sql".
func parseMigrationFilename(filename string) (migrationFile, bool) {
	base, ok := strings.CutSuffix(filename, ".sql")
	if !ok {
		return migrationFile{}, false
	}
	var f migrationFile
	if rest, isUp := strings.CutSuffix(base, ".up"); isUp {
		base, f.up = rest, true
	} else if rest, isDown := strings.CutSuffix(base, ".down"); isDown {
		base = rest
	} else {
		return migrationFile{}, false
	}

	date, rest, ok := strings.Cut(base, "_")
	if !ok || date == "" {
		return migrationFile{}, false
	}
	clock, name, _ := strings.Cut(rest, "_")
	if clock == "" {
		return migrationFile{}, false
	}
	f.version = date + "_" + clock
	f.name = name
	if f.name == "" {
		f.name = f.version
	}
	return f, true
}

// LoadMigrations reads the migration files at the root of fsys, oldest
// first. Other files are ignored and a nil fsys yields nothing.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	if fsys == nil {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migrations dir: %w", err)
	}

	byVersion := make(map[string]*Migration)
	downs := make(map[string]string)
	for _, entry := range entries {
		f, ok := parseMigrationFilename(entry.Name())
		if entry.IsDir() || !ok {
			continue
		}
		data, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}
		if !f.up {
			downs[f.version] = string(data)
			continue
		}
		byVersion[f.version] = &Migration{Version: f.version, Name: f.name, UpSQL: string(data)}
	}

	migrations := make([]Migration, 0, len(byVersion))
	for version, m := range byVersion {
		m.DownSQL = downs[version]
		migrations = append(migrations, *m)
	}
	slices.SortFunc(migrations, func(a, b Migration) int { return strings.Compare(a.Version, b.Version) })
	return migrations, nil
}

// Migrate applies every pending migration, each in its own transaction.
// A failure leaves earlier migrations committed, so a rerun resumes at the
// failed one.
func (db *DB) Migrate(ctx context.Context, fsys fs.FS) error {
	_, pending, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil {
		return err
	}
	for _, m := range pending {
		err := db.inTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.UpSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
				m.Version, time.Now().UTC().Format(time.RFC3339))
			return err
		})
		if err != nil {
			return fmt.Errorf("applying migration %s (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

// MigrateDown reverts the latest applied migration and returns it. It
// returns nil when nothing is applied.
func (db *DB) MigrateDown(ctx context.Context, fsys fs.FS) (*Migration, error) {
	applied, _, err := db.GetMigrationStatus(ctx, fsys)
	if err != nil || len(applied) == 0 {
		return nil, err
	}
	latest := applied[len(applied)-1].Version

	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(all, func(m Migration) bool { return m.Version == latest })
	if i < 0 {
		return nil, fmt.Errorf("migration %s is applied but missing from the migration files", latest)
	}
	m := all[i]
	if m.DownSQL == "" {
		return nil, fmt.Errorf("%s: %w", m.Version, ErrNoDownMigration)
	}

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, m.DownSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("reverting migration %s (%s): %w", m.Version, m.Name, err)
	}
	return &m, nil
}

// GetMigrationStatus returns the applied migrations and the ones still
// pending, both oldest first.
func (db *DB) GetMigrationStatus(ctx context.Context, fsys fs.FS) ([]MigrationRecord, []Migration, error) {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`,
	); err != nil {
		return nil, nil, fmt.Errorf("creating migrations table: %w", err)
	}

	applied, err := db.appliedMigrations(ctx)
	if err != nil {
		return nil, nil, err
	}
	all, err := LoadMigrations(fsys)
	if err != nil {
		return nil, nil, err
	}

	var pending []Migration
	for _, m := range all {
		if !slices.ContainsFunc(applied, func(r MigrationRecord) bool { return r.Version == m.Version }) {
			pending = append(pending, m)
		}
	}
	return applied, pending, nil
}

func (db *DB) appliedMigrations(ctx context.Context) ([]MigrationRecord, error) {
	rows, err := db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("querying schema_migrations: %w", err)
	}
	defer rows.Close()

	var records []MigrationRecord
	for rows.Next() {
		var (
			r       MigrationRecord
			applied string
		)
		if err := rows.Scan(&r.Version, &applied); err != nil {
			return nil, fmt.Errorf("scanning schema_migrations: %w", err)
		}
		r.AppliedAt, _ = time.Parse(time.RFC3339, applied) //nolint:errcheck // written by Migrate
		records = append(records, r)
	}
	return records, rows.Err()
}
