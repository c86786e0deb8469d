// Package cacheindex keeps a SQLite-backed ledger of installed registry
// artifacts (qualifier, name, version, os, arch, checksum, install time).
// The resolver looks an artifact up here before fetching its manifest,
// instead of re-walking the cache directory tree; no podhost subcommand
// reads the ledger.
//
// Migrations are plain SQL files read through golang-migrate's iofs source
// driver and applied directly over the database/sql handle: golang-migrate
// ships no pure-Go sqlite database driver compatible with modernc.org/sqlite
// (its own sqlite3 driver is cgo-bound to mattn/go-sqlite3), so this package
// borrows golang-migrate only for migration-file parsing/ordering and runs
// each statement itself.
package cacheindex

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Index is the cache index database handle.
type Index struct {
	db *sql.DB
}

// Artifact is one installed registry artifact row.
type Artifact struct {
	Qualifier   string
	Name        string
	Version     string
	OS          string
	Arch        string
	Checksum    string
	InstallPath string
	InstalledAt int64
}

// Open opens (creating if needed) the SQLite database at path and applies
// any pending migrations.
func Open(ctx context.Context, path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening cache index: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return idx, nil
}

func (idx *Index) migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return err
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}
	defer src.Close()

	var versions []uint
	first, err := src.First()
	if err != nil {
		return fmt.Errorf("no migrations found: %w", err)
	}
	versions = append(versions, first)
	v := first
	for {
		next, err := src.Next(v)
		if err != nil {
			break
		}
		versions = append(versions, next)
		v = next
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	if _, err := idx.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`); err != nil {
		return err
	}

	for _, ver := range versions {
		var applied int
		row := idx.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, ver)
		if err := row.Scan(&applied); err != nil {
			return err
		}
		if applied > 0 {
			continue
		}
		r, _, err := src.ReadUp(ver)
		if err != nil {
			return fmt.Errorf("reading migration %d: %w", ver, err)
		}
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, rerr := r.Read(chunk)
			buf = append(buf, chunk[:n]...)
			if rerr != nil {
				break
			}
		}
		r.Close()
		for _, stmt := range strings.Split(string(buf), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := idx.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("applying migration %d: %w", ver, err)
			}
		}
		if _, err := idx.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, ver); err != nil {
			return err
		}
	}
	return nil
}

// Upsert records a successful artifact install.
func (idx *Index) Upsert(ctx context.Context, a Artifact) error {
	_, err := idx.db.ExecContext(ctx, `
		INSERT INTO artifacts (qualifier, name, version, os, arch, checksum, install_path, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(qualifier, name, version, os, arch) DO UPDATE SET
			checksum = excluded.checksum,
			install_path = excluded.install_path,
			installed_at = excluded.installed_at
	`, a.Qualifier, a.Name, a.Version, a.OS, a.Arch, a.Checksum, a.InstallPath, a.InstalledAt)
	return err
}

// Lookup returns the installed artifact matching qualifier/name/version for
// the current os/arch, if any.
func (idx *Index) Lookup(ctx context.Context, qualifier, name, version, os, arch string) (*Artifact, error) {
	row := idx.db.QueryRowContext(ctx, `
		SELECT qualifier, name, version, os, arch, checksum, install_path, installed_at
		FROM artifacts WHERE qualifier = ? AND name = ? AND version = ? AND os = ? AND arch = ?
	`, qualifier, name, version, os, arch)
	var a Artifact
	if err := row.Scan(&a.Qualifier, &a.Name, &a.Version, &a.OS, &a.Arch, &a.Checksum, &a.InstallPath, &a.InstalledAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// List returns every installed artifact, most recently installed first.
func (idx *Index) List(ctx context.Context) ([]Artifact, error) {
	rows, err := idx.db.QueryContext(ctx, `
		SELECT qualifier, name, version, os, arch, checksum, install_path, installed_at
		FROM artifacts ORDER BY installed_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		var a Artifact
		if err := rows.Scan(&a.Qualifier, &a.Name, &a.Version, &a.OS, &a.Arch, &a.Checksum, &a.InstallPath, &a.InstalledAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Close closes the underlying database handle.
func (idx *Index) Close() error { return idx.db.Close() }
