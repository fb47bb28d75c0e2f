package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lumenview/lumen/internal/core/domain"
	"go.trai.ch/zerr"
)

// Migration is one ordered schema step. Up moves the schema from
// Version-1 to Version; Down reverses it. Each direction runs inside its
// own transaction together with the user_version bump, so a failure never
// leaves a partially applied step behind.
type Migration struct {
	Version int
	Name    string
	Up      []string
	Down    []string
}

// Migrations is the full ordered history of the cache store schema.
var Migrations = []Migration{
	{
		Version: 1,
		Name:    "create entries table",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS entries (
				path TEXT PRIMARY KEY,
				mtime INTEGER NOT NULL,
				size INTEGER NOT NULL,
				width INTEGER,
				height INTEGER,
				thumb_w INTEGER NOT NULL DEFAULT 0,
				thumb_h INTEGER NOT NULL DEFAULT 0,
				thumb BLOB,
				created_at INTEGER NOT NULL
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS entries`,
		},
	},
	{
		Version: 2,
		Name:    "add thumbnail checksum",
		Up: []string{
			`ALTER TABLE entries ADD COLUMN thumb_xxh64 INTEGER`,
		},
		// SQLite cannot drop a column on old versions; recreate the table.
		Down: []string{
			`CREATE TABLE entries_v1 (
				path TEXT PRIMARY KEY,
				mtime INTEGER NOT NULL,
				size INTEGER NOT NULL,
				width INTEGER,
				height INTEGER,
				thumb_w INTEGER NOT NULL DEFAULT 0,
				thumb_h INTEGER NOT NULL DEFAULT 0,
				thumb BLOB,
				created_at INTEGER NOT NULL
			)`,
			`INSERT INTO entries_v1
				SELECT path, mtime, size, width, height, thumb_w, thumb_h, thumb, created_at
				FROM entries`,
			`DROP TABLE entries`,
			`ALTER TABLE entries_v1 RENAME TO entries`,
		},
	},
}

// SchemaVersion reads the persisted schema version from the store header.
func SchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, zerr.Wrap(err, "failed to read schema version")
	}
	return v, nil
}

// Pending returns the migrations not yet applied to db, in order.
func Pending(ctx context.Context, db *sql.DB) ([]Migration, error) {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []Migration
	for _, m := range Migrations {
		if m.Version > current {
			pending = append(pending, m)
		}
	}
	return pending, nil
}

// Apply runs every pending migration in ascending order and returns the
// prior and resulting schema versions. Re-running against an up-to-date
// store is a no-op.
func Apply(ctx context.Context, db *sql.DB) (from, to int, err error) {
	from, err = SchemaVersion(ctx, db)
	if err != nil {
		return 0, 0, err
	}
	to = from

	for _, m := range Migrations {
		if m.Version <= to {
			continue
		}
		if m.Version != to+1 {
			return from, to, zerr.With(zerr.With(zerr.Wrap(domain.ErrSchema, "migration history has a gap"),
				"have", to), "next", m.Version)
		}
		if err := runStep(ctx, db, m.Up, m.Version); err != nil {
			return from, to, zerr.With(zerr.With(zerr.Wrap(err, "migration failed"),
				"version", m.Version), "name", m.Name)
		}
		to = m.Version
	}
	return from, to, nil
}

// Downgrade reverses migrations down to target. It is never run
// automatically; the offline store utility invokes it explicitly.
func Downgrade(ctx context.Context, db *sql.DB, target int) error {
	current, err := SchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if target < 0 || target > current {
		return zerr.With(zerr.With(zerr.New("invalid downgrade target"), "current", current), "target", target)
	}

	for i := len(Migrations) - 1; i >= 0; i-- {
		m := Migrations[i]
		if m.Version > current || m.Version <= target {
			continue
		}
		if err := runStep(ctx, db, m.Down, m.Version-1); err != nil {
			return zerr.With(zerr.With(zerr.Wrap(err, "downgrade failed"),
				"version", m.Version), "name", m.Name)
		}
	}
	return nil
}

func runStep(ctx context.Context, db *sql.DB, stmts []string, resultVersion int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zerr.Wrap(domain.ErrSchema, err.Error())
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			_ = tx.Rollback()
			return zerr.Wrap(domain.ErrSchema, err.Error())
		}
	}

	// PRAGMA does not take bound parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", resultVersion)); err != nil {
		_ = tx.Rollback()
		return zerr.Wrap(domain.ErrSchema, err.Error())
	}

	if err := tx.Commit(); err != nil {
		return zerr.Wrap(domain.ErrSchema, err.Error())
	}
	return nil
}
