// Package sqlite implements the persistent per-folder cache store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/lumenview/lumen/internal/core/domain"
	"go.trai.ch/zerr"
	msqlite "modernc.org/sqlite" // registers the database/sql driver
	sqlite3lib "modernc.org/sqlite/lib"
)

// StoreFilename is the fixed per-folder store name, colocated with the
// images it describes.
const StoreFilename = ".lumen-cache.db"

// dsnParams enables concurrent-read-during-write behavior and a bounded
// lock wait, so contention degrades to the operator's retry policy rather
// than hanging. The modernc driver only honors the _pragma key form.
const dsnParams = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(2000)&_pragma=synchronous(NORMAL)"

// Store owns the SQLite handles for one folder's cache. All writes must be
// funneled through the store operator; Store only provides the query
// surface and connection lifecycle.
type Store struct {
	path   string
	db     *sql.DB
	readDB *sql.DB
	lock   *flock.Flock
}

// ResolveStorePath returns the store file path for dir, matching an
// existing on-disk name case-insensitively before falling back to the
// canonical name.
func ResolveStorePath(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", zerr.Wrap(err, "failed to read store directory")
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.EqualFold(entry.Name(), StoreFilename) {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return filepath.Join(dir, StoreFilename), nil
}

// Open opens (creating if needed) the cache store for dir, takes the
// advisory lock guarding it against concurrent migration, and applies
// pending schema migrations.
func Open(dir string) (*Store, error) {
	path, err := ResolveStorePath(dir)
	if err != nil {
		return nil, err
	}
	return OpenFile(path)
}

// OpenFile opens the store at an explicit file path.
func OpenFile(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, zerr.Wrap(err, "failed to acquire store lock")
	}
	if !locked {
		return nil, zerr.With(zerr.New("store is locked by another process"), "path", path)
	}

	db, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		_ = lock.Unlock()
		return nil, zerr.Wrap(err, "failed to open store")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, zerr.Wrap(err, "failed to ping store")
	}

	if _, _, err := Apply(context.Background(), db); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	// Independent handle for direct reads; WAL guarantees they see a
	// consistent snapshot while the operator writes.
	readDB, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, zerr.Wrap(err, "failed to open read handle")
	}

	return &Store{path: path, db: db, readDB: readDB, lock: lock}, nil
}

// OpenRaw opens the store file under the advisory lock without applying
// migrations. The offline utility uses it to inspect and move the schema
// version explicitly. The returned release func closes the handle and
// drops the lock.
func OpenRaw(path string) (*sql.DB, func() error, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, zerr.Wrap(err, "failed to acquire store lock")
	}
	if !locked {
		return nil, nil, zerr.With(zerr.New("store is locked by another process"), "path", path)
	}

	db, err := sql.Open("sqlite", path+dsnParams)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, zerr.Wrap(err, "failed to open store")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, nil, zerr.Wrap(err, "failed to ping store")
	}

	release := func() error {
		return errors.Join(db.Close(), lock.Unlock())
	}
	return db, release, nil
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// DB returns the writer handle. Only the store operator may use it for
// mutations.
func (s *Store) DB() *sql.DB { return s.db }

// ReadDB returns the independent read handle used by the direct-read scan
// strategy.
func (s *Store) ReadDB() *sql.DB { return s.readDB }

// Close closes both handles and releases the advisory lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.readDB != nil {
		errs = append(errs, s.readDB.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}

// Querier is the query surface shared by *sql.DB, *sql.Conn via wrappers,
// and *sql.Tx, so the same statements serve the operator's transactional
// writes and the direct read path.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const rowColumns = "path, mtime, size, width, height, thumb_w, thumb_h, thumb, thumb_xxh64, created_at"

// Lookup fetches the row for path. A missing row returns (nil, nil).
func Lookup(ctx context.Context, q Querier, path string) (domain.Row, error) {
	row := q.QueryRowContext(ctx, "SELECT "+rowColumns+" FROM entries WHERE path = ?", path)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, zerr.With(zerr.Wrap(err, "failed to look up cache row"), "path", path)
	}
	return r, nil
}

// LookupMany fetches rows for a batch of paths, keyed by path. Paths with
// no row are absent from the result.
func LookupMany(ctx context.Context, q Querier, paths []string) (map[string]domain.Row, error) {
	out := make(map[string]domain.Row, len(paths))
	for _, path := range paths {
		r, err := Lookup(ctx, q, path)
		if err != nil {
			return nil, err
		}
		if r != nil {
			out[path] = r
		}
	}
	return out, nil
}

// UpsertMeta writes a metadata-only row, replacing whatever was there.
// Validation failures replace rows wholesale rather than merging fields.
func UpsertMeta(ctx context.Context, q Querier, path string, stat domain.FileStat, thumbW, thumbH int) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries
			(path, mtime, size, width, height, thumb_w, thumb_h, thumb, thumb_xxh64, created_at)
		 VALUES (?, ?, ?, NULL, NULL, ?, ?, NULL, NULL, ?)`,
		path, stat.MTime, stat.Size, thumbW, thumbH, nowMillis(),
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to upsert meta row"), "path", path)
	}
	return nil
}

// UpsertThumb writes a fully populated row, replacing whatever was there.
func UpsertThumb(ctx context.Context, q Querier, row domain.ThumbRow) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO entries
			(path, mtime, size, width, height, thumb_w, thumb_h, thumb, thumb_xxh64, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.Path, row.MTime, row.Size, row.Width, row.Height,
		row.ThumbW, row.ThumbH, row.Thumbnail, int64(row.Checksum), nowMillis(),
	)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to upsert thumb row"), "path", row.Path)
	}
	return nil
}

// ClearThumb demotes a row to metadata-only. Used to self-heal a stored
// thumbnail whose bytes no longer verify, so the next lookup regenerates
// instead of failing the same way forever.
func ClearThumb(ctx context.Context, q Querier, path string) error {
	_, err := q.ExecContext(ctx,
		"UPDATE entries SET thumb = NULL, thumb_xxh64 = NULL WHERE path = ?", path)
	if err != nil {
		return zerr.With(zerr.Wrap(err, "failed to clear thumbnail"), "path", path)
	}
	return nil
}

// Delete removes the row for path.
func Delete(ctx context.Context, q Querier, path string) error {
	if _, err := q.ExecContext(ctx, "DELETE FROM entries WHERE path = ?", path); err != nil {
		return zerr.With(zerr.Wrap(err, "failed to delete cache row"), "path", path)
	}
	return nil
}

// DeleteMissing garbage-collects rows whose path is not in keep.
func DeleteMissing(ctx context.Context, q Querier, keep []string) (int64, error) {
	rows, err := q.QueryContext(ctx, "SELECT path FROM entries")
	if err != nil {
		return 0, zerr.Wrap(err, "failed to list cache rows")
	}
	defer func() { _ = rows.Close() }()

	keepSet := make(map[string]struct{}, len(keep))
	for _, p := range keep {
		keepSet[p] = struct{}{}
	}
	var stale []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return 0, zerr.Wrap(err, "failed to scan cache row")
		}
		if _, ok := keepSet[p]; !ok {
			stale = append(stale, p)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, zerr.Wrap(err, "failed to iterate cache rows")
	}

	for _, p := range stale {
		if err := Delete(ctx, q, p); err != nil {
			return 0, err
		}
	}
	return int64(len(stale)), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(r rowScanner) (domain.Row, error) {
	var (
		base      domain.RowBase
		width     sql.NullInt64
		height    sql.NullInt64
		thumb     []byte
		checksum  sql.NullInt64
		createdAt int64
	)
	err := r.Scan(&base.Path, &base.MTime, &base.Size, &width, &height,
		&base.ThumbW, &base.ThumbH, &thumb, &checksum, &createdAt)
	if err != nil {
		return nil, err
	}
	base.CreatedAt = time.UnixMilli(createdAt).UTC()

	if thumb == nil {
		return domain.MetaRow{RowBase: base}, nil
	}
	return domain.ThumbRow{
		RowBase:   base,
		Width:     int(width.Int64),
		Height:    int(height.Int64),
		Thumbnail: thumb,
		Checksum:  uint64(checksum.Int64), //nolint:gosec // round-trips the stored bit pattern
	}, nil
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// IsBusy reports whether err is transient lock contention that the
// operator's bounded retry policy should absorb.
func IsBusy(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
		return true
	}
	return false
}
