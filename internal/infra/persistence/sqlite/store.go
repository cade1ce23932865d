// Package sqlite provides the SQLite-backed document store.
package sqlite

import (
	"archivecore/internal/infra/persistence/sqlbundle"
	"archivecore/internal/infra/persistence/sqldoc"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

const defaultPath = "archivecore.db"

type dialect struct{}

func (dialect) Name() string               { return "sqlite" }
func (dialect) Rebind(query string) string { return query }
func (dialect) Timestamp(t time.Time) any  { return t.UTC().Format(time.RFC3339Nano) }
func (dialect) InverseQuery() string {
	return `SELECT payload, lock_version FROM documents AS d
WHERE EXISTS (
	SELECT 1 FROM json_each(d.payload, '$.' || ?) AS e
	WHERE json_extract(d.payload, e.fullkey || '.id') = ?
)
ORDER BY d.id`
}

// Store persists records as JSON documents in a single SQLite table.
type Store struct {
	*sqldoc.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and applies the schema.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx := context.Background()
	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := sqldoc.ApplyDDL(ctx, db, sqlbundle.SplitStatements(sqlbundle.SQLite())); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{Store: sqldoc.New(db, dialect{}), db: db, path: path}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
