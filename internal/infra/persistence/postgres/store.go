// Package postgres provides the Postgres-backed document store. Payloads are
// JSONB so inverse references resolve with a containment query.
package postgres

import (
	"archivecore/internal/infra/persistence/sqlbundle"
	"archivecore/internal/infra/persistence/sqldoc"
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/archivecore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

type dialect struct{}

func (dialect) Name() string               { return "postgres" }
func (dialect) Rebind(query string) string { return sqldoc.RebindDollar(query) }
func (dialect) Timestamp(t time.Time) any  { return t.UTC() }
func (dialect) InverseQuery() string {
	return `SELECT payload, lock_version FROM documents WHERE payload -> ?::text @> jsonb_build_array(jsonb_build_object('id', ?::text)) ORDER BY id`
}

// Store persists records as JSONB documents.
type Store struct {
	*sqldoc.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using dsn (falls back to defaultDSN)
// and applies the document DDL.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := sqldoc.ApplyDDL(ctx, db, sqlbundle.SplitStatements(sqlbundle.Postgres())); err != nil {
		return nil, err
	}
	return &Store{Store: sqldoc.New(db, dialect{}), db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
