package postgres

import (
	"archivecore/internal/infra/persistence/persistencetest"
	"archivecore/internal/infra/persistence/postgres/testutil"
	"archivecore/internal/infra/persistence/sqlbundle"
	"archivecore/pkg/domain"
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"
)

func newStubStore(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, conn
}

func TestNewStoreAppliesDDL(t *testing.T) {
	_, conn := newStubStore(t)
	expected := sqlbundle.SplitStatements(sqlbundle.Postgres())
	if len(conn.Execs) != len(expected) {
		t.Fatalf("expected %d DDL statements, got %d: %v", len(expected), len(conn.Execs), conn.Execs)
	}
	for i, stmt := range expected {
		if strings.TrimSpace(conn.Execs[i]) != strings.TrimSpace(stmt) {
			t.Fatalf("statement %d mismatch:\nwant: %s\ngot:  %s", i, stmt, conn.Execs[i])
		}
	}
}

func TestStubStoreConformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) domain.Adapter {
		store, _ := newStubStore(t)
		return store
	})
}

func TestInverseQueryUsesContainment(t *testing.T) {
	q := dialect{}.Rebind(dialect{}.InverseQuery())
	if !strings.Contains(q, "$1::text") || !strings.Contains(q, "$2::text") || !strings.Contains(q, "@>") {
		t.Fatalf("unexpected inverse query %s", q)
	}
}

func TestNewStoreErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, errors.New("boom") })
	if _, err := NewStore("dsn"); err == nil {
		t.Fatalf("expected open error")
	}
	restore()

	db, conn := testutil.NewStubDB()
	conn.FailPing = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	if _, err := NewStore("dsn"); err == nil || !strings.Contains(err.Error(), "ping") {
		t.Fatalf("expected ping error, got %v", err)
	}
	restore()

	db, conn = testutil.NewStubDB()
	conn.FailExec = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	if _, err := NewStore("dsn"); err == nil || !strings.Contains(err.Error(), "ddl") {
		t.Fatalf("expected ddl error, got %v", err)
	}
}

// TestLiveConformance runs against a real server when ARCHIVECORE_TEST_POSTGRES_DSN is set.
func TestLiveConformance(t *testing.T) {
	dsn := os.Getenv("ARCHIVECORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ARCHIVECORE_TEST_POSTGRES_DSN not set")
	}
	persistencetest.Run(t, func(t *testing.T) domain.Adapter {
		store, err := NewStore(dsn)
		if err != nil {
			t.Fatalf("NewStore: %v", err)
		}
		if _, err := store.DB().ExecContext(context.Background(), "TRUNCATE TABLE documents"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return store
	})
}
