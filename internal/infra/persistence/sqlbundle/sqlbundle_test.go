package sqlbundle

import (
	"strings"
	"testing"
)

func TestSplitStatementsSQLite(t *testing.T) {
	stmts := SplitStatements(SQLite())
	if len(stmts) != 2 {
		t.Fatalf("expected 2 sqlite statements, got %d", len(stmts))
	}
	for _, stmt := range stmts {
		if strings.HasPrefix(stmt, "--") {
			t.Fatalf("statement starts with comment: %q", stmt)
		}
		if !strings.HasSuffix(stmt, ";") {
			t.Fatalf("statement missing terminator: %q", stmt)
		}
	}
	if !strings.Contains(stmts[0], "lock_version") {
		t.Fatalf("expected documents table first, got %q", stmts[0])
	}
}

func TestPostgresBundleUsesJSONB(t *testing.T) {
	ddl := Postgres()
	if !strings.Contains(ddl, "JSONB") || !strings.Contains(ddl, "GIN") {
		t.Fatalf("expected jsonb payload with gin index")
	}
}

func TestSplitStatementsKeepsUnterminatedTail(t *testing.T) {
	stmts := SplitStatements("-- header\nCREATE TABLE a (x INT);\n\nCREATE TABLE b (y INT)")
	if len(stmts) != 2 || stmts[1] != "CREATE TABLE b (y INT)" {
		t.Fatalf("unexpected statements %q", stmts)
	}
}
