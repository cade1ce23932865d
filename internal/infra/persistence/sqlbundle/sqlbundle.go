// Package sqlbundle exposes the document store DDL bundles for the SQL adapters.
package sqlbundle

import (
	"bufio"
	"strings"

	sqldocs "archivecore/docs/schema/sql"
)

// SQLite returns the SQLite document store DDL.
func SQLite() string {
	return sqldocs.SQLite
}

// Postgres returns the Postgres document store DDL.
func Postgres() string {
	return sqldocs.Postgres
}

// SplitStatements splits a semicolon-terminated DDL script into executable statements.
// Blank lines and "--" comment lines are dropped.
func SplitStatements(ddl string) []string {
	scanner := bufio.NewScanner(strings.NewReader(ddl))
	var stmts []string
	var current strings.Builder

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}
