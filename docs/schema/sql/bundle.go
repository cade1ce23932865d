// Package sqldocs exposes the document store DDL directly from the docs tree.
package sqldocs

import _ "embed"

// SQLite contains the SQLite document store DDL.
//
//go:embed sqlite.sql
var SQLite string

// Postgres contains the Postgres document store DDL.
//
//go:embed postgres.sql
var Postgres string
