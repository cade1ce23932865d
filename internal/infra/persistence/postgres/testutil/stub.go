// Package testutil provides a stub database that understands the document
// store's statements, for postgres store tests without a server.
package testutil

import (
	"archivecore/pkg/domain"
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Doc is one row of the stub documents table.
type Doc struct {
	ID          string
	Type        string
	LockVersion int64
	Payload     string
}

// StubConn records statements and keeps the documents table in memory.
type StubConn struct {
	mu       sync.Mutex
	Execs    []string
	Docs     map[string]Doc
	FailExec bool
	FailPing bool
	RowsErr  error
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Docs: make(map[string]Doc)}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) { return nil, fmt.Errorf("transactions not supported") }

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO DOCUMENTS"):
		id := argString(args, 0)
		if _, exists := c.Docs[id]; exists {
			return driver.RowsAffected(0), nil
		}
		c.Docs[id] = Doc{ID: id, Type: argString(args, 1), LockVersion: argInt(args, 2), Payload: argString(args, 3)}
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "UPDATE DOCUMENTS"):
		id := argString(args, 4)
		doc, ok := c.Docs[id]
		if !ok || doc.LockVersion != argInt(args, 5) {
			return driver.RowsAffected(0), nil
		}
		c.Docs[id] = Doc{ID: id, Type: argString(args, 0), LockVersion: argInt(args, 1), Payload: argString(args, 2)}
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM DOCUMENTS"):
		id := argString(args, 0)
		doc, ok := c.Docs[id]
		if !ok || doc.LockVersion != argInt(args, 1) {
			return driver.RowsAffected(0), nil
		}
		delete(c.Docs, id)
		return driver.RowsAffected(1), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var matched []Doc
	switch {
	case strings.Contains(query, "@>"):
		property, id := argString(args, 0), argString(args, 1)
		for _, doc := range c.sorted() {
			var rec domain.Record
			if err := json.Unmarshal([]byte(doc.Payload), &rec); err != nil {
				return nil, err
			}
			if rec.References(property, domain.ID(id)) {
				matched = append(matched, doc)
			}
		}
	case strings.Contains(query, "WHERE id IN"):
		want := make(map[string]bool, len(args))
		for i := range args {
			want[argString(args, i)] = true
		}
		for _, doc := range c.sorted() {
			if want[doc.ID] {
				matched = append(matched, doc)
			}
		}
	case strings.Contains(query, "WHERE type ="):
		for _, doc := range c.sorted() {
			if doc.Type == argString(args, 0) {
				matched = append(matched, doc)
			}
		}
	case strings.Contains(query, "WHERE id ="):
		if doc, ok := c.Docs[argString(args, 0)]; ok {
			matched = append(matched, doc)
		}
	default:
		return nil, fmt.Errorf("unsupported query: %s", query)
	}
	versionOnly := strings.HasPrefix(strings.TrimSpace(query), "SELECT lock_version")
	rows := &stubRows{err: c.RowsErr}
	if versionOnly {
		rows.cols = []string{"lock_version"}
	} else {
		rows.cols = []string{"payload", "lock_version"}
	}
	for _, doc := range matched {
		if versionOnly {
			rows.rows = append(rows.rows, []driver.Value{doc.LockVersion})
			continue
		}
		rows.rows = append(rows.rows, []driver.Value{[]byte(doc.Payload), doc.LockVersion})
	}
	return rows, nil
}

func (c *StubConn) sorted() []Doc {
	out := make([]Doc, 0, len(c.Docs))
	for _, doc := range c.Docs {
		out = append(out, doc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func argString(args []driver.NamedValue, i int) string {
	if i >= len(args) {
		return ""
	}
	switch v := args[i].Value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func argInt(args []driver.NamedValue, i int) int64 {
	if i >= len(args) {
		return 0
	}
	if v, ok := args[i].Value.(int64); ok {
		return v
	}
	return 0
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
