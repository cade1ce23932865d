// Package sqldoc implements the document store contract over database/sql.
// Each record is one row of the documents table: the JSON payload plus the
// lock_version column that every write compares and swaps.
package sqldoc

import (
	"archivecore/pkg/domain"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var _ domain.Adapter = (*Store)(nil)

// Dialect captures the SQL differences between backends.
type Dialect interface {
	Name() string
	// Rebind rewrites "?" placeholders into the backend's syntax.
	Rebind(query string) string
	// InverseQuery returns a query selecting payload, lock_version of every
	// document whose property array holds {"id": <id>}. Its arguments are the
	// property name and the id, in that order.
	InverseQuery() string
	// Timestamp converts t into the value stored in timestamp columns.
	Timestamp(t time.Time) any
}

// ExecQuerier is the subset of *sql.DB used by the store.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var propertyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// findManyChunk bounds the number of placeholders in one IN list.
const findManyChunk = 500

// Store is a database/sql backed document store.
type Store struct {
	db      ExecQuerier
	dialect Dialect
	nowFn   func() time.Time
}

// New wraps db. The schema must already be applied.
func New(db ExecQuerier, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, nowFn: func() time.Time { return time.Now().UTC() }}
}

// SetNow overrides the clock used for timestamps.
func (s *Store) SetNow(now func() time.Time) {
	if now != nil {
		s.nowFn = now
	}
}

// ApplyDDL executes each statement in order.
func ApplyDDL(ctx context.Context, db ExecQuerier, stmts []string) error {
	for _, stmt := range stmts {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// FindByID implements domain.Adapter.
func (s *Store) FindByID(ctx context.Context, id domain.ID) (domain.Record, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT payload, lock_version FROM documents WHERE id = ?`), string(id))
	var payload []byte
	var version int64
	if err := row.Scan(&payload, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Record{}, &domain.NotFoundError{ID: id}
		}
		return domain.Record{}, fmt.Errorf("%s find %s: %w", s.dialect.Name(), id, err)
	}
	return decode(payload, version)
}

// FindManyByIDs implements domain.Adapter.
func (s *Store) FindManyByIDs(ctx context.Context, ids []domain.ID) ([]domain.Record, error) {
	found := make(map[domain.ID]domain.Record, len(ids))
	for start := 0; start < len(ids); start += findManyChunk {
		end := start + findManyChunk
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = string(id)
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		query := s.dialect.Rebind(`SELECT payload, lock_version FROM documents WHERE id IN (` + placeholders + `)`)
		recs, err := s.query(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			found[rec.ID] = rec
		}
	}
	out := make([]domain.Record, 0, len(found))
	for _, id := range ids {
		if rec, ok := found[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// FindAllOfType implements domain.Adapter.
func (s *Store) FindAllOfType(ctx context.Context, t domain.RecordType) ([]domain.Record, error) {
	return s.query(ctx, s.dialect.Rebind(`SELECT payload, lock_version FROM documents WHERE type = ? ORDER BY id`), string(t))
}

// FindInverseReferences implements domain.Adapter by a containment scan on the payload.
func (s *Store) FindInverseReferences(ctx context.Context, id domain.ID, property string) ([]domain.Record, error) {
	if !propertyPattern.MatchString(property) {
		return nil, fmt.Errorf("invalid property name %q", property)
	}
	return s.query(ctx, s.dialect.Rebind(s.dialect.InverseQuery()), property, string(id))
}

// Save implements domain.Adapter.
func (s *Store) Save(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if rec.ID == "" {
		rec.ID = domain.ID(uuid.NewString())
	}
	now := s.nowFn()
	stored := rec.Clone()
	stored.LockToken = rec.LockToken.Next()
	stored.UpdatedAt = now
	if stored.CreatedAt.IsZero() || !rec.Persisted() {
		stored.CreatedAt = now
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return domain.Record{}, fmt.Errorf("encode %s: %w", rec.ID, err)
	}
	var res sql.Result
	if !rec.Persisted() {
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(
			`INSERT INTO documents (id, type, lock_version, payload, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?) ON CONFLICT (id) DO NOTHING`),
			string(stored.ID), string(stored.Type), int64(stored.LockToken), string(payload),
			s.dialect.Timestamp(stored.CreatedAt), s.dialect.Timestamp(stored.UpdatedAt))
	} else {
		res, err = s.db.ExecContext(ctx, s.dialect.Rebind(
			`UPDATE documents SET type = ?, lock_version = ?, payload = ?, updated_at = ? WHERE id = ? AND lock_version = ?`),
			string(stored.Type), int64(stored.LockToken), string(payload), s.dialect.Timestamp(stored.UpdatedAt),
			string(stored.ID), int64(rec.LockToken))
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("%s save %s: %w", s.dialect.Name(), rec.ID, err)
	}
	if err := s.checkSwapped(ctx, res, rec); err != nil {
		return domain.Record{}, err
	}
	return stored, nil
}

// Delete implements domain.Adapter.
func (s *Store) Delete(ctx context.Context, rec domain.Record) error {
	res, err := s.db.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM documents WHERE id = ? AND lock_version = ?`),
		string(rec.ID), int64(rec.LockToken))
	if err != nil {
		return fmt.Errorf("%s delete %s: %w", s.dialect.Name(), rec.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s delete %s: %w", s.dialect.Name(), rec.ID, err)
	}
	if affected == 1 {
		return nil
	}
	current, exists, err := s.currentVersion(ctx, rec.ID)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.NotFoundError{ID: rec.ID}
	}
	return &domain.PersistenceConflict{ID: rec.ID, Expected: rec.LockToken, Actual: current}
}

func (s *Store) checkSwapped(ctx context.Context, res sql.Result, rec domain.Record) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s save %s: %w", s.dialect.Name(), rec.ID, err)
	}
	if affected == 1 {
		return nil
	}
	current, _, err := s.currentVersion(ctx, rec.ID)
	if err != nil {
		return err
	}
	return &domain.PersistenceConflict{ID: rec.ID, Expected: rec.LockToken, Actual: current}
}

func (s *Store) currentVersion(ctx context.Context, id domain.ID) (domain.LockToken, bool, error) {
	var version int64
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT lock_version FROM documents WHERE id = ?`), string(id)).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s read version %s: %w", s.dialect.Name(), id, err)
	}
	return domain.LockToken(version), true, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s query: %w", s.dialect.Name(), err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Record
	for rows.Next() {
		var payload []byte
		var version int64
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, fmt.Errorf("%s scan: %w", s.dialect.Name(), err)
		}
		rec, err := decode(payload, version)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s rows: %w", s.dialect.Name(), err)
	}
	return out, nil
}

func decode(payload []byte, version int64) (domain.Record, error) {
	var rec domain.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode document: %w", err)
	}
	rec.LockToken = domain.LockToken(version)
	return rec, nil
}

// RebindDollar rewrites "?" placeholders as $1, $2, ... for Postgres.
func RebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
