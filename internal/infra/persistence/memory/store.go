// Package memory provides an in-memory document store used for tests,
// the CLI and ephemeral environments.
package memory

import (
	"archivecore/pkg/domain"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ domain.Adapter = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store keeps records in a map guarded by a mutex. Reads and writes clone so
// callers never share slices with the stored copy.
type Store struct {
	mu      sync.RWMutex
	records map[domain.ID]domain.Record
	nowFn   func() time.Time
}

// NewStore constructs an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[domain.ID]domain.Record),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindByID implements domain.Adapter.
func (s *Store) FindByID(_ context.Context, id domain.ID) (domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return domain.Record{}, &domain.NotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// FindManyByIDs implements domain.Adapter.
func (s *Store) FindManyByIDs(_ context.Context, ids []domain.ID) ([]domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// FindAllOfType implements domain.Adapter.
func (s *Store) FindAllOfType(_ context.Context, t domain.RecordType) ([]domain.Record, error) {
	return s.scan(func(rec domain.Record) bool { return rec.Type == t }), nil
}

// FindInverseReferences implements domain.Adapter with a containment scan.
func (s *Store) FindInverseReferences(_ context.Context, id domain.ID, property string) ([]domain.Record, error) {
	return s.scan(func(rec domain.Record) bool { return rec.References(property, id) }), nil
}

// Save implements domain.Adapter.
func (s *Store) Save(_ context.Context, rec domain.Record) (domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = domain.ID(uuid.NewString())
	}
	existing, ok := s.records[rec.ID]
	var current domain.LockToken
	if ok {
		current = existing.LockToken
	}
	if current != rec.LockToken {
		return domain.Record{}, &domain.PersistenceConflict{ID: rec.ID, Expected: rec.LockToken, Actual: current}
	}
	now := s.nowFn()
	stored := rec.Clone()
	stored.LockToken = current.Next()
	stored.UpdatedAt = now
	if ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.records[stored.ID] = stored
	return stored.Clone(), nil
}

// Delete implements domain.Adapter.
func (s *Store) Delete(_ context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.records[rec.ID]
	if !ok {
		return &domain.NotFoundError{ID: rec.ID}
	}
	if existing.LockToken != rec.LockToken {
		return &domain.PersistenceConflict{ID: rec.ID, Expected: rec.LockToken, Actual: existing.LockToken}
	}
	delete(s.records, rec.ID)
	return nil
}

// ExportState clones every stored record, ordered by id.
func (s *Store) ExportState() []domain.Record {
	return s.scan(func(domain.Record) bool { return true })
}

// ImportState replaces the store contents with records, keeping their tokens.
func (s *Store) ImportState(records []domain.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[domain.ID]domain.Record, len(records))
	for _, rec := range records {
		s.records[rec.ID] = rec.Clone()
	}
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) scan(match func(domain.Record) bool) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Record
	for _, rec := range s.records {
		if match(rec) {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
