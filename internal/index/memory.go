// Package index provides secondary index implementations: an in-process
// index here and a Redis-backed one in the redis subpackage.
package index

import (
	"archivecore/pkg/domain"
	"context"
	"sort"
	"sync"
)

// Op names an index call.
type Op string

// Index operations.
const (
	OpUpsert      Op = "upsert"
	OpUpsertBatch Op = "upsert_batch"
	OpDelete      Op = "delete"
)

// Call records one call made against a Memory index.
type Call struct {
	Op  Op
	IDs []domain.ID
}

// Memory is an in-process secondary index. It keeps the latest copy of each
// record and a log of the calls it received.
type Memory struct {
	mu    sync.Mutex
	docs  map[domain.ID]domain.Record
	calls []Call
}

var _ domain.Index = (*Memory)(nil)

// NewMemory returns an empty index.
func NewMemory() *Memory {
	return &Memory{docs: make(map[domain.ID]domain.Record)}
}

// Upsert implements domain.Index.
func (m *Memory) Upsert(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[rec.ID] = rec.Clone()
	m.calls = append(m.calls, Call{Op: OpUpsert, IDs: []domain.ID{rec.ID}})
	return nil
}

// UpsertBatch implements domain.Index.
func (m *Memory) UpsertBatch(_ context.Context, recs []domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]domain.ID, 0, len(recs))
	for _, rec := range recs {
		m.docs[rec.ID] = rec.Clone()
		ids = append(ids, rec.ID)
	}
	m.calls = append(m.calls, Call{Op: OpUpsertBatch, IDs: ids})
	return nil
}

// Delete implements domain.Index.
func (m *Memory) Delete(_ context.Context, rec domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, rec.ID)
	m.calls = append(m.calls, Call{Op: OpDelete, IDs: []domain.ID{rec.ID}})
	return nil
}

// Get returns the indexed copy of id.
func (m *Memory) Get(id domain.ID) (domain.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.docs[id]
	return rec.Clone(), ok
}

// IDs lists indexed ids in sorted order.
func (m *Memory) IDs() []domain.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ID, 0, len(m.docs))
	for id := range m.docs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Calls returns a copy of the call log.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	for i, c := range m.calls {
		out[i] = Call{Op: c.Op, IDs: append([]domain.ID(nil), c.IDs...)}
	}
	return out
}

// CallsOf returns logged calls with the given op.
func (m *Memory) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the call log, keeping indexed documents.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
