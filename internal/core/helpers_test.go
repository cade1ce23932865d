package core

import (
	"context"
	"testing"
	"time"

	"archivecore/internal/changeset"
	"archivecore/internal/events"
	"archivecore/internal/index"
	"archivecore/internal/infra/persistence/memory"
	"archivecore/internal/jobs"
	"archivecore/pkg/domain"
)

type attrs = map[string][]domain.Value

type fixture struct {
	store *memory.Store
	index *index.Memory
	bus   *events.Bus
	jobs  *jobs.Recorder
	p     *Persister
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		index: index.NewMemory(),
		bus:   events.NewBus(events.WithHistory(512), events.WithBufferSize(1)),
		jobs:  jobs.NewRecorder(),
	}
	base := []Option{
		WithIndex(f.index),
		WithEventBus(f.bus),
		WithJobQueue(f.jobs),
		WithCascadeRetry(3, time.Millisecond),
	}
	p, err := NewPersister(f.store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("new persister: %v", err)
	}
	f.p = p
	return f
}

func (f *fixture) create(t *testing.T, typ domain.RecordType, parent domain.ID, values attrs) domain.Record {
	t.Helper()
	cs := changeset.NewMember(domain.NewRecord(typ), parent, changeset.WithTypes(f.p.Types()))
	if !cs.Validate(values) {
		t.Fatalf("invalid %s: %v", typ, cs.Errors())
	}
	rec, err := f.p.Save(context.Background(), cs)
	if err != nil {
		t.Fatalf("save %s: %v", typ, err)
	}
	return rec
}

func (f *fixture) edit(t *testing.T, rec domain.Record, values attrs) domain.Record {
	t.Helper()
	cs := changeset.New(rec, changeset.WithTypes(f.p.Types()))
	if !cs.Validate(values) {
		t.Fatalf("invalid edit of %s: %v", rec.ID, cs.Errors())
	}
	out, err := f.p.Save(context.Background(), cs)
	if err != nil {
		t.Fatalf("save %s: %v", rec.ID, err)
	}
	return out
}

func (f *fixture) reload(t *testing.T, id domain.ID) domain.Record {
	t.Helper()
	rec, err := f.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return rec
}

func (f *fixture) exists(id domain.ID) bool {
	_, err := f.store.FindByID(context.Background(), id)
	return err == nil
}

func (f *fixture) delete(t *testing.T, id domain.ID) error {
	t.Helper()
	return f.p.Delete(context.Background(), changeset.New(f.reload(t, id), changeset.WithTypes(f.p.Types())))
}

func title(s string) attrs { return attrs{domain.AttrTitle: domain.Literals(s)} }

func sameIDs(got, want []domain.ID) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func hasEvent(bus *events.Bus, t domain.EventType, id domain.ID) bool {
	for _, e := range bus.HistoryOf(t) {
		if e.RecordID == id {
			return true
		}
	}
	return false
}

// conflictOnce wraps an adapter and rejects the first save of each listed id
// as if another writer had won the race.
type conflictOnce struct {
	domain.Adapter
	pending map[domain.ID]bool
}

func (c *conflictOnce) Save(ctx context.Context, rec domain.Record) (domain.Record, error) {
	if c.pending[rec.ID] {
		delete(c.pending, rec.ID)
		return domain.Record{}, &domain.PersistenceConflict{ID: rec.ID, Expected: rec.LockToken, Actual: rec.LockToken + 1}
	}
	return c.Adapter.Save(ctx, rec)
}
