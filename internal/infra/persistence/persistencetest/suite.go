// Package persistencetest holds the conformance suite every document store
// adapter runs in its own tests.
package persistencetest

import (
	"archivecore/pkg/domain"
	"context"
	"errors"
	"testing"
)

// Factory returns a fresh, empty adapter for one subtest.
type Factory func(t *testing.T) domain.Adapter

// Run executes the conformance suite against adapters produced by newAdapter.
func Run(t *testing.T, newAdapter Factory) {
	t.Helper()
	cases := []struct {
		name string
		fn   func(*testing.T, domain.Adapter)
	}{
		{"SaveAssignsIdentity", testSaveAssignsIdentity},
		{"OptimisticLock", testOptimisticLock},
		{"CreateWithExistingID", testCreateWithExistingID},
		{"RoundTripsValues", testRoundTripsValues},
		{"FindManyKeepsOrder", testFindManyKeepsOrder},
		{"FindAllOfType", testFindAllOfType},
		{"InverseReferences", testInverseReferences},
		{"Delete", testDelete},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newAdapter(t))
		})
	}
}

func mustSave(t *testing.T, a domain.Adapter, rec domain.Record) domain.Record {
	t.Helper()
	saved, err := a.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("save %s: %v", rec.ID, err)
	}
	return saved
}

func record(id domain.ID, typ domain.RecordType) domain.Record {
	rec := domain.NewRecord(typ)
	rec.ID = id
	return rec
}

func testSaveAssignsIdentity(t *testing.T, a domain.Adapter) {
	saved := mustSave(t, a, domain.NewRecord("work"))
	if saved.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !saved.Persisted() {
		t.Fatalf("expected non-zero lock token")
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Fatalf("expected timestamps to be set")
	}
	found, err := a.FindByID(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if found.LockToken != saved.LockToken || found.Type != "work" {
		t.Fatalf("unexpected stored record %+v", found)
	}
	if _, err := a.FindByID(context.Background(), "missing"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func testOptimisticLock(t *testing.T, a domain.Adapter) {
	ctx := context.Background()
	base := mustSave(t, a, record("w1", "work"))

	first := base.Clone()
	first.Set(domain.AttrTitle, domain.Literal("first"))
	firstSaved := mustSave(t, a, first)
	if firstSaved.LockToken == base.LockToken {
		t.Fatalf("expected new token after save")
	}

	second := base.Clone()
	second.Set(domain.AttrTitle, domain.Literal("second"))
	_, err := a.Save(ctx, second)
	var conflict *domain.PersistenceConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected persistence conflict, got %v", err)
	}
	if conflict.ID != "w1" || conflict.Actual != firstSaved.LockToken {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
	stored, err := a.FindByID(ctx, "w1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.First(domain.AttrTitle) != "first" || stored.LockToken != firstSaved.LockToken {
		t.Fatalf("stale write leaked: %+v", stored)
	}
}

func testCreateWithExistingID(t *testing.T, a domain.Adapter) {
	mustSave(t, a, record("dup", "work"))
	if _, err := a.Save(context.Background(), record("dup", "work")); !domain.IsConflict(err) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}
	ghost := record("ghost", "work")
	ghost.LockToken = 4
	if _, err := a.Save(context.Background(), ghost); !domain.IsConflict(err) {
		t.Fatalf("expected conflict updating a missing record, got %v", err)
	}
}

func testRoundTripsValues(t *testing.T, a domain.Adapter) {
	rec := record("rt", "folder")
	rec.MemberIDs = []domain.ID{"b", "a"}
	rec.Set("genre", domain.Ref("term-1"))
	rec.Set("pages", domain.Literal(12))
	rec.Set("flagged", domain.Literal(true))
	rec.Set(domain.AttrTitle, domain.Literal("Folder"), domain.Literal("Alt"))
	saved := mustSave(t, a, rec)
	found, err := a.FindByID(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(found.MemberIDs) != 2 || found.MemberIDs[0] != "b" {
		t.Fatalf("member order lost: %v", found.MemberIDs)
	}
	if !domain.ValuesEqual(found.Get("genre"), rec.Get("genre")) ||
		!domain.ValuesEqual(found.Get("pages"), rec.Get("pages")) ||
		!domain.ValuesEqual(found.Get("flagged"), rec.Get("flagged")) ||
		!domain.ValuesEqual(found.Get(domain.AttrTitle), rec.Get(domain.AttrTitle)) {
		t.Fatalf("attributes changed in round trip: %+v", found.Attributes)
	}
}

func testFindManyKeepsOrder(t *testing.T, a domain.Adapter) {
	for _, id := range []domain.ID{"a", "b", "c"} {
		mustSave(t, a, record(id, "work"))
	}
	got, err := a.FindManyByIDs(context.Background(), []domain.ID{"c", "missing", "a", "b"})
	if err != nil {
		t.Fatalf("find many: %v", err)
	}
	if len(got) != 3 || got[0].ID != "c" || got[1].ID != "a" || got[2].ID != "b" {
		t.Fatalf("unexpected order %v", ids(got))
	}
	empty, err := a.FindManyByIDs(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty result, got %v %v", empty, err)
	}
}

func testFindAllOfType(t *testing.T, a domain.Adapter) {
	mustSave(t, a, record("t1", "term"))
	mustSave(t, a, record("t2", "term"))
	mustSave(t, a, record("w1", "work"))
	terms, err := a.FindAllOfType(context.Background(), "term")
	if err != nil {
		t.Fatalf("find all: %v", err)
	}
	if len(terms) != 2 {
		t.Fatalf("expected 2 terms, got %v", ids(terms))
	}
}

func testInverseReferences(t *testing.T, a domain.Adapter) {
	ctx := context.Background()
	mustSave(t, a, record("term", "term"))
	f1 := record("f1", "folder")
	f1.Set("genre", domain.Ref("term"), domain.Ref("other"))
	mustSave(t, a, f1)
	f2 := record("f2", "folder")
	f2.Set("genre", domain.Literal("term"))
	mustSave(t, a, f2)
	parent := record("p", "work")
	parent.MemberIDs = []domain.ID{"term"}
	mustSave(t, a, parent)

	refs, err := a.FindInverseReferences(ctx, "term", "genre")
	if err != nil {
		t.Fatalf("inverse: %v", err)
	}
	if len(refs) != 1 || refs[0].ID != "f1" {
		t.Fatalf("expected only f1 to reference term, got %v", ids(refs))
	}
	parents, err := a.FindInverseReferences(ctx, "term", domain.AttrMemberIDs)
	if err != nil {
		t.Fatalf("inverse members: %v", err)
	}
	if len(parents) != 1 || parents[0].ID != "p" {
		t.Fatalf("expected parent p, got %v", ids(parents))
	}
	none, err := a.FindInverseReferences(ctx, "term", "subject")
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no subject references, got %v %v", ids(none), err)
	}
}

func testDelete(t *testing.T, a domain.Adapter) {
	ctx := context.Background()
	saved := mustSave(t, a, record("d1", "work"))
	stale := saved.Clone()
	stale.LockToken = 0
	if err := a.Delete(ctx, stale); !domain.IsConflict(err) {
		t.Fatalf("expected conflict deleting with stale token, got %v", err)
	}
	if err := a.Delete(ctx, saved); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := a.FindByID(ctx, "d1"); !domain.IsNotFound(err) {
		t.Fatalf("expected deleted record to be gone, got %v", err)
	}
	if err := a.Delete(ctx, saved); !domain.IsNotFound(err) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func ids(recs []domain.Record) []domain.ID {
	out := make([]domain.ID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
