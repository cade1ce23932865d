package index

import (
	"archivecore/pkg/domain"
	"context"
	"testing"
)

func TestMemoryRecordsCalls(t *testing.T) {
	ctx := context.Background()
	idx := NewMemory()
	a := domain.NewRecord("work")
	a.ID = "a"
	b := domain.NewRecord("work")
	b.ID = "b"
	_ = idx.Upsert(ctx, a)
	_ = idx.UpsertBatch(ctx, []domain.Record{a, b})
	_ = idx.Delete(ctx, a)
	calls := idx.Calls()
	if len(calls) != 3 || calls[1].Op != OpUpsertBatch || len(calls[1].IDs) != 2 {
		t.Fatalf("unexpected calls %+v", calls)
	}
	if ids := idx.IDs(); len(ids) != 1 || ids[0] != "b" {
		t.Fatalf("unexpected ids %v", ids)
	}
	if _, ok := idx.Get("a"); ok {
		t.Fatalf("deleted record still indexed")
	}
	if len(idx.CallsOf(OpDelete)) != 1 {
		t.Fatalf("expected one delete call")
	}
	idx.Reset()
	if len(idx.Calls()) != 0 {
		t.Fatalf("expected call log cleared")
	}
}
