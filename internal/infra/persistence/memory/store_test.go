package memory

import (
	"archivecore/internal/infra/persistence/persistencetest"
	"archivecore/pkg/domain"
	"context"
	"testing"
	"time"
)

func TestStoreConformance(t *testing.T) {
	persistencetest.Run(t, func(*testing.T) domain.Adapter { return NewStore() })
}

func TestStoreClonesOnRead(t *testing.T) {
	store := NewStore()
	rec := domain.NewRecord("work")
	rec.ID = "w"
	rec.MemberIDs = []domain.ID{"a"}
	saved, err := store.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	saved.MemberIDs[0] = "mutated"
	found, _ := store.FindByID(context.Background(), "w")
	if found.MemberIDs[0] != "a" {
		t.Fatalf("stored copy shared with caller")
	}
}

func TestStoreExportImportAndClock(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(WithNow(func() time.Time { return fixed }))
	rec := domain.NewRecord("term")
	rec.ID = "t"
	saved, err := store.Save(context.Background(), rec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if !saved.CreatedAt.Equal(fixed) {
		t.Fatalf("expected injected clock, got %v", saved.CreatedAt)
	}
	snapshot := store.ExportState()
	store.ImportState(nil)
	if store.Len() != 0 {
		t.Fatalf("expected cleared store")
	}
	store.ImportState(snapshot)
	found, err := store.FindByID(context.Background(), "t")
	if err != nil || found.LockToken != saved.LockToken {
		t.Fatalf("expected restored record with its token, got %+v %v", found, err)
	}
}
