package redis

import (
	"archivecore/pkg/domain"
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
)

func TestKeysUsePrefix(t *testing.T) {
	idx := New(nil, "test:")
	if got := idx.DocKey("w1"); got != "test:doc:w1" {
		t.Fatalf("unexpected doc key %s", got)
	}
	if got := idx.TypeKey("work"); got != "test:type:work" {
		t.Fatalf("unexpected type key %s", got)
	}
	if err := idx.UpsertBatch(context.Background(), nil); err != nil {
		t.Fatalf("empty batch must be a no-op: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close without owned client: %v", err)
	}
}

// TestLiveIndex runs against a server when ARCHIVECORE_TEST_REDIS_ADDR is set.
func TestLiveIndex(t *testing.T) {
	addr := os.Getenv("ARCHIVECORE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARCHIVECORE_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	idx, err := Open(ctx, Options{Address: addr, Prefix: "archivecore-test:" + uuid.NewString() + ":"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = idx.Close() }()

	a := domain.NewRecord("work")
	a.ID = "a"
	a.Set(domain.AttrTitle, domain.Literal("A"))
	b := domain.NewRecord("work")
	b.ID = "b"
	if err := idx.UpsertBatch(ctx, []domain.Record{a, b}); err != nil {
		t.Fatalf("upsert batch: %v", err)
	}
	got, ok, err := idx.Get(ctx, "a")
	if err != nil || !ok || got.First(domain.AttrTitle) != "A" {
		t.Fatalf("unexpected get %+v %v %v", got, ok, err)
	}
	if n, err := idx.Count(ctx, "work"); err != nil || n != 2 {
		t.Fatalf("expected 2 works, got %d %v", n, err)
	}
	if err := idx.Delete(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := idx.Get(ctx, "a"); err != nil || ok {
		t.Fatalf("expected deleted doc, got %v %v", ok, err)
	}
	if n, _ := idx.Count(ctx, "work"); n != 1 {
		t.Fatalf("expected 1 work after delete, got %d", n)
	}
}
