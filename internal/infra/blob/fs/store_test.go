package fs

import (
	"archivecore/internal/blob/core"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestPutRejectsTraversalAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs", "x.meta"} {
		if _, err := s.Put(ctx, key, strings.NewReader("x"), core.PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
	if _, err := s.Put(ctx, "a/b", strings.NewReader("x"), core.PutOptions{Metadata: map[string]string{"k": "v"}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "a/b", strings.NewReader("y"), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	info, err := s.Head(ctx, "a/b")
	if err != nil || info.Metadata["k"] != "v" || info.Size != 1 {
		t.Fatalf("unexpected head %+v %v", info, err)
	}
	if _, _, err := s.Get(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, err := s.List(ctx, "a/")
	if err != nil || len(list) != 1 || list[0].Key != "a/b" {
		t.Fatalf("unexpected list %+v %v", list, err)
	}
}
