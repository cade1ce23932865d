package core

import (
	"context"
	"path/filepath"
	"testing"

	"archivecore/internal/changeset"
	"archivecore/internal/infra/persistence/memory"
	"archivecore/internal/infra/persistence/sqlite"
	"archivecore/pkg/domain"
)

func TestOpenAdapterDrivers(t *testing.T) {
	adapter, closer, err := OpenAdapter(StorageConfig{Driver: StorageMemory})
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	if _, ok := adapter.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", adapter)
	}
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	path := filepath.Join(t.TempDir(), "archive.db")
	adapter, closer, err = OpenAdapter(StorageConfig{SQLitePath: path})
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	defer closer.Close()
	if s, ok := adapter.(*sqlite.Store); !ok || s.Path() != path {
		t.Fatalf("expected sqlite store at %s, got %T", path, adapter)
	}

	if _, _, err := OpenAdapter(StorageConfig{Driver: StoragePostgres}); err == nil {
		t.Fatalf("expected error for postgres without DSN")
	}
	if _, _, err := OpenAdapter(StorageConfig{Driver: "cassandra"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestStorageConfigFromEnv(t *testing.T) {
	t.Setenv("ARCHIVECORE_STORAGE_DRIVER", "postgres")
	t.Setenv("ARCHIVECORE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("ARCHIVECORE_POSTGRES_DSN", "postgres://localhost/archive")
	cfg := StorageConfigFromEnv()
	if cfg.Driver != StoragePostgres || cfg.SQLitePath != "/tmp/x.db" || cfg.PostgresDSN != "postgres://localhost/archive" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestPersisterOverSQLite(t *testing.T) {
	adapter, closer, err := OpenAdapter(StorageConfig{Driver: StorageSQLite, SQLitePath: filepath.Join(t.TempDir(), "p.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer closer.Close()
	p, err := NewPersister(adapter)
	if err != nil {
		t.Fatalf("persister: %v", err)
	}
	ctx := context.Background()
	newRec := func(typ domain.RecordType, parent domain.ID, values map[string][]domain.Value) domain.Record {
		cs := changeset.NewMember(domain.NewRecord(typ), parent, changeset.WithTypes(p.Types()))
		cs.Validate(values)
		rec, err := p.Save(ctx, cs)
		if err != nil {
			t.Fatalf("save %s: %v", typ, err)
		}
		return rec
	}
	vocab := newRec(TypeVocabulary, "", map[string][]domain.Value{AttrLabel: domain.Literals("Genres")})
	term := newRec(TypeTerm, vocab.ID, map[string][]domain.Value{AttrLabel: domain.Literals("Posters")})
	folder := newRec(TypeFolder, "", map[string][]domain.Value{AttrGenre: domain.Refs(term.ID)})

	current, err := adapter.FindByID(ctx, term.ID)
	if err != nil {
		t.Fatalf("reload term: %v", err)
	}
	if err := p.Delete(ctx, changeset.New(current)); err != nil {
		t.Fatalf("delete term: %v", err)
	}
	after, err := adapter.FindByID(ctx, folder.ID)
	if err != nil {
		t.Fatalf("reload folder: %v", err)
	}
	if len(after.Get(AttrGenre)) != 0 || after.LockToken == folder.LockToken {
		t.Fatalf("expected genre cascade over sqlite, got %+v", after)
	}
	parent, _ := adapter.FindByID(ctx, vocab.ID)
	if len(parent.MemberIDs) != 0 {
		t.Fatalf("term must leave the vocabulary")
	}
}
