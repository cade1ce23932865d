package app

import (
	"archivecore/internal/blob"
	blobcore "archivecore/internal/blob/core"
	"archivecore/internal/changeset"
	"archivecore/internal/config"
	"archivecore/internal/core"
	"archivecore/pkg/domain"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func memoryConfig() config.Config {
	cfg := config.Default()
	cfg.Storage = core.StorageConfig{Driver: core.StorageMemory}
	cfg.Blob = blob.Config{Driver: blobcore.DriverMemory}
	cfg.Jobs.Workers = 1
	return cfg
}

func TestRuntimeSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	snapshot := filepath.Join(t.TempDir(), "snapshot.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	rt, err := Open(ctx, memoryConfig(), Options{Logger: logger, SnapshotPath: snapshot})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rt.Start(ctx)
	info, err := rt.Files.Upload(ctx, strings.NewReader("page"), blob.UploadOptions{Filename: "page.txt"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	cs := changeset.NewWork(domain.NewRecord(core.TypeWork), changeset.WorkDirectives{
		Files: []domain.PendingFile{{FileID: string(info.FileID), Filename: "page.txt"}},
	}, changeset.WithTypes(rt.Persister.Types()))
	cs.Validate(map[string][]domain.Value{
		domain.AttrTitle: domain.Literals("Diary"),
		domain.AttrState: domain.Literals(core.StateComplete),
	})
	work, err := rt.Persister.Save(ctx, cs)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if work.First(domain.AttrIdentifier) == "" {
		t.Fatalf("expected a minted identifier from the configured shoulder")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if rt.Jobs.Processed() != 3 {
		t.Fatalf("expected derivative, fixity and preservation jobs to run, got %d", rt.Jobs.Processed())
	}

	again, err := Open(ctx, memoryConfig(), Options{Logger: logger, SnapshotPath: snapshot})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	loaded, err := again.Adapter.FindByID(ctx, work.ID)
	if err != nil {
		t.Fatalf("work not restored: %v", err)
	}
	fs, err := again.Adapter.FindByID(ctx, loaded.MemberIDs[0])
	if err != nil {
		t.Fatalf("file set not restored: %v", err)
	}
	if fs.First(core.AttrFixityStatus) == "" {
		t.Fatalf("expected fixity written before the snapshot")
	}
	res, err := again.Queries.Run(ctx, "count_deep_members", map[string]string{"id": work.ID.String()})
	if err != nil || res.Count != 1 {
		t.Fatalf("deep count over restored snapshot: %d %v", res.Count, err)
	}
}

func TestRuntimeMetricsHandler(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, memoryConfig(), Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	cs := changeset.New(domain.NewRecord(core.TypeCollection), changeset.WithTypes(rt.Persister.Types()))
	cs.Validate(map[string][]domain.Value{domain.AttrTitle: domain.Literals("Posters")})
	if _, err := rt.Persister.Save(ctx, cs); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec := httptest.NewRecorder()
	rt.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `archivecore_persister_operations_total{operation="save_collection",status="success"} 1`) {
		t.Fatalf("metrics missing save counter:\n%s", rec.Body.String())
	}
}

func TestRuntimeTraceOutputAndVars(t *testing.T) {
	ctx := context.Background()
	cfg := memoryConfig()
	cfg.TraceOutput = filepath.Join(t.TempDir(), "trace.jsonl")
	rt, err := Open(ctx, cfg, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cs := changeset.New(domain.NewRecord(core.TypeCollection), changeset.WithTypes(rt.Persister.Types()))
	cs.Validate(map[string][]domain.Value{domain.AttrTitle: domain.Literals("Posters")})
	if _, err := rt.Persister.Save(ctx, cs); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := rt.Stats.Snapshot().Types[core.TypeCollection].Saves; got != 1 {
		t.Fatalf("expected one collection save in stats, got %d", got)
	}
	rec := httptest.NewRecorder()
	rt.VarsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/debug/vars", nil))
	if !strings.Contains(rec.Body.String(), `"`+rt.Stats.Name()+`"`) {
		t.Fatalf("expvar output missing %s", rt.Stats.Name())
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(cfg.TraceOutput)
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	if !strings.Contains(string(data), `"operation":"save_collection"`) || len(rt.Tracer.Entries()) == 0 {
		t.Fatalf("expected save_collection span in %s", data)
	}
}

func TestOpenRejectsBadIndex(t *testing.T) {
	cfg := memoryConfig()
	cfg.Index.Driver = "elastic"
	if _, err := Open(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("expected unknown index driver error")
	}
}
