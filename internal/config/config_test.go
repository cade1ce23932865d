package config

import (
	"archivecore/internal/blob"
	blobcore "archivecore/internal/blob/core"
	"archivecore/internal/core"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archivecore.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageSQLite || cfg.Blob.Driver != blobcore.DriverFilesystem || cfg.Index.Driver != IndexMemory {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.Backoff != 100*time.Millisecond {
		t.Fatalf("unexpected job defaults %+v", cfg.Jobs)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, `
storage:
  driver: memory
blob:
  driver: s3
  s3:
    bucket: archive
    region: us-east-1
    path_style: true
index:
  driver: redis
  redis:
    address: redis:6379
    prefix: "test:"
jobs:
  workers: 8
  backoff: 250ms
log_level: debug
metadata_url: https://catalog.example.org/records
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StorageMemory {
		t.Fatalf("storage driver %q", cfg.Storage.Driver)
	}
	want := blob.Config{Driver: blobcore.DriverS3, FSRoot: "./blobdata"}
	if cfg.Blob.Driver != want.Driver || cfg.Blob.S3.Bucket != "archive" || !cfg.Blob.S3.PathStyle {
		t.Fatalf("unexpected blob config %+v", cfg.Blob)
	}
	if cfg.Index.Redis.Address != "redis:6379" || cfg.Index.Redis.Prefix != "test:" {
		t.Fatalf("unexpected index config %+v", cfg.Index)
	}
	if cfg.Jobs.Workers != 8 || cfg.Jobs.Backoff != 250*time.Millisecond || cfg.Jobs.MaxRetries != 3 {
		t.Fatalf("unexpected jobs config %+v", cfg.Jobs)
	}
	if lvl, _ := ParseLevel(cfg.LogLevel); lvl != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", lvl)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "storage:\n  engine: sqlite\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unknown field error")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "storage:\n  driver: memory\njobs:\n  workers: 2\ntrace_output: stderr\n")
	t.Setenv("ARCHIVECORE_TRACE_OUTPUT", "/var/log/archivecore/trace.jsonl")
	t.Setenv("ARCHIVECORE_STORAGE_DRIVER", "postgres")
	t.Setenv("ARCHIVECORE_POSTGRES_DSN", "postgres://localhost/archive")
	t.Setenv("ARCHIVECORE_JOB_WORKERS", "6")
	t.Setenv("ARCHIVECORE_BLOB_DRIVER", "memory")
	t.Setenv("ARCHIVECORE_INDEX_DRIVER", "none")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != core.StoragePostgres || cfg.Storage.PostgresDSN != "postgres://localhost/archive" {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Jobs.Workers != 6 || cfg.Blob.Driver != blobcore.DriverMemory || cfg.Index.Driver != IndexNone || cfg.TraceOutput != "/var/log/archivecore/trace.jsonl" {
		t.Fatalf("unexpected overrides %+v", cfg)
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	cfg := Default()
	lookup := func(key string) (string, bool) {
		if key == "ARCHIVECORE_JOB_WORKERS" {
			return "many", true
		}
		return "", false
	}
	if err := ApplyEnv(&cfg, lookup); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = core.StoragePostgres
	cfg.Blob.Driver = blobcore.DriverS3
	cfg.Index.Driver = "elastic"
	cfg.LogLevel = "chatty"
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"postgres_dsn", "bucket", "elastic", "chatty"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in %v", want, err)
		}
	}
}
