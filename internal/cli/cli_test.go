package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"archivecore/internal/app"
	"archivecore/internal/blob"
	blobcore "archivecore/internal/blob/core"
	"archivecore/internal/config"
	"archivecore/internal/core"
	"archivecore/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "archivecore", cmd.Use)

	for _, name := range []string{"load", "show", "delete", "members", "parents", "deep-members", "deep-count", "fingerprint", "inverse", "query", "queries", "serve"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "queries")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestQueriesCommand(t *testing.T) {
	out, err := execute(t, "--format", "json", "queries")
	require.NoError(t, err)
	var names []string
	require.NoError(t, json.Unmarshal([]byte(out), &names))
	assert.Contains(t, names, "count_deep_members")
	assert.Contains(t, names, "find_orphaned_members")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLoadAndQueryGraph(t *testing.T) {
	t.Setenv("ARCHIVECORE_STORAGE_DRIVER", "memory")
	t.Setenv("ARCHIVECORE_BLOB_DRIVER", "memory")
	t.Setenv("ARCHIVECORE_LOG_LEVEL", "ERROR")
	dir := t.TempDir()
	snapshot := filepath.Join(dir, "snapshot.json")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page.txt"), []byte("first page"), 0o600))
	loadFile := filepath.Join(dir, "load.json")
	require.NoError(t, os.WriteFile(loadFile, []byte(`[
  {"ref": "genres", "type": "vocabulary", "attributes": {"label": ["Genres"]}},
  {"ref": "posters", "type": "term", "parent": "@genres", "attributes": {"label": ["Posters"]}},
  {"ref": "book", "type": "work", "attributes": {"title": ["Scrapbook"]}, "files": ["page.txt"]},
  {"ref": "box", "type": "folder", "parent": "@book", "attributes": {"title": ["Box 1"], "genre": [{"id": "@posters"}]}}
]`), 0o600))

	run := func(args ...string) string {
		out, err := execute(t, append([]string{"--snapshot", snapshot, "--format", "json"}, args...)...)
		require.NoError(t, err, "archivecore %v", args)
		return out
	}

	var loaded LoadResult
	require.NoError(t, json.Unmarshal([]byte(run("load", loadFile)), &loaded))
	require.Len(t, loaded.IDs, 4)
	book, box, posters := loaded.IDs["book"], loaded.IDs["box"], loaded.IDs["posters"]

	var members []domain.Record
	require.NoError(t, json.Unmarshal([]byte(run("members", book.String())), &members))
	require.Len(t, members, 2)
	assert.Equal(t, domain.RecordType("file_set"), members[0].Type)
	assert.Equal(t, box, members[1].ID)

	var count map[string]int
	require.NoError(t, json.Unmarshal([]byte(run("deep-count", book.String(), "--type", "file_set")), &count))
	assert.Equal(t, 1, count["count"])

	first := run("fingerprint", book.String())
	assert.Equal(t, first, run("fingerprint", book.String()))

	var refs []domain.Record
	require.NoError(t, json.Unmarshal([]byte(run("inverse", posters.String(), "--property", "genre")), &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, box, refs[0].ID)

	require.NoError(t, json.Unmarshal([]byte(run("query", "count_deep_members", "id="+book.String())), &count))
	assert.Equal(t, 2, count["count"])

	run("delete", posters.String())
	require.NoError(t, json.Unmarshal([]byte(run("inverse", book.String(), "--property", "genre")), &refs))
	assert.Empty(t, refs)

	var shown domain.Record
	require.NoError(t, json.Unmarshal([]byte(run("show", box.String())), &shown))
	assert.Empty(t, shown.Get("genre"))
	assert.NotEmpty(t, shown.First("cached_parent_id"))

	_, err := execute(t, "--snapshot", snapshot, "show", posters.String())
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
}

func TestLoadRejectsUnknownRef(t *testing.T) {
	t.Setenv("ARCHIVECORE_STORAGE_DRIVER", "memory")
	t.Setenv("ARCHIVECORE_BLOB_DRIVER", "memory")
	loadFile := filepath.Join(t.TempDir(), "load.json")
	require.NoError(t, os.WriteFile(loadFile, []byte(`[{"ref": "a", "type": "folder", "parent": "@missing"}]`), 0o600))
	_, err := execute(t, "load", loadFile)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ref")
}

func TestServeRoutes(t *testing.T) {
	cfg := config.Default()
	cfg.Storage = core.StorageConfig{Driver: core.StorageMemory}
	cfg.Blob = blob.Config{Driver: blobcore.DriverMemory}
	rt, err := app.Open(context.Background(), cfg, app.Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	require.NoError(t, err)
	defer func() { _ = rt.Close() }()

	h := routes(rt)
	for path, want := range map[string]string{
		"/healthz":    "ok processed=0",
		"/debug/vars": rt.Stats.Name(),
		"/metrics":    "go_goroutines",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, 200, rec.Code, path)
		assert.Contains(t, rec.Body.String(), want, path)
	}
}
