package workers

import (
	"archivecore/internal/blob"
	"archivecore/internal/changeset"
	"archivecore/internal/core"
	memblob "archivecore/internal/infra/blob/memory"
	"archivecore/internal/infra/persistence/memory"
	"archivecore/internal/jobs"
	"archivecore/pkg/domain"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	store   *memory.Store
	backend *memblob.Store
	files   *blob.Repository
	p       *core.Persister
	w       *Workers
	now     time.Time
}

func newHarness(t *testing.T, opts ...core.Option) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewStore(),
		backend: memblob.New(),
		now:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	h.files = blob.NewRepository(h.backend)
	base := []core.Option{core.WithJobQueue(jobs.NewRecorder()), core.WithCascadeRetry(10, time.Millisecond)}
	p, err := core.NewPersister(h.store, append(base, opts...)...)
	if err != nil {
		t.Fatalf("persister: %v", err)
	}
	h.p = p
	h.w = New(p, h.files, WithLogger(quiet), WithNow(func() time.Time { return h.now }))
	return h
}

func (h *harness) upload(t *testing.T, content, name string) blob.FileInfo {
	t.Helper()
	info, err := h.files.Upload(context.Background(), strings.NewReader(content), blob.UploadOptions{Filename: name, ContentType: "text/plain"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	return info
}

func (h *harness) fileSet(t *testing.T, fileIDs ...blob.FileID) domain.Record {
	t.Helper()
	ids := make([]string, 0, len(fileIDs))
	for _, id := range fileIDs {
		ids = append(ids, string(id))
	}
	cs := changeset.NewFileSet(domain.NewRecord(core.TypeFileSet), "", changeset.WithTypes(h.p.Types()))
	cs.Validate(map[string][]domain.Value{domain.AttrFileIdentifiers: domain.Literals(ids...)})
	rec, err := h.p.Save(context.Background(), cs)
	if err != nil {
		t.Fatalf("save file set: %v", err)
	}
	return rec
}

func (h *harness) reload(t *testing.T, id domain.ID) domain.Record {
	t.Helper()
	rec, err := h.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("reload %s: %v", id, err)
	}
	return rec
}

func TestCleanupFiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	info := h.upload(t, "obsolete", "old.txt")

	if err := h.w.CleanupFiles(ctx, map[string]string{"file_id": string(info.FileID)}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if _, err := h.files.Stat(ctx, info.FileID); !blob.IsNotFound(err) {
		t.Fatalf("expected file removed, got %v", err)
	}
	if err := h.w.CleanupFiles(ctx, map[string]string{"file_id": string(info.FileID)}); err != nil {
		t.Fatalf("cleanup of missing file should succeed: %v", err)
	}
	if err := h.w.CleanupFiles(ctx, map[string]string{"file_id": "bogus"}); !errors.Is(err, jobs.ErrPermanent) {
		t.Fatalf("expected permanent error for malformed id, got %v", err)
	}
}

func TestCreateDerivatives(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	src := h.upload(t, "page one", "page1.txt")
	fs := h.fileSet(t, src.FileID)

	if err := h.w.CreateDerivatives(ctx, map[string]string{"file_set_id": fs.ID.String()}); err != nil {
		t.Fatalf("derivatives: %v", err)
	}
	saved := h.reload(t, fs.ID)
	ids := saved.Strings(core.AttrDerivativeIDs)
	if len(ids) != 1 || saved.First(core.AttrMimeType) != "text/plain" {
		t.Fatalf("unexpected file set %+v", saved)
	}
	body, info, err := h.files.Open(ctx, blob.FileID(ids[0]))
	if err != nil {
		t.Fatalf("open derivative: %v", err)
	}
	defer body.Close()
	var d derivative
	if err := json.NewDecoder(body).Decode(&d); err != nil {
		t.Fatalf("decode derivative: %v", err)
	}
	if d.Source != string(src.FileID) || d.Digest != src.Digest || info.Filename != "page1.txt.json" {
		t.Fatalf("unexpected derivative %+v (%+v)", d, info)
	}

	token := saved.LockToken
	if err := h.w.CreateDerivatives(ctx, map[string]string{"file_set_id": fs.ID.String()}); err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if h.reload(t, fs.ID).LockToken != token {
		t.Fatalf("rerunning an unchanged derivative job must not save")
	}
}

func TestCheckFixity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	good := h.upload(t, "intact", "a.txt")
	bad := h.upload(t, "will rot", "b.txt")

	fs := h.fileSet(t, good.FileID)
	if err := h.w.CheckFixity(ctx, map[string]string{"file_set_id": fs.ID.String()}); err != nil {
		t.Fatalf("fixity: %v", err)
	}
	saved := h.reload(t, fs.ID)
	if saved.First(core.AttrFixityStatus) != FixityOK || saved.First(core.AttrFixityCheckedAt) != "2024-05-01T12:00:00Z" {
		t.Fatalf("unexpected fixity %+v", saved)
	}

	rotten := h.fileSet(t, good.FileID, bad.FileID)
	if !h.backend.Corrupt("sha256/"+bad.Digest, []byte("bit rot")) {
		t.Fatalf("corrupt failed")
	}
	if err := h.w.CheckFixity(ctx, map[string]string{"file_set_id": rotten.ID.String()}); err != nil {
		t.Fatalf("fixity: %v", err)
	}
	if got := h.reload(t, rotten.ID).First(core.AttrFixityStatus); got != FixityFailed {
		t.Fatalf("expected failed fixity, got %q", got)
	}

	if _, err := h.files.Delete(ctx, good.FileID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := h.w.CheckFixity(ctx, map[string]string{"file_set_id": fs.ID.String()}); err != nil {
		t.Fatalf("fixity: %v", err)
	}
	if got := h.reload(t, fs.ID).First(core.AttrFixityStatus); got != FixityMissing {
		t.Fatalf("expected missing fixity, got %q", got)
	}
}

func TestJobsForDeletedRecordsSucceed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	args := map[string]string{"file_set_id": "gone", "id": "gone"}
	for name, fn := range map[string]jobs.Handler{
		"derivatives": h.w.CreateDerivatives,
		"fixity":      h.w.CheckFixity,
		"preserve":    h.w.PreserveResource,
	} {
		if err := fn(ctx, args); err != nil {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if err := h.w.CheckFixity(ctx, map[string]string{}); !errors.Is(err, jobs.ErrPermanent) {
		t.Fatalf("expected permanent error without id, got %v", err)
	}
}

func TestPreserveResourceCreatesThenRefreshes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	cs := changeset.NewMember(domain.NewRecord(core.TypeWork), "", changeset.WithTypes(h.p.Types()))
	cs.Validate(map[string][]domain.Value{domain.AttrTitle: domain.Literals("Ledger")})
	work, err := h.p.Save(ctx, cs)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := h.w.PreserveResource(ctx, map[string]string{"id": work.ID.String()}); err != nil {
		t.Fatalf("preserve: %v", err)
	}
	poID, ok, err := h.p.PreservationObjectFor(ctx, work.ID)
	if err != nil || !ok {
		t.Fatalf("expected preservation object: %v", err)
	}
	po := h.reload(t, poID)
	snap, err := h.w.Preserved(ctx, po)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ID != work.ID || snap.First(domain.AttrTitle) != "Ledger" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	h.now = h.now.Add(time.Hour)
	if err := h.w.PreserveResource(ctx, map[string]string{"id": work.ID.String()}); err != nil {
		t.Fatalf("preserve again: %v", err)
	}
	all, err := h.store.FindAllOfType(ctx, core.TypePreservationObject)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 1 || all[0].First(core.AttrPreservedAt) != "2024-05-01T13:00:00Z" {
		t.Fatalf("expected one refreshed preservation object, got %+v", all)
	}
}

func TestQueueRunsIngestJobs(t *testing.T) {
	q := jobs.NewQueue(jobs.WithWorkers(2), jobs.WithRetry(3, time.Millisecond), jobs.WithLogger(quiet))
	h := newHarness(t, core.WithJobQueue(q))
	if err := h.w.Register(q); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := h.w.Register(q); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	ctx := context.Background()
	src := h.upload(t, "scan", "scan.txt")

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	cs := changeset.NewWork(domain.NewRecord(core.TypeWork), changeset.WorkDirectives{
		Files: []domain.PendingFile{{FileID: string(src.FileID), Filename: "scan.txt"}},
	}, changeset.WithTypes(h.p.Types()))
	cs.Validate(map[string][]domain.Value{
		domain.AttrTitle: domain.Literals("Scrapbook"),
		domain.AttrState: domain.Literals(core.StateComplete),
	})
	work, err := h.p.Save(ctx, cs)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	q.Stop()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if q.Processed() != 3 || q.Failed() != 0 {
		t.Fatalf("expected 3 processed jobs, got %d processed %d failed", q.Processed(), q.Failed())
	}
	fs := h.reload(t, work.MemberIDs[0])
	if fs.First(core.AttrFixityStatus) != FixityOK || len(fs.Strings(core.AttrDerivativeIDs)) != 1 {
		t.Fatalf("unexpected file set after jobs %+v", fs)
	}
	if _, ok, _ := h.p.PreservationObjectFor(ctx, work.ID); !ok {
		t.Fatalf("expected the work to be preserved")
	}
}
