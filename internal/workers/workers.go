// Package workers implements the background jobs enqueued by persistence
// handlers: blob cleanup, derivative generation, fixity checks and
// preservation.
package workers

import (
	"archivecore/internal/blob"
	"archivecore/internal/changeset"
	"archivecore/internal/core"
	"archivecore/internal/jobs"
	"archivecore/pkg/domain"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Fixity outcomes written to file sets.
const (
	FixityOK      = "ok"
	FixityFailed  = "failed"
	FixityMissing = "missing"
)

// Workers binds the job handlers to a persister and a blob repository.
type Workers struct {
	persister *core.Persister
	files     *blob.Repository
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures Workers.
type Option func(*Workers)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(logger *slog.Logger) Option {
	return func(w *Workers) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithNow overrides the clock used for fixity and preservation timestamps.
func WithNow(now func() time.Time) Option {
	return func(w *Workers) {
		if now != nil {
			w.now = now
		}
	}
}

// New returns workers operating on p and files.
func New(p *core.Persister, files *blob.Repository, opts ...Option) *Workers {
	w := &Workers{
		persister: p,
		files:     files,
		logger:    slog.Default(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Register installs every handler on q.
func (w *Workers) Register(q *jobs.Queue) error {
	handlers := map[string]jobs.Handler{
		core.JobCleanupFiles:      w.CleanupFiles,
		core.JobCreateDerivatives: w.CreateDerivatives,
		core.JobCheckFixity:       w.CheckFixity,
		core.JobPreserveResource:  w.PreserveResource,
	}
	for _, name := range []string{core.JobCleanupFiles, core.JobCreateDerivatives, core.JobCheckFixity, core.JobPreserveResource} {
		if err := q.Register(name, handlers[name]); err != nil {
			return err
		}
	}
	return nil
}

// CleanupFiles removes the blob named by args["file_id"]. Files that are
// already gone count as cleaned up.
func (w *Workers) CleanupFiles(ctx context.Context, args map[string]string) error {
	id := args["file_id"]
	if _, _, err := blob.ParseFileID(id); err != nil {
		return jobs.Permanent(err)
	}
	existed, err := w.files.Delete(ctx, blob.FileID(id))
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", id, err)
	}
	w.logger.Debug("file cleaned up", "file_id", id, "existed", existed)
	return nil
}

type derivative struct {
	Source      string `json:"source"`
	Digest      string `json:"sha256"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type,omitempty"`
	Filename    string `json:"filename,omitempty"`
}

// CreateDerivatives writes a technical metadata derivative for every file of
// the file set in args["file_set_id"] and records them on the file set.
func (w *Workers) CreateDerivatives(ctx context.Context, args map[string]string) error {
	fs, ok, err := w.load(ctx, args["file_set_id"])
	if err != nil || !ok {
		return err
	}
	var (
		ids      []domain.Value
		mimeType string
	)
	for _, fileID := range fs.Strings(domain.AttrFileIdentifiers) {
		info, err := w.files.Stat(ctx, blob.FileID(fileID))
		if err != nil {
			if blob.IsNotFound(err) {
				w.logger.Warn("derivative source missing", "file_set_id", fs.ID, "file_id", fileID)
				continue
			}
			return fmt.Errorf("stat %s: %w", fileID, err)
		}
		body, err := json.Marshal(derivative{
			Source:      fileID,
			Digest:      info.Digest,
			Size:        info.Size,
			ContentType: info.ContentType,
			Filename:    info.Filename,
		})
		if err != nil {
			return err
		}
		name := info.Filename
		if name == "" {
			name = info.Digest
		}
		out, err := w.files.Upload(ctx, bytes.NewReader(body), blob.UploadOptions{Filename: name + ".json", ContentType: "application/json"})
		if err != nil {
			return fmt.Errorf("store derivative of %s: %w", fileID, err)
		}
		ids = append(ids, domain.Literal(string(out.FileID)))
		if mimeType == "" {
			mimeType = info.ContentType
		}
	}
	_, err = w.persister.Update(ctx, fs.ID, func(cs *changeset.ChangeSet, current domain.Record) bool {
		cs.Set(core.AttrDerivativeIDs, ids...)
		if current.First(core.AttrMimeType) == "" && mimeType != "" {
			cs.Set(core.AttrMimeType, domain.Literal(mimeType))
		}
		return cs.Changed(core.AttrDerivativeIDs) || cs.Changed(core.AttrMimeType)
	})
	return ignoreMissing(err)
}

// CheckFixity re-hashes every file of the file set in args["file_set_id"]
// and records the outcome.
func (w *Workers) CheckFixity(ctx context.Context, args map[string]string) error {
	fs, ok, err := w.load(ctx, args["file_set_id"])
	if err != nil || !ok {
		return err
	}
	status := FixityOK
	for _, fileID := range fs.Strings(domain.AttrFileIdentifiers) {
		match, err := w.files.Verify(ctx, blob.FileID(fileID))
		switch {
		case blob.IsNotFound(err):
			status = FixityMissing
		case err != nil:
			return fmt.Errorf("verify %s: %w", fileID, err)
		case !match && status == FixityOK:
			status = FixityFailed
		}
	}
	if status != FixityOK {
		w.logger.Warn("fixity check failed", "file_set_id", fs.ID, "status", status)
	}
	checked := w.now().Format(time.RFC3339)
	_, err = w.persister.Update(ctx, fs.ID, func(cs *changeset.ChangeSet, _ domain.Record) bool {
		cs.Set(core.AttrFixityStatus, domain.Literal(status))
		cs.Set(core.AttrFixityCheckedAt, domain.Literal(checked))
		return true
	})
	return ignoreMissing(err)
}

// PreserveResource snapshots the record in args["id"] to the blob store and
// creates or refreshes its preservation object.
func (w *Workers) PreserveResource(ctx context.Context, args map[string]string) error {
	rec, ok, err := w.load(ctx, args["id"])
	if err != nil || !ok {
		return err
	}
	body, err := json.Marshal(rec)
	if err != nil {
		return jobs.Permanent(err)
	}
	meta, err := w.files.Upload(ctx, bytes.NewReader(body), blob.UploadOptions{Filename: rec.ID.String() + ".json", ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("preserve %s: %w", rec.ID, err)
	}
	binaries := domain.Literals(string(meta.FileID))
	binaries = append(binaries, domain.Literals(rec.Strings(domain.AttrFileIdentifiers)...)...)
	preservedAt := domain.Literal(w.now().Format(time.RFC3339))

	poID, found, err := w.persister.PreservationObjectFor(ctx, rec.ID)
	if err != nil {
		return err
	}
	if found {
		_, err = w.persister.Update(ctx, poID, func(cs *changeset.ChangeSet, _ domain.Record) bool {
			cs.Set(core.AttrBinaryFileIDs, binaries...)
			cs.Set(core.AttrPreservedAt, preservedAt)
			return true
		})
		return err
	}
	cs := changeset.New(domain.NewRecord(core.TypePreservationObject), changeset.WithTypes(w.persister.Types()))
	cs.Validate(map[string][]domain.Value{
		core.AttrPreservedObjectID: {domain.Ref(rec.ID)},
		core.AttrBinaryFileIDs:     binaries,
		core.AttrPreservedAt:       {preservedAt},
	})
	if _, err := w.persister.Save(ctx, cs); err != nil {
		return fmt.Errorf("create preservation object for %s: %w", rec.ID, err)
	}
	return nil
}

// Preserved returns the preservation snapshot stored for a preservation object.
func (w *Workers) Preserved(ctx context.Context, po domain.Record) (domain.Record, error) {
	ids := po.Strings(core.AttrBinaryFileIDs)
	if len(ids) == 0 {
		return domain.Record{}, fmt.Errorf("preservation object %s has no snapshot", po.ID)
	}
	body, _, err := w.files.Open(ctx, blob.FileID(ids[0]))
	if err != nil {
		return domain.Record{}, err
	}
	defer func() { _ = body.Close() }()
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.Record{}, err
	}
	var rec domain.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.Record{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return rec, nil
}

func (w *Workers) load(ctx context.Context, id string) (domain.Record, bool, error) {
	if id == "" {
		return domain.Record{}, false, jobs.Permanent(fmt.Errorf("missing record id"))
	}
	rec, err := w.persister.Adapter().FindByID(ctx, domain.ID(id))
	if err != nil {
		if domain.IsNotFound(err) {
			w.logger.Debug("job target gone", "id", id)
			return domain.Record{}, false, nil
		}
		return domain.Record{}, false, err
	}
	return rec, true, nil
}

func ignoreMissing(err error) error {
	if domain.IsNotFound(err) {
		return nil
	}
	return err
}
