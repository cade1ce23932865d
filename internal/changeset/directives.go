package changeset

import (
	"archivecore/pkg/domain"
)

// Member is a draft for records that can be attached to a parent.
type Member struct {
	*ChangeSet
	appendID domain.ID
}

var _ domain.AppendTarget = (*Member)(nil)

// NewMember builds a draft that appends rec to parent when parent is non-empty.
func NewMember(rec domain.Record, parent domain.ID, opts ...Option) *Member {
	return &Member{ChangeSet: New(rec, opts...), appendID: parent}
}

// AppendID returns the parent to attach to.
func (m *Member) AppendID() (domain.ID, bool) { return m.appendID, m.appendID != "" }

// Work is the draft used for works and recordings: it can attach to a parent,
// ingest files, leave collections and force a remote metadata refresh.
type Work struct {
	*Member
	files   []domain.PendingFile
	detach  []domain.ID
	refresh bool
}

var (
	_ domain.PendingUploads     = (*Work)(nil)
	_ domain.CollectionDetacher = (*Work)(nil)
	_ domain.MetadataRefresher  = (*Work)(nil)
)

// WorkDirectives carries the virtual, non-schema inputs of a work edit.
type WorkDirectives struct {
	AppendID            domain.ID
	Files               []domain.PendingFile
	DetachCollectionIDs []domain.ID
	RefreshMetadata     bool
}

// NewWork builds a work draft.
func NewWork(rec domain.Record, d WorkDirectives, opts ...Option) *Work {
	return &Work{
		Member:  NewMember(rec, d.AppendID, opts...),
		files:   append([]domain.PendingFile(nil), d.Files...),
		detach:  append([]domain.ID(nil), d.DetachCollectionIDs...),
		refresh: d.RefreshMetadata,
	}
}

// PendingFiles returns files waiting to become file sets.
func (w *Work) PendingFiles() []domain.PendingFile {
	return append([]domain.PendingFile(nil), w.files...)
}

// DetachCollectionIDs returns collections to leave.
func (w *Work) DetachCollectionIDs() []domain.ID {
	return append([]domain.ID(nil), w.detach...)
}

// RefreshRemoteMetadata reports whether remote metadata should be refetched.
func (w *Work) RefreshRemoteMetadata() bool { return w.refresh }

// FileSet is the draft for file sets; it tracks blobs orphaned by the edit.
type FileSet struct {
	*Member
	orphans []string
}

var _ domain.OrphanTracker = (*FileSet)(nil)

// NewFileSet builds a file set draft.
func NewFileSet(rec domain.Record, parent domain.ID, opts ...Option) *FileSet {
	return &FileSet{Member: NewMember(rec, parent, opts...)}
}

// RecordOrphanedFiles remembers blob ids no longer referenced.
func (f *FileSet) RecordOrphanedFiles(fileIDs ...string) {
	seen := make(map[string]struct{}, len(f.orphans))
	for _, id := range f.orphans {
		seen[id] = struct{}{}
	}
	for _, id := range fileIDs {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		f.orphans = append(f.orphans, id)
	}
}

// OrphanedFiles returns the recorded blob ids.
func (f *FileSet) OrphanedFiles() []string {
	return append([]string(nil), f.orphans...)
}

// Factory picks the draft kind matching a record type.
type Factory struct {
	Types *domain.TypeRegistry
	// FileSetTypes and WorkTypes select the richer drafts; every other type gets
	// a Member draft.
	FileSetTypes map[domain.RecordType]bool
	WorkTypes    map[domain.RecordType]bool
}

// For builds a draft for rec. Directives only apply to work drafts; parent applies to any member draft.
func (f Factory) For(rec domain.Record, d WorkDirectives) domain.ChangeSet {
	opts := []Option{WithTypes(f.Types)}
	switch {
	case f.WorkTypes[rec.Type]:
		return NewWork(rec, d, opts...)
	case f.FileSetTypes[rec.Type]:
		return NewFileSet(rec, d.AppendID, opts...)
	case d.AppendID != "":
		return NewMember(rec, d.AppendID, opts...)
	default:
		return New(rec, opts...)
	}
}
