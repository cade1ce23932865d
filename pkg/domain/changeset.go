package domain

// ChangeSet is a validated, dirty-tracked draft of a record's new attributes.
// Staged values shadow the underlying resource until Sync is called.
type ChangeSet interface {
	// Resource returns the record as it was when the change set was built.
	Resource() Record
	// Validate stages attrs and checks the draft against the record's type definition.
	Validate(attrs map[string][]Value) bool
	Valid() bool
	Errors() []FieldError
	// Changed reports whether attr was modified in this edit.
	Changed(attr string) bool
	ChangedAttributes() []string
	Get(attr string) []Value
	Set(attr string, values ...Value)
	// Sync returns the resource with every staged value applied.
	Sync() Record
}

// AppendTarget is implemented by change sets that can attach their record to a parent.
type AppendTarget interface {
	AppendID() (ID, bool)
}

// PendingFile is a blob that is already stored and waits to be attached as a file set.
type PendingFile struct {
	FileID   string
	Filename string
	MimeType string
	Size     int64
}

// PendingUploads is implemented by change sets carrying files to ingest.
type PendingUploads interface {
	PendingFiles() []PendingFile
}

// CollectionDetacher is implemented by change sets that remove collection memberships.
type CollectionDetacher interface {
	DetachCollectionIDs() []ID
}

// OrphanTracker collects blob identifiers that an edit stopped referencing.
type OrphanTracker interface {
	RecordOrphanedFiles(fileIDs ...string)
	OrphanedFiles() []string
}

// MetadataRefresher is implemented by change sets that can force a remote metadata refetch.
type MetadataRefresher interface {
	RefreshRemoteMetadata() bool
}
