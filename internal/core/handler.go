package core

import (
	"context"
	"fmt"
	"sort"

	"archivecore/pkg/domain"
)

// OperationID names a catalog handler.
type OperationID string

// Catalog operation ids.
const (
	OpCacheParentID         OperationID = "cache_parent_id"
	OpApplyRemoteMetadata   OperationID = "apply_remote_metadata"
	OpApplyVisibilityByDate OperationID = "apply_visibility_by_date"
	OpMintIdentifier        OperationID = "mint_identifier"
	OpCleanupFileMetadata   OperationID = "cleanup_file_metadata"
	OpDetachCollections     OperationID = "detach_collections"
	OpAppendToParent        OperationID = "append_to_parent"
	OpPropagateChildState   OperationID = "propagate_child_state"
	OpPropagateVisibility   OperationID = "propagate_visibility"
	OpIngestFiles           OperationID = "ingest_files"
	OpEnqueueDerivatives    OperationID = "enqueue_derivatives"
	OpEnqueuePreservation   OperationID = "enqueue_preservation"
	OpCleanupFiles          OperationID = "cleanup_files"
	OpPublishMessage        OperationID = "publish_message"
	OpEnsureEmpty           OperationID = "ensure_empty"
	OpCreateTombstone       OperationID = "create_tombstone"
	OpCreateDeletionMarker  OperationID = "create_deletion_marker"
	OpCascadeDeleteRefs     OperationID = "cascade_delete_references"
	OpDetachFromParents     OperationID = "detach_from_parents"
	OpDeleteMembers         OperationID = "delete_members"
	OpCleanupDeletedFiles   OperationID = "cleanup_deleted_files"
	OpPublishDeleted        OperationID = "publish_deleted"
)

// Job names enqueued by handlers.
const (
	JobCleanupFiles      = "cleanup_files"
	JobCreateDerivatives = "create_derivatives"
	JobCheckFixity       = "check_fixity"
	JobPreserveResource  = "preserve_resource"
)

// Handler is one side-effect unit of a pipeline. Handlers check their own
// trigger and return nil when it does not hold.
type Handler interface {
	Run(ctx context.Context, hc *HandlerContext) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, hc *HandlerContext) error

// Run implements Handler.
func (f HandlerFunc) Run(ctx context.Context, hc *HandlerContext) error { return f(ctx, hc) }

// HandlerConstructor builds a handler instance.
type HandlerConstructor func() Handler

// HandlerContext is the input shared by every handler of one save or delete.
type HandlerContext struct {
	Persister *Persister
	ChangeSet domain.ChangeSet
	// Persisted is the written (or deleted) record; nil for pre-write handlers.
	Persisted *domain.Record
	// Created is true when the save is the record's first write.
	Created bool

	replaced *domain.Record
}

// Replace publishes a newer version of the persisted record; Save returns it.
func (hc *HandlerContext) Replace(rec domain.Record) {
	cp := rec.Clone()
	hc.replaced = &cp
	hc.Persisted = &cp
}

func (hc *HandlerContext) result() domain.Record {
	if hc.replaced != nil {
		return *hc.replaced
	}
	if hc.Persisted != nil {
		return *hc.Persisted
	}
	return domain.Record{}
}

// Pipeline lists the handlers run around writes of one record type.
type Pipeline struct {
	PreSave    []OperationID
	PostSave   []OperationID
	PreDelete  []OperationID
	PostDelete []OperationID
}

// HandlerNotFoundError reports a pipeline entry missing from the catalog.
type HandlerNotFoundError struct {
	Type      domain.RecordType
	Operation OperationID
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("pipeline for %s: handler %q not found", e.Type, e.Operation)
}

// Catalog maps operation ids to handler constructors.
type Catalog map[OperationID]HandlerConstructor

// Register adds a constructor, rejecting duplicates.
func (c Catalog) Register(id OperationID, ctor HandlerConstructor) error {
	if id == "" || ctor == nil {
		return fmt.Errorf("catalog registration requires an id and constructor")
	}
	if _, exists := c[id]; exists {
		return fmt.Errorf("handler %s already registered", id)
	}
	c[id] = ctor
	return nil
}

// IDs returns the registered operation ids in sorted order.
func (c Catalog) IDs() []OperationID {
	out := make([]OperationID, 0, len(c))
	for id := range c {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultCatalog returns a fresh catalog with every built-in handler.
func DefaultCatalog() Catalog {
	return Catalog{
		OpCacheParentID:         func() Handler { return cacheParentID{} },
		OpApplyRemoteMetadata:   func() Handler { return applyRemoteMetadata{} },
		OpApplyVisibilityByDate: func() Handler { return applyVisibilityByDate{} },
		OpMintIdentifier:        func() Handler { return mintIdentifier{} },
		OpCleanupFileMetadata:   func() Handler { return cleanupFileMetadata{} },
		OpDetachCollections:     func() Handler { return detachCollections{} },
		OpAppendToParent:        func() Handler { return appendToParent{} },
		OpPropagateChildState:   func() Handler { return propagateChildState{} },
		OpPropagateVisibility:   func() Handler { return propagateVisibility{} },
		OpIngestFiles:           func() Handler { return ingestFiles{} },
		OpEnqueueDerivatives:    func() Handler { return enqueueDerivatives{} },
		OpEnqueuePreservation:   func() Handler { return enqueuePreservation{} },
		OpCleanupFiles:          func() Handler { return cleanupFiles{} },
		OpPublishMessage:        func() Handler { return publishMessage{} },
		OpEnsureEmpty:           func() Handler { return ensureEmpty{} },
		OpCreateTombstone:       func() Handler { return createTombstone{} },
		OpCreateDeletionMarker:  func() Handler { return createDeletionMarker{} },
		OpCascadeDeleteRefs:     func() Handler { return cascadeDeleteReferences{} },
		OpDetachFromParents:     func() Handler { return detachFromParents{} },
		OpDeleteMembers:         func() Handler { return deleteMembers{} },
		OpCleanupDeletedFiles:   func() Handler { return cleanupDeletedFiles{} },
		OpPublishDeleted:        func() Handler { return publishDeleted{} },
	}
}

// DefaultPipelines returns the pipelines of the built-in record types.
func DefaultPipelines() map[domain.RecordType]Pipeline {
	resource := Pipeline{
		PreSave:    []OperationID{OpCacheParentID, OpApplyRemoteMetadata, OpApplyVisibilityByDate, OpMintIdentifier, OpDetachCollections},
		PostSave:   []OperationID{OpAppendToParent, OpIngestFiles, OpPropagateChildState, OpPropagateVisibility, OpEnqueuePreservation, OpPublishMessage},
		PreDelete:  []OperationID{OpCreateDeletionMarker},
		PostDelete: []OperationID{OpDetachFromParents, OpDeleteMembers, OpCascadeDeleteRefs, OpPublishDeleted},
	}
	plain := Pipeline{
		PostSave:   []OperationID{OpPublishMessage},
		PostDelete: []OperationID{OpPublishDeleted},
	}
	return map[domain.RecordType]Pipeline{
		TypeWork:      resource,
		TypeRecording: resource,
		TypeFolder: {
			PreSave:    []OperationID{OpCacheParentID, OpMintIdentifier},
			PostSave:   []OperationID{OpAppendToParent, OpPropagateChildState, OpPropagateVisibility, OpEnqueuePreservation, OpPublishMessage},
			PreDelete:  []OperationID{OpCreateDeletionMarker},
			PostDelete: []OperationID{OpDetachFromParents, OpDeleteMembers, OpCascadeDeleteRefs, OpPublishDeleted},
		},
		TypeFileSet: {
			PreSave:    []OperationID{OpCacheParentID, OpCleanupFileMetadata},
			PostSave:   []OperationID{OpAppendToParent, OpEnqueueDerivatives, OpCleanupFiles, OpPublishMessage},
			PreDelete:  []OperationID{OpCreateTombstone},
			PostDelete: []OperationID{OpDetachFromParents, OpCascadeDeleteRefs, OpCleanupDeletedFiles, OpPublishDeleted},
		},
		TypeCollection: {
			PostSave:   []OperationID{OpPublishMessage},
			PreDelete:  []OperationID{OpCreateDeletionMarker},
			PostDelete: []OperationID{OpCascadeDeleteRefs, OpPublishDeleted},
		},
		TypeVocabulary: {
			PreSave:    []OperationID{OpCacheParentID},
			PostSave:   []OperationID{OpAppendToParent, OpPublishMessage},
			PreDelete:  []OperationID{OpEnsureEmpty},
			PostDelete: []OperationID{OpDetachFromParents, OpCascadeDeleteRefs, OpPublishDeleted},
		},
		TypeTerm: {
			PreSave:    []OperationID{OpCacheParentID},
			PostSave:   []OperationID{OpAppendToParent, OpPublishMessage},
			PostDelete: []OperationID{OpDetachFromParents, OpCascadeDeleteRefs, OpPublishDeleted},
		},
		TypePreservationObject: plain,
		TypeTombstone:          plain,
		TypeDeletionMarker:     plain,
	}
}

type namedHandler struct {
	id      OperationID
	handler Handler
}

type resolvedPipeline struct {
	preSave, postSave, preDelete, postDelete []namedHandler
}

// PipelineSet holds pipelines resolved to handler instances.
type PipelineSet struct {
	byType map[domain.RecordType]resolvedPipeline
}

// Types returns the record types with a pipeline, sorted.
func (s *PipelineSet) Types() []domain.RecordType {
	out := make([]domain.RecordType, 0, len(s.byType))
	for t := range s.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *PipelineSet) lookup(t domain.RecordType) resolvedPipeline {
	if s == nil {
		return resolvedPipeline{}
	}
	return s.byType[t]
}

// BuildPipelines resolves every pipeline against catalog. An id missing from
// the catalog yields *HandlerNotFoundError.
func BuildPipelines(catalog Catalog, pipelines map[domain.RecordType]Pipeline) (*PipelineSet, error) {
	out := make(map[domain.RecordType]resolvedPipeline, len(pipelines))
	types := make([]domain.RecordType, 0, len(pipelines))
	for t := range pipelines {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		p := pipelines[t]
		var rp resolvedPipeline
		var err error
		if rp.preSave, err = resolve(catalog, t, p.PreSave); err != nil {
			return nil, err
		}
		if rp.postSave, err = resolve(catalog, t, p.PostSave); err != nil {
			return nil, err
		}
		if rp.preDelete, err = resolve(catalog, t, p.PreDelete); err != nil {
			return nil, err
		}
		if rp.postDelete, err = resolve(catalog, t, p.PostDelete); err != nil {
			return nil, err
		}
		out[t] = rp
	}
	return &PipelineSet{byType: out}, nil
}

func resolve(catalog Catalog, t domain.RecordType, ids []OperationID) ([]namedHandler, error) {
	out := make([]namedHandler, 0, len(ids))
	for _, id := range ids {
		ctor, ok := catalog[id]
		if !ok {
			return nil, &HandlerNotFoundError{Type: t, Operation: id}
		}
		out = append(out, namedHandler{id: id, handler: ctor()})
	}
	return out, nil
}
