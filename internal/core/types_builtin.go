package core

import "archivecore/pkg/domain"

// Built-in record types.
const (
	TypeWork               domain.RecordType = "work"
	TypeRecording          domain.RecordType = "recording"
	TypeFileSet            domain.RecordType = "file_set"
	TypeCollection         domain.RecordType = "collection"
	TypeVocabulary         domain.RecordType = "vocabulary"
	TypeTerm               domain.RecordType = "term"
	TypeFolder             domain.RecordType = "folder"
	TypePreservationObject domain.RecordType = "preservation_object"
	TypeTombstone          domain.RecordType = "tombstone"
	TypeDeletionMarker     domain.RecordType = "deletion_marker"
)

// Attribute names used by the built-in types and handlers.
const (
	AttrSourceMetadataID     = "source_metadata_identifier"
	AttrImportedDate         = "imported_date"
	AttrRightsStatement      = "rights_statement"
	AttrOriginalFilename     = "original_filename"
	AttrMimeType             = "mime_type"
	AttrSize                 = "size"
	AttrLabel                = "label"
	AttrURI                  = "uri"
	AttrGenre                = "genre"
	AttrSubject              = "subject"
	AttrLanguage             = "language"
	AttrMemberOfVocabularyID = "member_of_vocabulary_id"
	AttrPreservedObjectID    = "preserved_object_id"
	AttrBinaryFileIDs        = "binary_file_identifiers"
	AttrPreservedAt          = "preserved_at"
	AttrFileSetID            = "file_set_id"
	AttrParentID             = "parent_id"
	AttrPreservationObjectID = "preservation_object_id"
	AttrDeletedObjectID      = "deleted_object_id"
	AttrDeletedObjectType    = "deleted_object_type"
	AttrDeletedObjectTitle   = "deleted_object_title"
	AttrDeletedIdentifier    = "deleted_object_original_identifier"
	AttrDerivativeIDs        = "derivative_identifiers"
	AttrFixityStatus         = "fixity_status"
	AttrFixityCheckedAt      = "fixity_checked_at"
)

// Workflow states.
const (
	StatePending        = "pending"
	StateMetadataReview = "metadata_review"
	StateFinalReview    = "final_review"
	StateComplete       = "complete"
	StateTakedown       = "takedown"
	StateFlagged        = "flagged"
	StateNeedsQA        = "needs_qa"
)

// Visibility values.
const (
	VisibilityOpen        = "open"
	VisibilityReadingRoom = "reading_room"
	VisibilityPrivate     = "restricted"
)

type baseType struct {
	name  domain.RecordType
	attrs []domain.AttributeDefinition
}

func (b baseType) Type() domain.RecordType { return b.name }

func (b baseType) Attributes() []domain.AttributeDefinition {
	return append([]domain.AttributeDefinition(nil), b.attrs...)
}

func single(name string, refs ...domain.RecordType) domain.AttributeDefinition {
	return domain.AttributeDefinition{Name: name, Single: true, RefTypes: refs}
}

func many(name string, refs ...domain.RecordType) domain.AttributeDefinition {
	return domain.AttributeDefinition{Name: name, RefTypes: refs}
}

// resourceType covers works and recordings: workflow-driven, visible,
// thumbnail-bearing containers.
type resourceType struct {
	baseType
	children map[domain.RecordType]bool
}

var workflowStates = []string{StatePending, StateMetadataReview, StateFinalReview, StateComplete, StateTakedown, StateFlagged}

func (resourceType) ThumbnailAttribute() string  { return domain.AttrThumbnailID }
func (resourceType) VisibilityAttribute() string { return domain.AttrVisibility }
func (resourceType) StateAttribute() string      { return domain.AttrState }
func (resourceType) States() []string            { return append([]string(nil), workflowStates...) }

// TranslateState keeps the parent's state for nested resources.
func (resourceType) TranslateState(parent string) (string, bool) { return parent, parent != "" }

func (resourceType) PublishEligible(state string) bool { return state == StateComplete }

func (r resourceType) AcceptsMember(child domain.RecordType) bool { return r.children[child] }

func newResourceType(name domain.RecordType, children ...domain.RecordType) resourceType {
	accepts := make(map[domain.RecordType]bool, len(children))
	for _, c := range children {
		accepts[c] = true
	}
	return resourceType{
		baseType: baseType{name: name, attrs: []domain.AttributeDefinition{
			many(domain.AttrTitle),
			single(AttrSourceMetadataID),
			single(AttrImportedDate),
			single(domain.AttrVisibility),
			single(AttrRightsStatement),
			single(domain.AttrState),
			single(domain.AttrIdentifier),
			single(domain.AttrThumbnailID, TypeFileSet, TypeWork, TypeRecording),
			many(domain.AttrMemberOfCollectionIDs, TypeCollection),
			single(domain.AttrCachedParentID, TypeWork),
		}},
		children: accepts,
	}
}

// folderType is an ephemera folder: described with vocabulary terms and
// moving through a QA workflow.
type folderType struct{ baseType }

var folderStates = []string{StateNeedsQA, StateComplete}

func (folderType) ThumbnailAttribute() string                 { return domain.AttrThumbnailID }
func (folderType) VisibilityAttribute() string                { return domain.AttrVisibility }
func (folderType) StateAttribute() string                     { return domain.AttrState }
func (folderType) States() []string                           { return append([]string(nil), folderStates...) }
func (folderType) PublishEligible(state string) bool          { return state == StateComplete }
func (folderType) AcceptsMember(child domain.RecordType) bool { return child == TypeFileSet }

// TranslateState maps a containing resource's workflow onto the folder QA
// workflow: complete stays complete, takedown and review states need QA.
func (folderType) TranslateState(parent string) (string, bool) {
	switch parent {
	case StateComplete:
		return StateComplete, true
	case StatePending, StateMetadataReview, StateFinalReview, StateTakedown, StateFlagged:
		return StateNeedsQA, true
	}
	return "", false
}

type collectionType struct{ baseType }

func (collectionType) ThumbnailAttribute() string { return domain.AttrThumbnailID }

type vocabularyType struct{ baseType }

func (vocabularyType) AcceptsMember(child domain.RecordType) bool {
	return child == TypeTerm || child == TypeVocabulary
}

// BuiltinTypes returns the record type definitions shipped with archivecore.
func BuiltinTypes() []domain.TypeDefinition {
	return []domain.TypeDefinition{
		newResourceType(TypeWork, TypeWork, TypeFileSet, TypeFolder),
		newResourceType(TypeRecording, TypeFileSet),
		baseType{name: TypeFileSet, attrs: []domain.AttributeDefinition{
			many(domain.AttrTitle),
			many(domain.AttrFileIdentifiers),
			single(AttrOriginalFilename),
			single(AttrMimeType),
			single(AttrSize),
			many(AttrDerivativeIDs),
			single(AttrFixityStatus),
			single(AttrFixityCheckedAt),
			single(domain.AttrCachedParentID, TypeWork, TypeRecording, TypeFolder),
		}},
		collectionType{baseType{name: TypeCollection, attrs: []domain.AttributeDefinition{
			{Name: domain.AttrTitle, Required: true},
			single(domain.AttrVisibility),
			single(domain.AttrThumbnailID, TypeWork, TypeFileSet),
		}}},
		vocabularyType{baseType{name: TypeVocabulary, attrs: []domain.AttributeDefinition{
			{Name: AttrLabel, Required: true, Single: true},
			single(domain.AttrCachedParentID, TypeVocabulary),
		}}},
		baseType{name: TypeTerm, attrs: []domain.AttributeDefinition{
			{Name: AttrLabel, Required: true, Single: true},
			single(AttrURI),
			single(AttrMemberOfVocabularyID, TypeVocabulary),
			single(domain.AttrCachedParentID, TypeVocabulary),
		}},
		folderType{baseType{name: TypeFolder, attrs: []domain.AttributeDefinition{
			many(domain.AttrTitle),
			many(AttrGenre, TypeTerm),
			many(AttrSubject, TypeTerm),
			many(AttrLanguage, TypeTerm),
			single(domain.AttrState),
			single(domain.AttrVisibility),
			single(domain.AttrIdentifier),
			single(domain.AttrThumbnailID, TypeFileSet),
			many(domain.AttrMemberOfCollectionIDs, TypeCollection),
			single(domain.AttrCachedParentID, TypeWork),
		}}},
		baseType{name: TypePreservationObject, attrs: []domain.AttributeDefinition{
			{Name: AttrPreservedObjectID, Single: true, RefTypes: []domain.RecordType{TypeWork, TypeRecording, TypeFileSet, TypeFolder, TypeCollection}},
			many(AttrBinaryFileIDs),
			single(AttrPreservedAt),
		}},
		baseType{name: TypeTombstone, attrs: []domain.AttributeDefinition{
			{Name: AttrFileSetID, Required: true, Single: true},
			many(domain.AttrTitle),
			single(AttrOriginalFilename),
			single(AttrParentID),
			single(AttrPreservationObjectID),
		}},
		baseType{name: TypeDeletionMarker, attrs: []domain.AttributeDefinition{
			{Name: AttrDeletedObjectID, Required: true, Single: true},
			single(AttrDeletedObjectType),
			many(AttrDeletedObjectTitle),
			single(AttrDeletedIdentifier),
			single(AttrPreservationObjectID),
		}},
	}
}

// NewBuiltinTypeRegistry returns a registry holding BuiltinTypes.
func NewBuiltinTypeRegistry() *domain.TypeRegistry {
	reg, err := domain.NewTypeRegistry(BuiltinTypes()...)
	if err != nil {
		panic(err)
	}
	return reg
}

var (
	_ domain.ThumbnailBearer  = resourceType{}
	_ domain.StateBearer      = resourceType{}
	_ domain.MemberContainer  = resourceType{}
	_ domain.VisibilityBearer = resourceType{}
	_ domain.StateBearer      = folderType{}
	_ domain.MemberContainer  = folderType{}
	_ domain.ThumbnailBearer  = collectionType{}
	_ domain.MemberContainer  = vocabularyType{}
)
