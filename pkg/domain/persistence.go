package domain

import (
	"context"
	"time"
)

// Adapter is the document store contract. Save and Delete are compare-and-swap
// operations keyed by the record's id and lock token.
type Adapter interface {
	// FindByID returns a *NotFoundError when id does not resolve.
	FindByID(ctx context.Context, id ID) (Record, error)
	// FindManyByIDs resolves ids in order and silently drops those that do not resolve.
	FindManyByIDs(ctx context.Context, ids []ID) ([]Record, error)
	FindAllOfType(ctx context.Context, t RecordType) ([]Record, error)
	// FindInverseReferences returns records whose property contains a reference to id.
	FindInverseReferences(ctx context.Context, id ID, property string) ([]Record, error)
	// Save writes rec when rec.LockToken matches the stored token (zero for new
	// records) and returns the stored copy with its new token.
	Save(ctx context.Context, rec Record) (Record, error)
	// Delete removes rec when its lock token is current.
	Delete(ctx context.Context, rec Record) error
}

// Index is the secondary (search) index.
type Index interface {
	Upsert(ctx context.Context, rec Record) error
	UpsertBatch(ctx context.Context, recs []Record) error
	Delete(ctx context.Context, rec Record) error
}

// JobQueue dispatches asynchronous work. Delivery is at-least-once and unordered.
type JobQueue interface {
	Enqueue(ctx context.Context, name string, args map[string]string) error
}

// EventType names a change notification.
type EventType string

// Change notifications published by the persister.
const (
	EventRecordCreated       EventType = "record_created"
	EventRecordUpdated       EventType = "record_updated"
	EventRecordDeleted       EventType = "record_deleted"
	EventRecordMemberUpdated EventType = "record_member_updated"
)

// Event is a change notification about one record.
type Event struct {
	Type       EventType
	RecordID   ID
	RecordType RecordType
	Record     Record
	At         time.Time
}

// EventBus publishes change notifications.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
}
