package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"archivecore/internal/changeset"
	"archivecore/internal/graph"
	"archivecore/pkg/domain"
)

// Persister drives saves and deletes through their handler pipelines against
// an optimistically locked adapter.
type Persister struct {
	adapter   domain.Adapter
	engine    *graph.Engine
	opts      *persisterOptions
	pipelines *PipelineSet
	buffer    *indexBuffer
}

// NewPersister resolves the configured pipelines and returns a persister.
func NewPersister(adapter domain.Adapter, opts ...Option) (*Persister, error) {
	if adapter == nil {
		return nil, fmt.Errorf("persister requires an adapter")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.types == nil {
		o.types = NewBuiltinTypeRegistry()
	}
	if o.catalog == nil {
		o.catalog = DefaultCatalog()
	}
	if o.pipelines == nil {
		o.pipelines = DefaultPipelines()
	}
	pipelines, err := BuildPipelines(o.catalog, o.pipelines)
	if err != nil {
		return nil, err
	}
	return &Persister{
		adapter:   adapter,
		engine:    graph.NewEngine(adapter),
		opts:      &o,
		pipelines: pipelines,
	}, nil
}

// Adapter returns the underlying document store.
func (p *Persister) Adapter() domain.Adapter { return p.adapter }

// Engine returns the graph query engine over the document store.
func (p *Persister) Engine() *graph.Engine { return p.engine }

// Types returns the record type registry.
func (p *Persister) Types() *domain.TypeRegistry { return p.opts.types }

// Drafts returns a changeset factory that gives works and recordings the work
// draft and file sets the file set draft.
func (p *Persister) Drafts() changeset.Factory {
	return changeset.Factory{
		Types:        p.opts.types,
		WorkTypes:    map[domain.RecordType]bool{TypeWork: true, TypeRecording: true},
		FileSetTypes: map[domain.RecordType]bool{TypeFileSet: true},
	}
}

// Save validates cs, runs the pre-save handlers, writes the record, updates
// the index and runs the post-save handlers. When a post-save handler fails
// the persisted record is returned together with the error.
func (p *Persister) Save(ctx context.Context, cs domain.ChangeSet) (domain.Record, error) {
	if cs == nil {
		return domain.Record{}, fmt.Errorf("save requires a change set")
	}
	resource := cs.Resource()
	var out domain.Record
	err := p.observe(ctx, AuditActionSave, resource, func(ctx context.Context) (domain.ID, error) {
		rec, err := p.save(ctx, cs)
		out = rec
		return rec.ID, err
	})
	return out, err
}

func (p *Persister) save(ctx context.Context, cs domain.ChangeSet) (domain.Record, error) {
	resource := cs.Resource()
	if !cs.Valid() {
		return domain.Record{}, &domain.ValidationError{Type: resource.Type, Fields: cs.Errors()}
	}
	pipeline := p.pipelines.lookup(resource.Type)
	hc := &HandlerContext{Persister: p, ChangeSet: cs, Created: !resource.Persisted()}
	if err := p.runHandlers(ctx, "pre-save", pipeline.preSave, hc); err != nil {
		return domain.Record{}, err
	}
	if len(pipeline.preSave) > 0 && !cs.Validate(nil) {
		return domain.Record{}, &domain.ValidationError{Type: resource.Type, Fields: cs.Errors()}
	}
	saved, err := p.adapter.Save(ctx, cs.Sync())
	if err != nil {
		return domain.Record{}, fmt.Errorf("save %s %s: %w", resource.Type, resource.ID, err)
	}
	p.indexUpsert(ctx, saved)
	hc.Persisted = &saved
	if err := p.runHandlers(ctx, "post-save", pipeline.postSave, hc); err != nil {
		return hc.result(), err
	}
	return hc.result(), nil
}

// SaveAll saves each change set in order and stops at the first error,
// returning the records saved before it.
func (p *Persister) SaveAll(ctx context.Context, css []domain.ChangeSet) ([]domain.Record, error) {
	out := make([]domain.Record, 0, len(css))
	for i, cs := range css {
		rec, err := p.Save(ctx, cs)
		if err != nil {
			return out, fmt.Errorf("save_all item %d: %w", i, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Delete checks the lock token, runs the pre-delete guards, removes the record under its lock token,
// drops it from the index and runs the post-delete handlers.
func (p *Persister) Delete(ctx context.Context, cs domain.ChangeSet) error {
	if cs == nil {
		return fmt.Errorf("delete requires a change set")
	}
	resource := cs.Resource()
	return p.observe(ctx, AuditActionDelete, resource, func(ctx context.Context) (domain.ID, error) {
		return resource.ID, p.delete(ctx, cs)
	})
}

func (p *Persister) delete(ctx context.Context, cs domain.ChangeSet) error {
	resource := cs.Resource()
	pipeline := p.pipelines.lookup(resource.Type)
	hc := &HandlerContext{Persister: p, ChangeSet: cs}
	stored, err := p.adapter.FindByID(ctx, resource.ID)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", resource.Type, resource.ID, err)
	}
	if stored.LockToken != resource.LockToken {
		return &domain.PersistenceConflict{ID: resource.ID, Expected: resource.LockToken, Actual: stored.LockToken}
	}
	if err := p.runHandlers(ctx, "pre-delete", pipeline.preDelete, hc); err != nil {
		return err
	}
	if err := p.adapter.Delete(ctx, resource); err != nil {
		return fmt.Errorf("delete %s %s: %w", resource.Type, resource.ID, err)
	}
	p.indexDelete(ctx, resource)
	hc.Persisted = &resource
	return p.runHandlers(ctx, "post-delete", pipeline.postDelete, hc)
}

// WithBufferedIndex runs fn with a persister whose index writes, including
// those of cascaded saves and deletes, are held back and flushed as one batch
// when fn returns. The flush happens even when fn fails. Nested calls join
// the outermost buffer.
func (p *Persister) WithBufferedIndex(ctx context.Context, fn func(*Persister) error) error {
	if p.buffer != nil {
		return fn(p)
	}
	child := *p
	child.buffer = newIndexBuffer()
	runErr := fn(&child)
	flushErr := child.buffer.flush(ctx, p.opts.index)
	if flushErr != nil {
		p.opts.logger.Error("buffered index flush failed", "error", flushErr)
	}
	return errors.Join(runErr, flushErr)
}

func (p *Persister) runHandlers(ctx context.Context, phase string, handlers []namedHandler, hc *HandlerContext) error {
	for _, h := range handlers {
		if err := h.handler.Run(ctx, hc); err != nil {
			rec := hc.ChangeSet.Resource()
			p.opts.logger.Warn("handler failed", "phase", phase, "handler", h.id, "record_id", rec.ID, "record_type", rec.Type, "error", err)
			return fmt.Errorf("%s %s: %w", phase, h.id, err)
		}
	}
	return nil
}

func (p *Persister) observe(ctx context.Context, action AuditAction, rec domain.Record, fn func(context.Context) (domain.ID, error)) error {
	op := string(action) + "_" + string(rec.Type)
	ctx, span := p.opts.tracer.Start(ctx, op)
	started := time.Now()
	id, err := fn(ctx)
	duration := time.Since(started)
	span.End(err)
	p.opts.metrics.Observe(ctx, op, err == nil, duration)
	if id == "" {
		id = rec.ID
	}
	entry := AuditEntry{
		Operation:  op,
		Action:     action,
		RecordType: rec.Type,
		RecordID:   id,
		Status:     AuditStatusSuccess,
		Duration:   duration,
		Timestamp:  p.opts.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		p.opts.logger.Debug("operation failed", "operation", op, "record_id", id, "error", err)
	} else {
		p.opts.logger.Debug("operation completed", "operation", op, "record_id", id, "duration", duration)
	}
	p.opts.audit.Record(ctx, entry)
	return err
}

func (p *Persister) indexUpsert(ctx context.Context, rec domain.Record) {
	if p.buffer != nil {
		p.buffer.upsert(rec)
		return
	}
	if p.opts.index == nil {
		return
	}
	if err := p.opts.index.Upsert(ctx, rec); err != nil {
		p.opts.logger.Error("index upsert failed", "record_id", rec.ID, "error", err)
	}
}

func (p *Persister) indexDelete(ctx context.Context, rec domain.Record) {
	if p.buffer != nil {
		p.buffer.delete(rec)
		return
	}
	if p.opts.index == nil {
		return
	}
	if err := p.opts.index.Delete(ctx, rec); err != nil {
		p.opts.logger.Error("index delete failed", "record_id", rec.ID, "error", err)
	}
}

func (p *Persister) publish(ctx context.Context, t domain.EventType, rec domain.Record) {
	if p.opts.events == nil {
		return
	}
	event := domain.Event{Type: t, RecordID: rec.ID, RecordType: rec.Type, Record: rec.Clone(), At: p.opts.clock.Now()}
	if err := p.opts.events.Publish(ctx, event); err != nil {
		p.opts.logger.Warn("publish failed", "event", t, "record_id", rec.ID, "error", err)
	}
}

func (p *Persister) enqueue(ctx context.Context, name string, args map[string]string) {
	if p.opts.jobs == nil {
		return
	}
	if err := p.opts.jobs.Enqueue(ctx, name, args); err != nil {
		p.opts.logger.Warn("enqueue failed", "job", name, "error", err)
	}
}

// indexBuffer collects index writes for WithBufferedIndex. The last write of
// a record wins and deleted records leave the upsert batch.
type indexBuffer struct {
	mu       sync.Mutex
	order    []domain.ID
	saved    map[domain.ID]domain.Record
	deleted  map[domain.ID]domain.Record
	delOrder []domain.ID
}

func newIndexBuffer() *indexBuffer {
	return &indexBuffer{
		saved:   make(map[domain.ID]domain.Record),
		deleted: make(map[domain.ID]domain.Record),
	}
}

func (b *indexBuffer) upsert(rec domain.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.saved[rec.ID]; !ok {
		b.order = append(b.order, rec.ID)
	}
	b.saved[rec.ID] = rec.Clone()
	delete(b.deleted, rec.ID)
}

func (b *indexBuffer) delete(rec domain.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.saved, rec.ID)
	if _, ok := b.deleted[rec.ID]; !ok {
		b.delOrder = append(b.delOrder, rec.ID)
	}
	b.deleted[rec.ID] = rec.Clone()
}

func (b *indexBuffer) flush(ctx context.Context, idx domain.Index) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx == nil {
		return nil
	}
	batch := make([]domain.Record, 0, len(b.saved))
	for _, id := range b.order {
		if rec, ok := b.saved[id]; ok {
			batch = append(batch, rec)
		}
	}
	var errs []error
	if len(batch) > 0 {
		if err := idx.UpsertBatch(ctx, batch); err != nil {
			errs = append(errs, fmt.Errorf("index upsert batch: %w", err))
		}
	}
	for _, id := range b.delOrder {
		if rec, ok := b.deleted[id]; ok {
			if err := idx.Delete(ctx, rec); err != nil {
				errs = append(errs, fmt.Errorf("index delete %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}
