package core

import (
	"context"
	"fmt"

	"archivecore/internal/changeset"
	"archivecore/pkg/domain"
)

type ensureEmpty struct{}

func (ensureEmpty) Run(ctx context.Context, hc *HandlerContext) error {
	resource := hc.ChangeSet.Resource()
	members, err := hc.Persister.engine.Members(ctx, resource)
	if err != nil {
		return err
	}
	if len(members) > 0 {
		return &domain.DeleteBlockedError{ID: resource.ID, Reason: fmt.Sprintf("still has %d members", len(members))}
	}
	return nil
}

type createTombstone struct{}

func (createTombstone) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	resource := hc.ChangeSet.Resource()
	if resource.Type != TypeFileSet || !resource.Persisted() {
		return nil
	}
	if done, err := p.hasMarker(ctx, TypeTombstone, AttrFileSetID, resource.ID); err != nil || done {
		return err
	}
	attrs := map[string][]domain.Value{
		AttrFileSetID:        domain.Refs(resource.ID),
		domain.AttrTitle:     domain.Literals(resource.Strings(domain.AttrTitle)...),
		AttrOriginalFilename: domain.Literals(resource.Strings(AttrOriginalFilename)...),
	}
	parents, err := p.engine.Parents(ctx, resource)
	if err != nil {
		return err
	}
	if len(parents) > 0 {
		attrs[AttrParentID] = domain.Literals(parents[0].ID.String())
	}
	if id, ok, err := p.PreservationObjectFor(ctx, resource.ID); err != nil {
		return err
	} else if ok {
		attrs[AttrPreservationObjectID] = domain.Literals(id.String())
	}
	return p.saveNew(ctx, TypeTombstone, attrs)
}

type createDeletionMarker struct{}

func (createDeletionMarker) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	resource := hc.ChangeSet.Resource()
	if !resource.Persisted() {
		return nil
	}
	if done, err := p.hasMarker(ctx, TypeDeletionMarker, AttrDeletedObjectID, resource.ID); err != nil || done {
		return err
	}
	attrs := map[string][]domain.Value{
		AttrDeletedObjectID:    domain.Refs(resource.ID),
		AttrDeletedObjectType:  domain.Literals(string(resource.Type)),
		AttrDeletedObjectTitle: domain.Literals(resource.Strings(domain.AttrTitle)...),
		AttrDeletedIdentifier:  domain.Literals(resource.Strings(domain.AttrIdentifier)...),
	}
	if id, ok, err := p.PreservationObjectFor(ctx, resource.ID); err != nil {
		return err
	} else if ok {
		attrs[AttrPreservationObjectID] = domain.Literals(id.String())
	}
	return p.saveNew(ctx, TypeDeletionMarker, attrs)
}

// hasMarker reports whether a record of type t already points at id through attr.
func (p *Persister) hasMarker(ctx context.Context, t domain.RecordType, attr string, id domain.ID) (bool, error) {
	recs, err := p.adapter.FindInverseReferences(ctx, id, attr)
	if err != nil {
		return false, err
	}
	for _, rec := range recs {
		if rec.Type == t {
			return true, nil
		}
	}
	return false, nil
}

func (p *Persister) saveNew(ctx context.Context, t domain.RecordType, attrs map[string][]domain.Value) error {
	cs := changeset.New(domain.NewRecord(t), changeset.WithTypes(p.opts.types))
	cs.Validate(attrs)
	if _, err := p.Save(ctx, cs); err != nil {
		return fmt.Errorf("create %s: %w", t, err)
	}
	return nil
}

// PreservationObjectFor finds the preservation object recorded for id.
func (p *Persister) PreservationObjectFor(ctx context.Context, id domain.ID) (domain.ID, bool, error) {
	recs, err := p.adapter.FindInverseReferences(ctx, id, AttrPreservedObjectID)
	if err != nil {
		return "", false, err
	}
	for _, rec := range recs {
		if rec.Type == TypePreservationObject {
			return rec.ID, true, nil
		}
	}
	return "", false, nil
}

type cascadeDeleteReferences struct{}

func (cascadeDeleteReferences) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	deleted := *hc.Persisted
	for _, ref := range p.opts.types.ReferencingAttributes(deleted.Type) {
		referrers, err := p.adapter.FindInverseReferences(ctx, deleted.ID, ref.Attribute)
		if err != nil {
			return err
		}
		for _, rec := range referrers {
			if rec.Type != ref.Type {
				continue
			}
			attr := ref.Attribute
			_, _, err := p.update(ctx, rec.ID, func(cs *changeset.ChangeSet, current domain.Record) bool {
				if !current.References(attr, deleted.ID) {
					return false
				}
				cs.Set(attr, dropRef(current.Get(attr), deleted.ID)...)
				return true
			})
			if err != nil {
				return fmt.Errorf("remove %s from %s.%s: %w", deleted.ID, rec.ID, attr, err)
			}
		}
	}
	return nil
}

type detachFromParents struct{}

func (detachFromParents) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	deleted := *hc.Persisted
	parents, err := p.engine.Parents(ctx, deleted)
	if err != nil {
		return err
	}
	for _, parent := range parents {
		if err := p.detachChild(ctx, parent.ID, deleted.ID); err != nil {
			return err
		}
	}
	return nil
}

type deleteMembers struct{}

func (deleteMembers) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	for _, id := range hc.Persisted.MemberIDs {
		member, err := p.adapter.FindByID(ctx, id)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return err
		}
		parents, err := p.engine.Parents(ctx, member)
		if err != nil {
			return err
		}
		if len(parents) > 0 {
			continue
		}
		if err := p.deleteRecord(ctx, id); err != nil {
			p.opts.logger.Warn("member delete skipped", "member_id", id, "error", err)
		}
	}
	return nil
}

type cleanupDeletedFiles struct{}

func (cleanupDeletedFiles) Run(ctx context.Context, hc *HandlerContext) error {
	deleted := *hc.Persisted
	ids := append(deleted.Strings(domain.AttrFileIdentifiers), deleted.Strings(AttrDerivativeIDs)...)
	for _, id := range ids {
		hc.Persister.enqueue(ctx, JobCleanupFiles, map[string]string{"file_id": id})
	}
	return nil
}

type publishDeleted struct{}

func (publishDeleted) Run(ctx context.Context, hc *HandlerContext) error {
	hc.Persister.publish(ctx, domain.EventRecordDeleted, *hc.Persisted)
	return nil
}

func dropRef(vals []domain.Value, id domain.ID) []domain.Value {
	out := make([]domain.Value, 0, len(vals))
	for _, v := range vals {
		if v.IsRef() && v.ID() == id {
			continue
		}
		out = append(out, v)
	}
	return out
}
