package core

import (
	"context"
	"fmt"

	"archivecore/internal/changeset"
	"archivecore/pkg/domain"
)

type appendToParent struct{}

func (appendToParent) Run(ctx context.Context, hc *HandlerContext) error {
	target, ok := hc.ChangeSet.(domain.AppendTarget)
	if !ok {
		return nil
	}
	parentID, ok := target.AppendID()
	child := hc.result()
	if !ok || parentID == child.ID {
		return nil
	}
	p := hc.Persister
	parent, err := p.adapter.FindByID(ctx, parentID)
	if err != nil {
		return ignoreMissing(err)
	}
	def, _ := p.opts.types.Lookup(parent.Type)
	container, ok := def.(domain.MemberContainer)
	if !ok || !container.AcceptsMember(child.Type) {
		p.opts.logger.Warn("parent does not accept member", "parent_id", parentID, "parent_type", parent.Type, "child_type", child.Type)
		return nil
	}

	priors, err := p.engine.Parents(ctx, child)
	if err != nil {
		return err
	}
	for _, prior := range priors {
		if prior.ID == parentID {
			continue
		}
		if err := p.detachChild(ctx, prior.ID, child.ID); err != nil {
			return err
		}
	}

	saved, touched, err := p.update(ctx, parentID, func(cs *changeset.ChangeSet, current domain.Record) bool {
		changed := false
		if !current.References(domain.AttrMemberIDs, child.ID) {
			cs.SetMemberIDs(append(current.IDs(domain.AttrMemberIDs), child.ID)...)
			changed = true
		}
		if tb, ok := def.(domain.ThumbnailBearer); ok && len(current.Get(tb.ThumbnailAttribute())) == 0 {
			cs.Set(tb.ThumbnailAttribute(), domain.Ref(child.ID))
			changed = true
		}
		return changed
	})
	if err != nil {
		return fmt.Errorf("attach %s to %s: %w", child.ID, parentID, err)
	}
	if touched {
		p.publish(ctx, domain.EventRecordMemberUpdated, saved)
	}
	return nil
}

// detachChild removes childID from parentID's members and clears a thumbnail
// pointing at it.
func (p *Persister) detachChild(ctx context.Context, parentID, childID domain.ID) error {
	saved, touched, err := p.update(ctx, parentID, func(cs *changeset.ChangeSet, current domain.Record) bool {
		changed := false
		if current.References(domain.AttrMemberIDs, childID) {
			cs.SetMemberIDs(without(current.MemberIDs, childID)...)
			changed = true
		}
		def, _ := p.opts.types.Lookup(current.Type)
		if tb, ok := def.(domain.ThumbnailBearer); ok && current.References(tb.ThumbnailAttribute(), childID) {
			cs.Set(tb.ThumbnailAttribute())
			changed = true
		}
		return changed
	})
	if err != nil {
		return fmt.Errorf("detach %s from %s: %w", childID, parentID, err)
	}
	if touched {
		p.publish(ctx, domain.EventRecordMemberUpdated, saved)
	}
	return nil
}

type propagateChildState struct{}

func (propagateChildState) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	rec := hc.result()
	def, _ := p.opts.types.Lookup(rec.Type)
	sb, ok := def.(domain.StateBearer)
	if !ok || !hc.ChangeSet.Changed(sb.StateAttribute()) {
		return nil
	}
	state := rec.First(sb.StateAttribute())
	if state == "" {
		return nil
	}
	members, err := p.engine.Members(ctx, rec)
	if err != nil {
		return err
	}
	for _, member := range members {
		childDef, _ := p.opts.types.Lookup(member.Type)
		childSB, ok := childDef.(domain.StateBearer)
		if !ok {
			continue
		}
		mapped, ok := childSB.TranslateState(state)
		if !ok || !domain.LegalState(childSB, mapped) || member.First(childSB.StateAttribute()) == mapped {
			continue
		}
		_, _, err := p.update(ctx, member.ID, func(cs *changeset.ChangeSet, current domain.Record) bool {
			if current.First(childSB.StateAttribute()) == mapped {
				return false
			}
			cs.Set(childSB.StateAttribute(), domain.Literal(mapped))
			return true
		})
		if err != nil {
			return fmt.Errorf("propagate state to %s: %w", member.ID, err)
		}
	}
	return nil
}

type propagateVisibility struct{}

func (propagateVisibility) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	rec := hc.result()
	def, _ := p.opts.types.Lookup(rec.Type)
	vb, ok := def.(domain.VisibilityBearer)
	if !ok || !hc.ChangeSet.Changed(vb.VisibilityAttribute()) {
		return nil
	}
	visibility := rec.Get(vb.VisibilityAttribute())
	members, err := p.engine.Members(ctx, rec)
	if err != nil {
		return err
	}
	for _, member := range members {
		childDef, _ := p.opts.types.Lookup(member.Type)
		childVB, ok := childDef.(domain.VisibilityBearer)
		if !ok || domain.ValuesEqual(member.Get(childVB.VisibilityAttribute()), visibility) {
			continue
		}
		_, _, err := p.update(ctx, member.ID, func(cs *changeset.ChangeSet, current domain.Record) bool {
			if domain.ValuesEqual(current.Get(childVB.VisibilityAttribute()), visibility) {
				return false
			}
			cs.Set(childVB.VisibilityAttribute(), visibility...)
			return true
		})
		if err != nil {
			return fmt.Errorf("propagate visibility to %s: %w", member.ID, err)
		}
	}
	return nil
}

type ingestFiles struct{}

func (ingestFiles) Run(ctx context.Context, hc *HandlerContext) error {
	uploads, ok := hc.ChangeSet.(domain.PendingUploads)
	if !ok {
		return nil
	}
	files := uploads.PendingFiles()
	if len(files) == 0 {
		return nil
	}
	p := hc.Persister
	parent := hc.result()
	for _, f := range files {
		attrs := map[string][]domain.Value{
			domain.AttrFileIdentifiers: domain.Literals(f.FileID),
		}
		if f.Filename != "" {
			attrs[domain.AttrTitle] = domain.Literals(f.Filename)
			attrs[AttrOriginalFilename] = domain.Literals(f.Filename)
		}
		if f.MimeType != "" {
			attrs[AttrMimeType] = domain.Literals(f.MimeType)
		}
		if f.Size > 0 {
			attrs[AttrSize] = []domain.Value{domain.Literal(f.Size)}
		}
		fcs := changeset.NewFileSet(domain.NewRecord(TypeFileSet), parent.ID, changeset.WithTypes(p.opts.types))
		fcs.Validate(attrs)
		if _, err := p.Save(ctx, fcs); err != nil {
			return fmt.Errorf("ingest %s: %w", f.FileID, err)
		}
	}
	reloaded, err := p.adapter.FindByID(ctx, parent.ID)
	if err != nil {
		return ignoreMissing(err)
	}
	hc.Replace(reloaded)
	return nil
}

type enqueueDerivatives struct{}

func (enqueueDerivatives) Run(ctx context.Context, hc *HandlerContext) error {
	rec := hc.result()
	if rec.Type != TypeFileSet || !hc.ChangeSet.Changed(domain.AttrFileIdentifiers) {
		return nil
	}
	if len(rec.Strings(domain.AttrFileIdentifiers)) == 0 {
		return nil
	}
	args := map[string]string{"file_set_id": rec.ID.String()}
	hc.Persister.enqueue(ctx, JobCreateDerivatives, args)
	hc.Persister.enqueue(ctx, JobCheckFixity, args)
	return nil
}

type enqueuePreservation struct{}

func (enqueuePreservation) Run(ctx context.Context, hc *HandlerContext) error {
	p := hc.Persister
	rec := hc.result()
	def, _ := p.opts.types.Lookup(rec.Type)
	sb, ok := def.(domain.StateBearer)
	if !ok || !sb.PublishEligible(rec.First(sb.StateAttribute())) {
		return nil
	}
	p.enqueue(ctx, JobPreserveResource, map[string]string{"id": rec.ID.String()})
	return nil
}

type cleanupFiles struct{}

func (cleanupFiles) Run(ctx context.Context, hc *HandlerContext) error {
	tracker, ok := hc.ChangeSet.(domain.OrphanTracker)
	if !ok {
		return nil
	}
	for _, id := range tracker.OrphanedFiles() {
		hc.Persister.enqueue(ctx, JobCleanupFiles, map[string]string{"file_id": id})
	}
	return nil
}

type publishMessage struct{}

func (publishMessage) Run(ctx context.Context, hc *HandlerContext) error {
	t := domain.EventRecordUpdated
	if hc.Created {
		t = domain.EventRecordCreated
	}
	hc.Persister.publish(ctx, t, hc.result())
	return nil
}
