package core

import (
	"context"
	"sort"
	"strconv"

	"archivecore/pkg/domain"
)

// Rights statements applied by the imported-date rule.
const (
	RightsNoKnownCopyright = "No Known Copyright"
	RightsInCopyright      = "In Copyright"
)

type cacheParentID struct{}

func (cacheParentID) Run(ctx context.Context, hc *HandlerContext) error {
	target, ok := hc.ChangeSet.(domain.AppendTarget)
	if !ok {
		return nil
	}
	parentID, ok := target.AppendID()
	if !ok {
		return nil
	}
	if _, err := hc.Persister.adapter.FindByID(ctx, parentID); err != nil {
		return ignoreMissing(err)
	}
	hc.ChangeSet.Set(domain.AttrCachedParentID, domain.Ref(parentID))
	return nil
}

type applyRemoteMetadata struct{}

func (applyRemoteMetadata) Run(ctx context.Context, hc *HandlerContext) error {
	p, cs := hc.Persister, hc.ChangeSet
	refresh := false
	if r, ok := cs.(domain.MetadataRefresher); ok {
		refresh = r.RefreshRemoteMetadata()
	}
	if !cs.Changed(AttrSourceMetadataID) && !refresh {
		return nil
	}
	source := firstString(cs.Get(AttrSourceMetadataID))
	if source == "" || p.opts.fetcher == nil {
		return nil
	}
	fields, err := p.opts.fetcher.Fetch(ctx, source)
	if err != nil {
		p.opts.logger.Warn("remote metadata unavailable", "source", source, "error", err)
		return nil
	}
	governed := governedAttributes(p.opts.types, cs.Resource().Type)
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if domain.IsReserved(key) || key == AttrSourceMetadataID {
			continue
		}
		if governed[key] {
			p.opts.logger.Debug("remote field ignored", "source", source, "field", key)
			continue
		}
		cs.Set(key, domain.Literals(fields[key]...)...)
	}
	return nil
}

// governedAttributes lists the workflow and access attributes of t. They are
// driven by the persister, never by remote catalog data.
func governedAttributes(types *domain.TypeRegistry, t domain.RecordType) map[string]bool {
	out := map[string]bool{}
	def, ok := types.Lookup(t)
	if !ok {
		return out
	}
	if sb, ok := def.(domain.StateBearer); ok {
		out[sb.StateAttribute()] = true
	}
	if vb, ok := def.(domain.VisibilityBearer); ok {
		out[vb.VisibilityAttribute()] = true
	}
	return out
}

type applyVisibilityByDate struct{}

func (applyVisibilityByDate) Run(_ context.Context, hc *HandlerContext) error {
	cs := hc.ChangeSet
	if !cs.Changed(AttrImportedDate) || cs.Changed(domain.AttrVisibility) {
		return nil
	}
	year, ok := leadingYear(firstString(cs.Get(AttrImportedDate)))
	if !ok {
		return nil
	}
	if year < hc.Persister.opts.dateThreshold {
		cs.Set(domain.AttrVisibility, domain.Literal(VisibilityOpen))
		cs.Set(AttrRightsStatement, domain.Literal(RightsNoKnownCopyright))
		return nil
	}
	cs.Set(domain.AttrVisibility, domain.Literal(VisibilityReadingRoom))
	cs.Set(AttrRightsStatement, domain.Literal(RightsInCopyright))
	return nil
}

type mintIdentifier struct{}

func (mintIdentifier) Run(ctx context.Context, hc *HandlerContext) error {
	p, cs := hc.Persister, hc.ChangeSet
	if p.opts.minter == nil {
		return nil
	}
	def, ok := p.opts.types.Lookup(cs.Resource().Type)
	if !ok {
		return nil
	}
	sb, ok := def.(domain.StateBearer)
	if !ok || !sb.PublishEligible(firstString(cs.Get(sb.StateAttribute()))) {
		return nil
	}
	draft := cs.Sync()
	existing := firstString(cs.Get(domain.AttrIdentifier))
	if existing == "" {
		id, err := p.opts.minter.Mint(ctx, draft)
		if err != nil {
			p.opts.logger.Warn("identifier minting failed", "record_id", draft.ID, "error", err)
			return nil
		}
		cs.Set(domain.AttrIdentifier, domain.Literal(id))
		return nil
	}
	if cs.Changed(domain.AttrTitle) {
		if err := p.opts.minter.Update(ctx, existing, draft); err != nil {
			p.opts.logger.Warn("identifier update failed", "identifier", existing, "error", err)
		}
	}
	return nil
}

type cleanupFileMetadata struct{}

func (cleanupFileMetadata) Run(_ context.Context, hc *HandlerContext) error {
	cs := hc.ChangeSet
	if !cs.Changed(domain.AttrFileIdentifiers) {
		return nil
	}
	tracker, ok := cs.(domain.OrphanTracker)
	if !ok {
		return nil
	}
	current := make(map[string]bool)
	for _, id := range domain.StringsOf(cs.Get(domain.AttrFileIdentifiers)) {
		current[id] = true
	}
	resource := cs.Resource()
	var removed []string
	for _, old := range resource.Strings(domain.AttrFileIdentifiers) {
		if !current[old] {
			removed = append(removed, old)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	tracker.RecordOrphanedFiles(removed...)
	// Derivatives and fixity results describe the old content.
	tracker.RecordOrphanedFiles(resource.Strings(AttrDerivativeIDs)...)
	cs.Set(AttrDerivativeIDs)
	cs.Set(AttrFixityStatus)
	cs.Set(AttrFixityCheckedAt)
	return nil
}

type detachCollections struct{}

func (detachCollections) Run(_ context.Context, hc *HandlerContext) error {
	d, ok := hc.ChangeSet.(domain.CollectionDetacher)
	if !ok {
		return nil
	}
	drop := make(map[domain.ID]bool)
	for _, id := range d.DetachCollectionIDs() {
		drop[id] = true
	}
	if len(drop) == 0 {
		return nil
	}
	current := hc.ChangeSet.Get(domain.AttrMemberOfCollectionIDs)
	kept := make([]domain.Value, 0, len(current))
	for _, v := range current {
		if v.IsRef() && drop[v.ID()] {
			continue
		}
		kept = append(kept, v)
	}
	if len(kept) != len(current) {
		hc.ChangeSet.Set(domain.AttrMemberOfCollectionIDs, kept...)
	}
	return nil
}

func firstString(vals []domain.Value) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0].String()
}

// leadingYear parses the four-digit year an imported date starts with.
func leadingYear(s string) (int, bool) {
	if len(s) < 4 {
		return 0, false
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil {
		return 0, false
	}
	return year, true
}
