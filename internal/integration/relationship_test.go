package integration

import (
	"context"
	"errors"
	"testing"

	"archivecore/internal/changeset"
	"archivecore/internal/core"
	"archivecore/internal/graph"
	"archivecore/pkg/domain"
)

type env struct {
	t *testing.T
	p *core.Persister
}

func (e env) save(typ domain.RecordType, parent domain.ID, attrs map[string][]domain.Value) domain.Record {
	e.t.Helper()
	cs := e.p.Drafts().For(domain.NewRecord(typ), changeset.WorkDirectives{AppendID: parent})
	if !cs.Validate(attrs) {
		e.t.Fatalf("invalid %s: %v", typ, cs.Errors())
	}
	rec, err := e.p.Save(context.Background(), cs)
	if err != nil {
		e.t.Fatalf("save %s: %v", typ, err)
	}
	return rec
}

func (e env) load(id domain.ID) domain.Record {
	e.t.Helper()
	rec, err := e.p.Adapter().FindByID(context.Background(), id)
	if err != nil {
		e.t.Fatalf("load %s: %v", id, err)
	}
	return rec
}

func titled(s string) map[string][]domain.Value {
	return map[string][]domain.Value{domain.AttrTitle: domain.Literals(s)}
}

// TestIntegrationRelationships checks membership, inverse edges and cascades
// against every storage backend.
func TestIntegrationRelationships(t *testing.T) {
	for _, sv := range storageVariants() {
		t.Run(sv.name, func(t *testing.T) {
			ctx := context.Background()
			p, err := core.NewPersister(sv.open(t))
			if err != nil {
				t.Fatalf("persister: %v", err)
			}
			e := env{t: t, p: p}
			engine := p.Engine()

			vocab := e.save(core.TypeVocabulary, "", map[string][]domain.Value{core.AttrLabel: domain.Literals("Subjects")})
			term := e.save(core.TypeTerm, vocab.ID, map[string][]domain.Value{core.AttrLabel: domain.Literals("Maps")})
			series := e.save(core.TypeWork, "", titled("Series"))
			volume := e.save(core.TypeWork, series.ID, titled("Volume"))
			other := e.save(core.TypeWork, "", titled("Other"))
			folder := e.save(core.TypeFolder, volume.ID, map[string][]domain.Value{
				domain.AttrTitle: domain.Literals("Folder"),
				core.AttrSubject: domain.Refs(term.ID),
			})

			n, err := engine.DeepCount(ctx, e.load(series.ID), nil)
			if err != nil || n != 2 {
				t.Fatalf("deep count of series: %d %v", n, err)
			}
			before, err := engine.Fingerprint(ctx, e.load(series.ID), nil)
			if err != nil {
				t.Fatalf("fingerprint: %v", err)
			}
			again, _ := engine.Fingerprint(ctx, e.load(series.ID), nil)
			if before != again {
				t.Fatalf("fingerprint must be stable")
			}

			// Moving the volume detaches it from the series.
			cs := p.Drafts().For(e.load(volume.ID), changeset.WorkDirectives{AppendID: other.ID})
			if !cs.Validate(nil) {
				t.Fatalf("invalid move: %v", cs.Errors())
			}
			if _, err := p.Save(ctx, cs); err != nil {
				t.Fatalf("move volume: %v", err)
			}
			if ids := e.load(series.ID).MemberIDs; len(ids) != 0 {
				t.Fatalf("series should have no members, got %v", ids)
			}
			parents, err := engine.Parents(ctx, e.load(volume.ID))
			if err != nil || len(parents) != 1 || parents[0].ID != other.ID {
				t.Fatalf("volume parents: %+v %v", parents, err)
			}
			after, _ := engine.Fingerprint(ctx, e.load(series.ID), nil)
			if after != graph.EmptyFingerprint(series.ID) {
				t.Fatalf("empty series should have the empty fingerprint")
			}

			refs, err := engine.InverseReferences(ctx, e.load(term.ID), core.AttrSubject)
			if err != nil || len(refs) != 1 || refs[0].ID != folder.ID {
				t.Fatalf("inverse references: %+v %v", refs, err)
			}
			if err := p.Delete(ctx, changeset.New(e.load(vocab.ID), changeset.WithTypes(p.Types()))); !errors.Is(err, domain.ErrDeleteBlocked) {
				t.Fatalf("non-empty vocabulary delete must be blocked, got %v", err)
			}
			if err := p.Delete(ctx, changeset.New(e.load(term.ID), changeset.WithTypes(p.Types()))); err != nil {
				t.Fatalf("delete term: %v", err)
			}
			if got := e.load(folder.ID).Get(core.AttrSubject); len(got) != 0 {
				t.Fatalf("subject should be cleared, got %v", got)
			}
			if err := p.Delete(ctx, changeset.New(e.load(vocab.ID), changeset.WithTypes(p.Types()))); err != nil {
				t.Fatalf("delete empty vocabulary: %v", err)
			}
		})
	}
}
