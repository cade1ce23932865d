package graph

import (
	"archivecore/pkg/domain"
	"context"
	"errors"
	"testing"
)

type nameOnly struct{ names []string }

func (n nameOnly) Names() []string { return n.names }
func (nameOnly) Run(context.Context, *Engine, string, Params) (Result, error) {
	return Result{Count: 42}, nil
}

func TestRegistryRejectsDuplicatesAndUnknown(t *testing.T) {
	e, _ := newEngine()
	reg := NewDefaultRegistry(e)
	if err := reg.Register(nameOnly{names: []string{"custom", QueryFindParents}}); err == nil {
		t.Fatalf("expected duplicate name error")
	}
	if _, err := reg.Run(context.Background(), "custom", nil); err == nil {
		t.Fatalf("partial registration must not happen")
	}
	var notFound *QueryNotFoundError
	if _, err := reg.Run(context.Background(), "nope", nil); !errors.As(err, &notFound) {
		t.Fatalf("expected QueryNotFoundError, got %v", err)
	}
	if err := reg.Register(nameOnly{}); err == nil {
		t.Fatalf("expected error for nameless query")
	}
	if err := reg.Register(nameOnly{names: []string{"custom"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := reg.Run(context.Background(), "custom", nil)
	if err != nil || res.Count != 42 {
		t.Fatalf("expected custom result, got %+v %v", res, err)
	}
	if len(reg.Names()) != 7 {
		t.Fatalf("expected 7 names, got %v", reg.Names())
	}
}

func TestBuiltInQueries(t *testing.T) {
	ctx := context.Background()
	folder := node("F", "folder", "w1", "gone")
	folder.Set("genre", domain.Ref("T"))
	folder.Set(domain.AttrTitle, domain.Literal("Letters"))
	w1 := node("w1", "work", "fs1")
	fs1 := node("fs1", "file_set")
	term := node("T", "term")
	e, _ := newEngine(folder, w1, fs1, term)
	reg := NewDefaultRegistry(e)

	res, err := reg.Run(ctx, QueryFindByProperty, Params{"type": "folder", "property": domain.AttrTitle, "value": "Letters"})
	if err != nil || len(res.Records) != 1 || res.Records[0].ID != "F" {
		t.Fatalf("find_by_property: %+v %v", res, err)
	}
	res, err = reg.Run(ctx, QueryFindParents, Params{"id": "w1"})
	if err != nil || res.Count != 1 || res.Records[0].ID != "F" {
		t.Fatalf("find_parents: %+v %v", res, err)
	}
	res, err = reg.Run(ctx, QueryFindInverseReferences, Params{"id": "T", "property": "genre"})
	if err != nil || res.Count != 1 {
		t.Fatalf("find_inverse_references: %+v %v", res, err)
	}
	res, err = reg.Run(ctx, QueryCountDeepMembers, Params{"id": "F"})
	if err != nil || res.Count != 2 {
		t.Fatalf("count_deep_members: %+v %v", res, err)
	}
	res, err = reg.Run(ctx, QueryFindDeepMembersOfType, Params{"id": "F", "type": "file_set"})
	if err != nil || len(res.Records) != 1 || res.Records[0].ID != "fs1" {
		t.Fatalf("find_deep_members_of_type: %+v %v", res, err)
	}
	res, err = reg.Run(ctx, QueryFindOrphanedMembers, Params{"id": "F"})
	if err != nil || len(res.IDs) != 1 || res.IDs[0] != "gone" {
		t.Fatalf("find_orphaned_members: %+v %v", res, err)
	}
	var missing *MissingParamError
	if _, err := reg.Run(ctx, QueryFindDeepMembersOfType, Params{"id": "F"}); !errors.As(err, &missing) || missing.Param != "type" {
		t.Fatalf("expected missing type param, got %v", err)
	}
	if _, err := reg.Run(ctx, QueryCountDeepMembers, Params{"id": "absent"}); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
