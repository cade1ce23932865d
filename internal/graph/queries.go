package graph

import (
	"archivecore/pkg/domain"
	"context"
)

// Built-in query names.
const (
	QueryFindByProperty        = "find_by_property"
	QueryFindParents           = "find_parents"
	QueryFindInverseReferences = "find_inverse_references"
	QueryCountDeepMembers      = "count_deep_members"
	QueryFindDeepMembersOfType = "find_deep_members_of_type"
	QueryFindOrphanedMembers   = "find_orphaned_members"
)

// DefaultQueries returns the built-in query set.
func DefaultQueries() []Query {
	return []Query{
		propertyQuery{},
		inverseQuery{},
		deepQuery{},
		orphanQuery{},
	}
}

// propertyQuery finds records of a type whose property holds a value.
// Params: type, property, value.
type propertyQuery struct{}

func (propertyQuery) Names() []string { return []string{QueryFindByProperty} }

func (propertyQuery) Run(ctx context.Context, e *Engine, name string, p Params) (Result, error) {
	if err := required(name, p, "type", "property", "value"); err != nil {
		return Result{}, err
	}
	recs, err := e.FindAllOfType(ctx, domain.RecordType(p["type"]))
	if err != nil {
		return Result{}, err
	}
	var out []domain.Record
	for _, rec := range recs {
		for _, v := range rec.Strings(p["property"]) {
			if v == p["value"] {
				out = append(out, rec)
				break
			}
		}
	}
	return Result{Records: out, Count: len(out)}, nil
}

// inverseQuery provides find_parents (param id) and find_inverse_references
// (params id, property).
type inverseQuery struct{}

func (inverseQuery) Names() []string {
	return []string{QueryFindParents, QueryFindInverseReferences}
}

func (inverseQuery) Run(ctx context.Context, e *Engine, name string, p Params) (Result, error) {
	property := domain.AttrMemberIDs
	if name == QueryFindInverseReferences {
		if err := required(name, p, "id", "property"); err != nil {
			return Result{}, err
		}
		property = p["property"]
	} else if err := required(name, p, "id"); err != nil {
		return Result{}, err
	}
	target := domain.Record{ID: domain.ID(p["id"])}
	recs, err := e.InverseReferences(ctx, target, property)
	if err != nil {
		return Result{}, err
	}
	return Result{Records: recs, Count: len(recs)}, nil
}

// deepQuery provides count_deep_members (params id, optional type) and
// find_deep_members_of_type (params id, type).
type deepQuery struct{}

func (deepQuery) Names() []string {
	return []string{QueryCountDeepMembers, QueryFindDeepMembersOfType}
}

func (deepQuery) Run(ctx context.Context, e *Engine, name string, p Params) (Result, error) {
	keys := []string{"id"}
	if name == QueryFindDeepMembersOfType {
		keys = append(keys, "type")
	}
	if err := required(name, p, keys...); err != nil {
		return Result{}, err
	}
	root, err := e.Find(ctx, domain.ID(p["id"]))
	if err != nil {
		return Result{}, err
	}
	var pred Predicate
	if t := p["type"]; t != "" {
		pred = OfType(domain.RecordType(t))
	}
	if name == QueryCountDeepMembers {
		n, err := e.DeepCount(ctx, root, pred)
		return Result{Count: n}, err
	}
	members, err := e.DeepMembers(ctx, root)
	if err != nil {
		return Result{}, err
	}
	var out []domain.Record
	for _, m := range members {
		if pred.match(m) {
			out = append(out, m)
		}
	}
	return Result{Records: out, Count: len(out)}, nil
}

// orphanQuery lists member ids of a record that no longer resolve. Param: id.
type orphanQuery struct{}

func (orphanQuery) Names() []string { return []string{QueryFindOrphanedMembers} }

func (orphanQuery) Run(ctx context.Context, e *Engine, name string, p Params) (Result, error) {
	if err := required(name, p, "id"); err != nil {
		return Result{}, err
	}
	root, err := e.Find(ctx, domain.ID(p["id"]))
	if err != nil {
		return Result{}, err
	}
	members, err := e.Members(ctx, root)
	if err != nil {
		return Result{}, err
	}
	resolved := make(map[domain.ID]struct{}, len(members))
	for _, m := range members {
		resolved[m.ID] = struct{}{}
	}
	var missing []domain.ID
	for _, id := range root.MemberIDs {
		if _, ok := resolved[id]; !ok {
			missing = append(missing, id)
		}
	}
	return Result{IDs: missing, Count: len(missing)}, nil
}
