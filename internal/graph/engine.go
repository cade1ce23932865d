// Package graph answers read-only questions about the record graph: member
// lookup, inverse references, transitive closure and fingerprints.
package graph

import (
	"archivecore/pkg/domain"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Store is the read side of the document store used by the engine.
type Store interface {
	FindByID(ctx context.Context, id domain.ID) (domain.Record, error)
	FindManyByIDs(ctx context.Context, ids []domain.ID) ([]domain.Record, error)
	FindAllOfType(ctx context.Context, t domain.RecordType) ([]domain.Record, error)
	FindInverseReferences(ctx context.Context, id domain.ID, property string) ([]domain.Record, error)
}

// Predicate filters records during traversal. A nil predicate matches everything.
type Predicate func(domain.Record) bool

// OfType matches records of any of the given types.
func OfType(types ...domain.RecordType) Predicate {
	return func(rec domain.Record) bool {
		for _, t := range types {
			if rec.Type == t {
				return true
			}
		}
		return false
	}
}

// IsLeaf matches records without members.
func IsLeaf(rec domain.Record) bool { return len(rec.MemberIDs) == 0 }

func (p Predicate) match(rec domain.Record) bool { return p == nil || p(rec) }

// Domain prefixes for fingerprints; the version allows a future algorithm change.
const (
	DomainFingerprint      = "archivecore/fingerprint/v1"
	DomainEmptyFingerprint = "archivecore/fingerprint-empty/v1"
)

// Engine runs graph queries against a store snapshot. Results are a best-effort
// view of a graph that may be edited concurrently.
type Engine struct {
	store Store
}

// NewEngine constructs an engine over store.
func NewEngine(store Store) *Engine {
	return &Engine{store: store}
}

// Find returns one record.
func (e *Engine) Find(ctx context.Context, id domain.ID) (domain.Record, error) {
	return e.store.FindByID(ctx, id)
}

// FindAllOfType returns every record of type t.
func (e *Engine) FindAllOfType(ctx context.Context, t domain.RecordType) ([]domain.Record, error) {
	return e.store.FindAllOfType(ctx, t)
}

// Members resolves rec's member_ids in order, dropping ids that no longer resolve.
func (e *Engine) Members(ctx context.Context, rec domain.Record) ([]domain.Record, error) {
	if len(rec.MemberIDs) == 0 {
		return nil, nil
	}
	members, err := e.store.FindManyByIDs(ctx, rec.MemberIDs)
	if err != nil {
		return nil, fmt.Errorf("members of %s: %w", rec.ID, err)
	}
	return members, nil
}

// InverseReferences returns every record whose property holds a reference to rec.
func (e *Engine) InverseReferences(ctx context.Context, rec domain.Record, property string) ([]domain.Record, error) {
	refs, err := e.store.FindInverseReferences(ctx, rec.ID, property)
	if err != nil {
		return nil, fmt.Errorf("inverse %s of %s: %w", property, rec.ID, err)
	}
	return refs, nil
}

// Parents returns the records listing rec in their member_ids.
func (e *Engine) Parents(ctx context.Context, rec domain.Record) ([]domain.Record, error) {
	return e.InverseReferences(ctx, rec, domain.AttrMemberIDs)
}

// DeepMembers returns the transitive closure of rec over member_ids, excluding
// rec itself, in breadth-first order. Each level is fetched with one
// FindManyByIDs call; the visited set guarantees termination on cycles.
func (e *Engine) DeepMembers(ctx context.Context, rec domain.Record) ([]domain.Record, error) {
	var out []domain.Record
	err := e.walk(ctx, rec, func(member domain.Record) {
		out = append(out, member)
	})
	return out, err
}

// DeepCount counts closure members matching pred.
func (e *Engine) DeepCount(ctx context.Context, rec domain.Record, pred Predicate) (int, error) {
	count := 0
	err := e.walk(ctx, rec, func(member domain.Record) {
		if pred.match(member) {
			count++
		}
	})
	return count, err
}

// DeepAggregate returns the ids of closure members matching pred, in traversal order.
func (e *Engine) DeepAggregate(ctx context.Context, rec domain.Record, pred Predicate) ([]domain.ID, error) {
	var ids []domain.ID
	err := e.walk(ctx, rec, func(member domain.Record) {
		if pred.match(member) {
			ids = append(ids, member.ID)
		}
	})
	return ids, err
}

// Fingerprint hashes the sorted, de-duplicated ids of the closure members that
// qualify. A nil pred selects leaves. When nothing qualifies the fingerprint
// falls back to EmptyFingerprint(rec.ID).
func (e *Engine) Fingerprint(ctx context.Context, rec domain.Record, pred Predicate) (string, error) {
	if pred == nil {
		pred = IsLeaf
	}
	ids, err := e.DeepAggregate(ctx, rec, pred)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return EmptyFingerprint(rec.ID), nil
	}
	return FingerprintIDs(ids), nil
}

// FingerprintIDs hashes an id set independently of its order.
func FingerprintIDs(ids []domain.ID) string {
	sorted := make([]string, 0, len(ids))
	seen := make(map[domain.ID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		sorted = append(sorted, string(id))
	}
	sort.Strings(sorted)
	h := sha256.New()
	h.Write([]byte(DomainFingerprint))
	for _, id := range sorted {
		h.Write([]byte{0x00})
		h.Write([]byte(id))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EmptyFingerprint is the fallback fingerprint for a record with no qualifying members.
func EmptyFingerprint(id domain.ID) string {
	h := sha256.New()
	h.Write([]byte(DomainEmptyFingerprint))
	h.Write([]byte{0x00})
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

func (e *Engine) walk(ctx context.Context, root domain.Record, visit func(domain.Record)) error {
	visited := map[domain.ID]struct{}{root.ID: {}}
	frontier := unvisited(root.MemberIDs, visited)
	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		level, err := e.store.FindManyByIDs(ctx, frontier)
		if err != nil {
			return fmt.Errorf("deep members of %s: %w", root.ID, err)
		}
		var next []domain.ID
		for _, member := range level {
			visit(member)
			next = append(next, unvisited(member.MemberIDs, visited)...)
		}
		frontier = next
	}
	return nil
}

// unvisited returns ids not yet seen and marks them visited.
func unvisited(ids []domain.ID, visited map[domain.ID]struct{}) []domain.ID {
	var out []domain.ID
	for _, id := range ids {
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
