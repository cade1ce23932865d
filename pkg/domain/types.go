package domain

import (
	"fmt"
	"sort"
	"sync"
)

// AttributeDefinition declares one attribute of a record type.
type AttributeDefinition struct {
	Name     string
	Required bool
	Single   bool
	// RefTypes lists the record types an id value may point at; empty means literal-only.
	RefTypes []RecordType
}

// References reports whether the attribute may hold ids of type t.
func (a AttributeDefinition) References(t RecordType) bool {
	for _, rt := range a.RefTypes {
		if rt == t {
			return true
		}
	}
	return false
}

// TypeDefinition describes a record type. Optional behaviour is expressed by the
// capability interfaces below; callers check for them with a type assertion.
type TypeDefinition interface {
	Type() RecordType
	Attributes() []AttributeDefinition
}

// ThumbnailBearer types keep a representative-thumbnail pointer.
type ThumbnailBearer interface {
	TypeDefinition
	ThumbnailAttribute() string
}

// StateBearer types carry a workflow state.
type StateBearer interface {
	TypeDefinition
	StateAttribute() string
	States() []string
	// TranslateState maps a parent's state onto this type's vocabulary.
	TranslateState(parentState string) (string, bool)
	// PublishEligible reports whether state makes the record publicly citable.
	PublishEligible(state string) bool
}

// MemberContainer types accept children through member_ids.
type MemberContainer interface {
	TypeDefinition
	AcceptsMember(child RecordType) bool
}

// VisibilityBearer types carry an access-visibility attribute that parents propagate.
type VisibilityBearer interface {
	TypeDefinition
	VisibilityAttribute() string
}

// LegalState reports whether state is one of def's states.
func LegalState(def StateBearer, state string) bool {
	for _, s := range def.States() {
		if s == state {
			return true
		}
	}
	return false
}

// AttributeRef names one attribute of one type.
type AttributeRef struct {
	Type      RecordType
	Attribute string
}

// TypeRegistry holds the record types known to a process. It is built at start
// up and handed to the services that need it.
type TypeRegistry struct {
	mu   sync.RWMutex
	defs map[RecordType]TypeDefinition
}

// NewTypeRegistry registers defs and fails on duplicates.
func NewTypeRegistry(defs ...TypeDefinition) (*TypeRegistry, error) {
	r := &TypeRegistry{defs: make(map[RecordType]TypeDefinition)}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a type definition.
func (r *TypeRegistry) Register(def TypeDefinition) error {
	if def == nil || def.Type() == "" {
		return fmt.Errorf("type definition requires a type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Type()]; exists {
		return fmt.Errorf("record type %s already registered", def.Type())
	}
	r.defs[def.Type()] = def
	return nil
}

// Lookup returns the definition for t.
func (r *TypeRegistry) Lookup(t RecordType) (TypeDefinition, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[t]
	return def, ok
}

// Types returns registered types in sorted order.
func (r *TypeRegistry) Types() []RecordType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordType, 0, len(r.defs))
	for t := range r.defs {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ReferencingAttributes lists every (type, attribute) pair whose values may point at target.
func (r *TypeRegistry) ReferencingAttributes(target RecordType) []AttributeRef {
	var out []AttributeRef
	for _, t := range r.Types() {
		def, _ := r.Lookup(t)
		for _, attr := range def.Attributes() {
			if attr.References(target) {
				out = append(out, AttributeRef{Type: t, Attribute: attr.Name})
			}
		}
	}
	return out
}
