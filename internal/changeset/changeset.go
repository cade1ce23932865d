// Package changeset implements the validated, dirty-tracked drafts that the
// persister consumes.
package changeset

import (
	"archivecore/pkg/domain"
	"sort"
)

// Option customises a change set.
type Option func(*ChangeSet)

// WithTypes validates against the given type registry.
func WithTypes(reg *domain.TypeRegistry) Option {
	return func(c *ChangeSet) { c.types = reg }
}

// ChangeSet is the base draft: staged values, dirty tracking and validation.
type ChangeSet struct {
	resource  domain.Record
	staged    map[string][]domain.Value
	changed   map[string]bool
	types     *domain.TypeRegistry
	errors    []domain.FieldError
	validated bool
}

var _ domain.ChangeSet = (*ChangeSet)(nil)

// New builds a draft over rec.
func New(rec domain.Record, opts ...Option) *ChangeSet {
	c := &ChangeSet{
		resource: rec.Clone(),
		staged:   make(map[string][]domain.Value),
		changed:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resource returns a copy of the record as loaded.
func (c *ChangeSet) Resource() domain.Record { return c.resource.Clone() }

// Get returns the staged value for attr, falling back to the resource.
func (c *ChangeSet) Get(attr string) []domain.Value {
	if vals, ok := c.staged[attr]; ok {
		return append([]domain.Value(nil), vals...)
	}
	return c.resource.Get(attr)
}

// Set stages values for attr. The attribute counts as changed when the staged
// list differs from the resource's.
func (c *ChangeSet) Set(attr string, values ...domain.Value) {
	c.staged[attr] = append([]domain.Value(nil), values...)
	c.changed[attr] = !domain.ValuesEqual(c.resource.Get(attr), values)
}

// SetMemberIDs stages a new member list.
func (c *ChangeSet) SetMemberIDs(ids ...domain.ID) {
	c.Set(domain.AttrMemberIDs, domain.Refs(ids...)...)
}

// Changed reports whether attr differs from the loaded resource.
func (c *ChangeSet) Changed(attr string) bool { return c.changed[attr] }

// ChangedAttributes lists changed attributes in sorted order.
func (c *ChangeSet) ChangedAttributes() []string {
	out := make([]string, 0, len(c.changed))
	for attr, changed := range c.changed {
		if changed {
			out = append(out, attr)
		}
	}
	sort.Strings(out)
	return out
}

// Validate stages attrs and checks the draft.
func (c *ChangeSet) Validate(attrs map[string][]domain.Value) bool {
	c.errors = nil
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if domain.IsReserved(name) && name != domain.AttrMemberIDs {
			c.errors = append(c.errors, domain.FieldError{Field: name, Message: "is reserved"})
			continue
		}
		c.Set(name, attrs[name]...)
	}
	c.errors = append(c.errors, c.check()...)
	c.validated = true
	return len(c.errors) == 0
}

// Valid reports whether the draft passed validation, validating it first if needed.
func (c *ChangeSet) Valid() bool {
	if !c.validated {
		return c.Validate(nil)
	}
	return len(c.errors) == 0
}

// Errors returns a copy of the validation errors.
func (c *ChangeSet) Errors() []domain.FieldError {
	return append([]domain.FieldError(nil), c.errors...)
}

// Sync returns the resource with staged values applied.
func (c *ChangeSet) Sync() domain.Record {
	out := c.resource.Clone()
	for attr, vals := range c.staged {
		out.Set(attr, vals...)
	}
	return out
}

func (c *ChangeSet) check() []domain.FieldError {
	var errs []domain.FieldError
	if c.resource.Type == "" {
		return append(errs, domain.FieldError{Field: domain.AttrType, Message: "is required"})
	}
	if c.types == nil {
		return errs
	}
	def, ok := c.types.Lookup(c.resource.Type)
	if !ok {
		return append(errs, domain.FieldError{Field: domain.AttrType, Message: "is not a registered record type"})
	}
	for _, attr := range def.Attributes() {
		vals := c.Get(attr.Name)
		if attr.Required && len(vals) == 0 {
			errs = append(errs, domain.FieldError{Field: attr.Name, Message: "is required"})
		}
		if attr.Single && len(vals) > 1 {
			errs = append(errs, domain.FieldError{Field: attr.Name, Message: "accepts a single value"})
		}
	}
	if sb, ok := def.(domain.StateBearer); ok {
		for _, state := range domain.StringsOf(c.Get(sb.StateAttribute())) {
			if !domain.LegalState(sb, state) {
				errs = append(errs, domain.FieldError{Field: sb.StateAttribute(), Message: "has illegal state " + state})
			}
		}
	}
	return errs
}
