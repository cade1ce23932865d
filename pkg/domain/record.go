// Package domain defines the persistent record model, change-set contract,
// type registry and collaborator interfaces used by archivecore.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"time"
)

// RecordType identifies the kind of record held in the document store.
type RecordType string

// ID is the stable, opaque identifier of a record.
type ID string

// String returns the id as a plain string.
func (id ID) String() string { return string(id) }

// LockToken is an opaque version marker. The zero token marks a record that has
// never been persisted; every successful write yields a different token.
type LockToken uint64

// Next returns the token that follows t.
func (t LockToken) Next() LockToken { return t + 1 }

// Reserved and commonly shared attribute names.
const (
	AttrID                    = "id"
	AttrType                  = "type"
	AttrMemberIDs             = "member_ids"
	AttrCreatedAt             = "created_at"
	AttrUpdatedAt             = "updated_at"
	AttrLockToken             = "lock_token"
	AttrTitle                 = "title"
	AttrThumbnailID           = "thumbnail_id"
	AttrVisibility            = "visibility"
	AttrState                 = "state"
	AttrIdentifier            = "identifier"
	AttrMemberOfCollectionIDs = "member_of_collection_ids"
	AttrCachedParentID        = "cached_parent_id"
	AttrFileIdentifiers       = "file_identifiers"
)

var reservedKeys = map[string]struct{}{
	AttrID:        {},
	AttrType:      {},
	AttrMemberIDs: {},
	AttrCreatedAt: {},
	AttrUpdatedAt: {},
	AttrLockToken: {},
}

// IsReserved reports whether name is a reserved key of the persisted representation.
func IsReserved(name string) bool {
	_, ok := reservedKeys[name]
	return ok
}

// Value is a single attribute entry: either an id reference or a scalar literal.
type Value struct {
	ref     ID
	literal any
}

// Ref builds a reference value pointing at id.
func Ref(id ID) Value { return Value{ref: id} }

// Literal builds a scalar value. Integer kinds are normalised to float64 so that
// values compare equal after a JSON round trip.
func Literal(v any) Value {
	switch n := v.(type) {
	case int:
		return Value{literal: float64(n)}
	case int32:
		return Value{literal: float64(n)}
	case int64:
		return Value{literal: float64(n)}
	case uint64:
		return Value{literal: float64(n)}
	case float32:
		return Value{literal: float64(n)}
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return Value{literal: f}
		}
		return Value{literal: n.String()}
	}
	return Value{literal: v}
}

// Refs converts ids into reference values.
func Refs(ids ...ID) []Value {
	out := make([]Value, 0, len(ids))
	for _, id := range ids {
		out = append(out, Ref(id))
	}
	return out
}

// Literals converts strings into literal values.
func Literals(items ...string) []Value {
	out := make([]Value, 0, len(items))
	for _, s := range items {
		out = append(out, Literal(s))
	}
	return out
}

// IsRef reports whether the value is an id reference.
func (v Value) IsRef() bool { return v.ref != "" }

// ID returns the referenced id or "" for literals.
func (v Value) ID() ID { return v.ref }

// Raw returns the literal payload (nil for references).
func (v Value) Raw() any { return v.literal }

// String renders the value as text; references render as their id.
func (v Value) String() string {
	if v.IsRef() {
		return string(v.ref)
	}
	switch l := v.literal.(type) {
	case nil:
		return ""
	case string:
		return l
	case float64:
		return strconv.FormatFloat(l, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(l)
	default:
		return fmt.Sprint(l)
	}
}

// Equal reports whether two values carry the same reference or literal.
func (v Value) Equal(other Value) bool {
	if v.IsRef() || other.IsRef() {
		return v.ref == other.ref
	}
	return reflect.DeepEqual(v.literal, other.literal)
}

// MarshalJSON encodes references as {"id": ...} and literals as themselves.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsRef() {
		return json.Marshal(map[string]string{"id": string(v.ref)})
	}
	return json.Marshal(v.literal)
}

// UnmarshalJSON decodes either shape.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var ref struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return err
		}
		if ref.ID == "" {
			return fmt.Errorf("reference value missing id")
		}
		*v = Ref(ID(ref.ID))
		return nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = Literal(raw)
	return nil
}

// Record is a typed, schema-flexible document in the store.
type Record struct {
	ID         ID
	Type       RecordType
	MemberIDs  []ID
	Attributes map[string][]Value
	CreatedAt  time.Time
	UpdatedAt  time.Time
	LockToken  LockToken
}

// NewRecord returns an unsaved record of the given type.
func NewRecord(t RecordType) Record {
	return Record{Type: t, Attributes: map[string][]Value{}}
}

// Persisted reports whether the record has been written at least once.
func (r Record) Persisted() bool { return r.LockToken != 0 }

// Clone returns a deep copy.
func (r Record) Clone() Record {
	cp := r
	cp.MemberIDs = append([]ID(nil), r.MemberIDs...)
	cp.Attributes = make(map[string][]Value, len(r.Attributes))
	for k, v := range r.Attributes {
		cp.Attributes[k] = append([]Value(nil), v...)
	}
	return cp
}

// Get returns a copy of the values stored under name. member_ids is exposed as references.
func (r Record) Get(name string) []Value {
	if name == AttrMemberIDs {
		return Refs(r.MemberIDs...)
	}
	return append([]Value(nil), r.Attributes[name]...)
}

// Set replaces the values under name; an empty list removes the attribute.
func (r *Record) Set(name string, values ...Value) {
	if name == AttrMemberIDs {
		r.MemberIDs = IDsOf(values)
		return
	}
	if r.Attributes == nil {
		r.Attributes = map[string][]Value{}
	}
	if len(values) == 0 {
		delete(r.Attributes, name)
		return
	}
	r.Attributes[name] = append([]Value(nil), values...)
}

// IDs returns the referenced ids under name, skipping literals.
func (r Record) IDs(name string) []ID {
	if name == AttrMemberIDs {
		return append([]ID(nil), r.MemberIDs...)
	}
	return IDsOf(r.Attributes[name])
}

// Strings renders every value under name as text.
func (r Record) Strings(name string) []string {
	return StringsOf(r.Get(name))
}

// First returns the first value under name rendered as text, or "".
func (r Record) First(name string) string {
	vals := r.Get(name)
	if len(vals) == 0 {
		return ""
	}
	return vals[0].String()
}

// References reports whether name holds a reference to id.
func (r Record) References(name string, id ID) bool {
	for _, ref := range r.IDs(name) {
		if ref == id {
			return true
		}
	}
	return false
}

// RemoveReference drops every reference to id from name and reports whether anything changed.
func (r *Record) RemoveReference(name string, id ID) bool {
	vals := r.Get(name)
	kept := vals[:0]
	removed := false
	for _, v := range vals {
		if v.IsRef() && v.ID() == id {
			removed = true
			continue
		}
		kept = append(kept, v)
	}
	if removed {
		r.Set(name, kept...)
	}
	return removed
}

// AttributeNames returns attribute keys in sorted order.
func (r Record) AttributeNames() []string {
	names := make([]string, 0, len(r.Attributes))
	for k := range r.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// IDsOf extracts referenced ids from values.
func IDsOf(values []Value) []ID {
	out := make([]ID, 0, len(values))
	for _, v := range values {
		if v.IsRef() {
			out = append(out, v.ID())
		}
	}
	return out
}

// StringsOf renders values as text.
func StringsOf(values []Value) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.String())
	}
	return out
}

// ValuesEqual compares two value lists element by element.
func ValuesEqual(a, b []Value) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the persisted representation: reserved keys plus one
// array per attribute.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Attributes)+6)
	for k, v := range r.Attributes {
		if IsReserved(k) || len(v) == 0 {
			continue
		}
		out[k] = v
	}
	out[AttrID] = r.ID
	out[AttrType] = r.Type
	members := Refs(r.MemberIDs...)
	out[AttrMemberIDs] = members
	out[AttrLockToken] = r.LockToken
	if !r.CreatedAt.IsZero() {
		out[AttrCreatedAt] = r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		out[AttrUpdatedAt] = r.UpdatedAt
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the persisted representation. Scalar attribute values are
// accepted and wrapped into single-element lists.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	rec := Record{Attributes: map[string][]Value{}}
	for key, msg := range raw {
		var err error
		switch key {
		case AttrID:
			err = json.Unmarshal(msg, &rec.ID)
		case AttrType:
			err = json.Unmarshal(msg, &rec.Type)
		case AttrLockToken:
			err = json.Unmarshal(msg, &rec.LockToken)
		case AttrCreatedAt:
			err = json.Unmarshal(msg, &rec.CreatedAt)
		case AttrUpdatedAt:
			err = json.Unmarshal(msg, &rec.UpdatedAt)
		case AttrMemberIDs:
			var vals []Value
			if vals, err = decodeValues(msg); err == nil {
				rec.MemberIDs = IDsOf(vals)
			}
		default:
			var vals []Value
			if vals, err = decodeValues(msg); err == nil && len(vals) > 0 {
				rec.Attributes[key] = vals
			}
		}
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
	}
	*r = rec
	return nil
}

func decodeValues(msg json.RawMessage) ([]Value, error) {
	trimmed := bytes.TrimSpace(msg)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var vals []Value
		if err := json.Unmarshal(trimmed, &vals); err != nil {
			return nil, err
		}
		return vals, nil
	}
	var single Value
	if err := json.Unmarshal(trimmed, &single); err != nil {
		return nil, err
	}
	return []Value{single}, nil
}
