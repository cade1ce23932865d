package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestRecordJSONUsesPersistedShape(t *testing.T) {
	rec := NewRecord("folder")
	rec.ID = "f1"
	rec.MemberIDs = []ID{"a", "b"}
	rec.LockToken = 3
	rec.CreatedAt = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	rec.Set("genre", Ref("t1"), Ref("t2"))
	rec.Set(AttrTitle, Literal("Maps"))
	rec.Set("pages", Literal(12))

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	members, ok := raw["member_ids"].([]any)
	if !ok || len(members) != 2 {
		t.Fatalf("expected member_ids array, got %v", raw["member_ids"])
	}
	if first, _ := members[0].(map[string]any); first["id"] != "a" {
		t.Fatalf("expected {id: a}, got %v", members[0])
	}
	if raw["type"] != "folder" || raw["id"] != "f1" {
		t.Fatalf("unexpected reserved keys: %v", raw)
	}

	var back Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.LockToken != 3 || back.ID != "f1" || back.Type != "folder" {
		t.Fatalf("reserved fields lost: %+v", back)
	}
	if !back.References("genre", "t2") {
		t.Fatalf("expected genre reference to survive")
	}
	if got := back.First("pages"); got != "12" {
		t.Fatalf("expected numeric literal 12, got %q", got)
	}
	if !ValuesEqual(back.Get("pages"), rec.Get("pages")) {
		t.Fatalf("numeric literal should compare equal after round trip")
	}
	if !back.CreatedAt.Equal(rec.CreatedAt) {
		t.Fatalf("created_at lost")
	}
}

func TestRecordUnmarshalWrapsScalars(t *testing.T) {
	var rec Record
	if err := json.Unmarshal([]byte(`{"id":"x","type":"work","title":"Atlas","member_ids":[{"id":"c"}]}`), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.First(AttrTitle) != "Atlas" {
		t.Fatalf("expected scalar wrapped into list")
	}
	if len(rec.MemberIDs) != 1 || rec.MemberIDs[0] != "c" {
		t.Fatalf("unexpected members %v", rec.MemberIDs)
	}
	if err := json.Unmarshal([]byte(`{"genre":[{"name":"x"}]}`), &rec); err == nil {
		t.Fatalf("expected error for reference without id")
	}
}

func TestRecordCloneAndReferenceHelpers(t *testing.T) {
	rec := NewRecord("work")
	rec.MemberIDs = []ID{"a"}
	rec.Set(AttrMemberOfCollectionIDs, Ref("c1"), Literal("note"), Ref("c2"))

	cp := rec.Clone()
	cp.MemberIDs[0] = "z"
	cp.Attributes[AttrMemberOfCollectionIDs][0] = Ref("zz")
	if rec.MemberIDs[0] != "a" || !rec.References(AttrMemberOfCollectionIDs, "c1") {
		t.Fatalf("clone shares state with original")
	}

	if !rec.RemoveReference(AttrMemberOfCollectionIDs, "c1") {
		t.Fatalf("expected reference removal")
	}
	if rec.RemoveReference(AttrMemberOfCollectionIDs, "missing") {
		t.Fatalf("expected no-op for missing reference")
	}
	if got := rec.IDs(AttrMemberOfCollectionIDs); len(got) != 1 || got[0] != "c2" {
		t.Fatalf("unexpected ids %v", got)
	}
	if got := rec.Strings(AttrMemberOfCollectionIDs); len(got) != 2 || got[0] != "note" {
		t.Fatalf("literal should survive reference removal: %v", got)
	}

	rec.Set(AttrMemberIDs, Refs("m1", "m2")...)
	if len(rec.MemberIDs) != 2 || rec.IDs(AttrMemberIDs)[1] != "m2" {
		t.Fatalf("member_ids should route through MemberIDs")
	}
	rec.Set(AttrTitle)
	if _, ok := rec.Attributes[AttrTitle]; ok {
		t.Fatalf("empty set should remove attribute")
	}
}

func TestErrorsMatchSentinels(t *testing.T) {
	var err error = &PersistenceConflict{ID: "a", Expected: 1, Actual: 2}
	if !IsConflict(err) {
		t.Fatalf("expected conflict sentinel")
	}
	if !IsNotFound(&NotFoundError{ID: "x"}) {
		t.Fatalf("expected not found sentinel")
	}
	ext := &ExternalServiceError{Service: "minter", Err: errors.New("boom")}
	if !errors.Is(ext, ErrExternalService) {
		t.Fatalf("expected external service sentinel")
	}
	v := &ValidationError{Type: "work", Fields: []FieldError{{Field: "title", Message: "is required"}}}
	if !errors.Is(v, ErrValidation) || v.Error() != "work change set is invalid: title is required" {
		t.Fatalf("unexpected validation error %q", v.Error())
	}
	if !errors.Is(&DeleteBlockedError{ID: "v", Reason: "has members"}, ErrDeleteBlocked) {
		t.Fatalf("expected delete blocked sentinel")
	}
}
