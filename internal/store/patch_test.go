package store

import "testing"

func TestApplyPatchesSet(t *testing.T) {
	doc := Document{"name": "old"}
	ApplyPatches(doc, []Patch{{Field: "name", Op: OpSet, Value: "new"}})
	if doc["name"] != "new" {
		t.Fatalf("name = %v", doc["name"])
	}
}

func TestApplyPatchesUnionDedup(t *testing.T) {
	doc := Document{"members": []any{"a"}}
	ApplyPatches(doc, []Patch{
		{Field: "members", Op: OpUnion, Value: "a"},
		{Field: "members", Op: OpUnion, Value: "b"},
		{Field: "members", Op: OpUnion, Value: []string{"b", "c"}},
	})
	got := StringSlice(doc, "members")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("members = %v", got)
	}
}

func TestApplyPatchesUnionOnMissingField(t *testing.T) {
	doc := Document{}
	ApplyPatches(doc, []Patch{{Field: "members", Op: OpUnion, Value: "a"}})
	got := StringSlice(doc, "members")
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("members = %v", got)
	}
}

func TestApplyPatchesRemove(t *testing.T) {
	doc := Document{"members": []any{"a", "b", "c"}}
	ApplyPatches(doc, []Patch{{Field: "members", Op: OpRemove, Value: []string{"a", "c"}}})
	got := StringSlice(doc, "members")
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("members = %v", got)
	}
	// Removing an absent element is a no-op.
	ApplyPatches(doc, []Patch{{Field: "members", Op: OpRemove, Value: "zzz"}})
	if got := StringSlice(doc, "members"); len(got) != 1 {
		t.Fatalf("members = %v", got)
	}
}

func TestMatch(t *testing.T) {
	doc := Document{"type": "group", "count": 3, "participants": []any{"u1", "u2"}}
	cases := []struct {
		name  string
		preds []Predicate
		want  bool
	}{
		{"eq string", []Predicate{{Field: "type", Op: Eq, Value: "group"}}, true},
		{"eq mismatch", []Predicate{{Field: "type", Op: Eq, Value: "private"}}, false},
		{"eq number across int and float", []Predicate{{Field: "count", Op: Eq, Value: 3}}, true},
		{"contains hit", []Predicate{{Field: "participants", Op: Contains, Value: "u2"}}, true},
		{"contains miss", []Predicate{{Field: "participants", Op: Contains, Value: "u9"}}, false},
		{"contains on non-array", []Predicate{{Field: "type", Op: Contains, Value: "group"}}, false},
		{"conjunction", []Predicate{
			{Field: "type", Op: Eq, Value: "group"},
			{Field: "participants", Op: Contains, Value: "u1"},
		}, true},
		{"empty preds", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			// Numbers arrive as float64 after a store round trip.
			d := Clone(doc)
			if got := Match(d, tc.preds); got != tc.want {
				t.Fatalf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type record struct {
		ID      string   `json:"id"`
		Tags    []string `json:"tags"`
		Pinned  bool     `json:"pinned"`
		Attempt int      `json:"attempt"`
	}
	in := record{ID: "x", Tags: []string{"a", "b"}, Pinned: true, Attempt: 2}
	doc, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out record
	if err := Decode(doc, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != in.ID || len(out.Tags) != 2 || !out.Pinned || out.Attempt != 2 {
		t.Fatalf("round trip = %+v", out)
	}
}
