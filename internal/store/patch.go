package store

import "encoding/json"

// Clone deep-copies a document through its JSON form so callers can never
// alias stored state.
func Clone(doc Document) Document {
	if doc == nil {
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return Document{}
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return Document{}
	}
	return out
}

// ApplyPatches applies field patches to a document in place. Union and
// remove treat the field as a set: union skips elements already present,
// remove drops matching elements. Both accept a single element or a slice.
func ApplyPatches(doc Document, patches []Patch) {
	for _, p := range patches {
		switch p.Op {
		case OpSet:
			doc[p.Field] = normalize(p.Value)
		case OpUnion:
			cur := toSlice(doc[p.Field])
			for _, el := range elements(p.Value) {
				if !contains(cur, el) {
					cur = append(cur, el)
				}
			}
			doc[p.Field] = cur
		case OpRemove:
			cur := toSlice(doc[p.Field])
			keep := cur[:0]
			for _, have := range cur {
				if !contains(elements(p.Value), have) {
					keep = append(keep, have)
				}
			}
			doc[p.Field] = keep
		}
	}
}

// normalize pushes a value through JSON so in-memory state matches what a
// durable backend would hand back (float64 numbers, []any arrays).
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func toSlice(v any) []any {
	if v == nil {
		return []any{}
	}
	if s, ok := normalize(v).([]any); ok {
		return s
	}
	return []any{}
}

func elements(v any) []any {
	n := normalize(v)
	if s, ok := n.([]any); ok {
		return s
	}
	return []any{n}
}

func contains(haystack []any, needle any) bool {
	for _, h := range haystack {
		if equalJSON(h, needle) {
			return true
		}
	}
	return false
}

// Match reports whether a document satisfies every predicate.
func Match(doc Document, preds []Predicate) bool {
	for _, p := range preds {
		switch p.Op {
		case Eq:
			if !equalJSON(doc[p.Field], normalize(p.Value)) {
				return false
			}
		case Contains:
			if !contains(toSlice(doc[p.Field]), normalize(p.Value)) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func equalJSON(a, b any) bool {
	if a == b {
		return true
	}
	da, errA := json.Marshal(a)
	db, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(da) == string(db)
}
