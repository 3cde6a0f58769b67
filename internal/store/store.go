// Package store defines the document persistence boundary the chat core is
// written against. Implementations provide CRUD, field-level patches with an
// atomic set-union semantic, predicate queries and live change subscriptions.
package store

import (
	"context"
	"errors"
)

// Collection names used by the core. Per-room message sub-collections are
// derived with Messages(roomID).
const (
	Users      = "users"
	Rooms      = "rooms"
	SystemLogs = "system_logs"
)

// Messages returns the collection name for a room's message sub-collection.
func Messages(roomID string) string { return "messages:" + roomID }

// Document is a schemaless record as stored. Values follow encoding/json
// conventions: numbers are float64, sets are []any.
type Document map[string]any

// Op is a field patch operation.
type Op string

const (
	// OpSet replaces the field with the given value.
	OpSet Op = "set"
	// OpUnion appends the value(s) to an array field, skipping elements
	// already present. Implementations must apply it atomically so that
	// concurrent unions against the same field compose without lost updates.
	OpUnion Op = "union"
	// OpRemove removes the value(s) from an array field.
	OpRemove Op = "remove"
)

// Patch mutates a single field of a document.
type Patch struct {
	Field string
	Op    Op
	Value any
}

// PredOp is a query predicate operator.
type PredOp string

const (
	Eq       PredOp = "=="
	Contains PredOp = "array-contains"
)

// Predicate filters documents in a query or subscription.
type Predicate struct {
	Field string
	Op    PredOp
	Value any
}

// Update is one entry of a batched multi-document patch.
type Update struct {
	Collection string
	ID         string
	Patches    []Patch
}

// Watch selects the documents a subscription tracks: a single id, or every
// document matching the predicates.
type Watch struct {
	ID    string
	Preds []Predicate
}

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("store: already exists")
	// ErrUnsupported marks operations the backing store cannot perform.
	ErrUnsupported = errors.New("store: unsupported")
)

// Store is the persistence contract. All methods must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	// Put fully replaces the document, creating it if absent.
	Put(ctx context.Context, collection, id string, doc Document) error
	// Create writes the document only if the id is free; ErrExists otherwise.
	// This is the conditional-create primitive race-tolerant callers rely on.
	Create(ctx context.Context, collection, id string, doc Document) error
	Update(ctx context.Context, collection, id string, patches []Patch) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, collection string, preds ...Predicate) ([]Document, error)
	// Subscribe invokes fn with the current matching state immediately and
	// again after every change, until the returned disposer is called.
	// fn runs on a dedicated goroutine; slow consumers see coalesced
	// snapshots, never a blocked writer.
	Subscribe(ctx context.Context, collection string, w Watch, fn func([]Document)) (func(), error)
	// BatchUpdate applies at most cap updates atomically as a whole.
	BatchUpdate(ctx context.Context, updates []Update, cap int) error
}

// Truncator is implemented by stores that can drop a whole collection.
// Callers must treat its absence as "clearing unsupported".
type Truncator interface {
	Truncate(ctx context.Context, collection string) error
}
