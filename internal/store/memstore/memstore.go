// Package memstore implements the store contract in process memory. It is
// the default backend for tests, the smoke binary and single-node runs.
package memstore

import (
	"context"
	"sort"
	"sync"

	"chatcore.org/internal/store"
)

// Store keeps every collection under one mutex and fans document changes out
// to subscribers. Subscribers receive coalesced snapshots on their own
// goroutine so a slow consumer never blocks a writer.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]store.Document
	subs        map[int]*subscriber
	nextSub     int
}

type subscriber struct {
	collection string
	watch      store.Watch
	ch         chan []store.Document
	done       chan struct{}
}

var _ store.Store = (*Store)(nil)
var _ store.Truncator = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]store.Document),
		subs:        make(map[int]*subscriber),
	}
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return store.Clone(doc), nil
}

func (s *Store) Put(ctx context.Context, collection, id string, doc store.Document) error {
	s.mu.Lock()
	s.ensure(collection)[id] = store.Clone(doc)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, doc store.Document) error {
	s.mu.Lock()
	coll := s.ensure(collection)
	if _, exists := coll[id]; exists {
		s.mu.Unlock()
		return store.ErrExists
	}
	coll[id] = store.Clone(doc)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patches []store.Patch) error {
	s.mu.Lock()
	doc, ok := s.collections[collection][id]
	if !ok {
		s.mu.Unlock()
		return store.ErrNotFound
	}
	store.ApplyPatches(doc, patches)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	coll, ok := s.collections[collection]
	if ok {
		delete(coll, id)
	}
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, preds ...store.Predicate) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(collection, store.Watch{Preds: preds}), nil
}

func (s *Store) Subscribe(ctx context.Context, collection string, w store.Watch, fn func([]store.Document)) (func(), error) {
	sub := &subscriber{
		collection: collection,
		watch:      w,
		ch:         make(chan []store.Document, 1),
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	initial := s.snapshotLocked(collection, w)
	s.mu.Unlock()

	go func() {
		for {
			select {
			case snap := <-sub.ch:
				fn(snap)
			case <-sub.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	sub.offer(initial)

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(sub.done)
		})
	}
	return dispose, nil
}

func (s *Store) BatchUpdate(ctx context.Context, updates []store.Update, cap int) error {
	if cap > 0 && len(updates) > cap {
		updates = updates[:cap]
	}
	s.mu.Lock()
	// Validate first so the batch commits or fails as a whole.
	for _, u := range updates {
		if _, ok := s.collections[u.Collection][u.ID]; !ok {
			s.mu.Unlock()
			return store.ErrNotFound
		}
	}
	touched := make(map[string]struct{})
	for _, u := range updates {
		store.ApplyPatches(s.collections[u.Collection][u.ID], u.Patches)
		touched[u.Collection] = struct{}{}
	}
	s.mu.Unlock()
	for collection := range touched {
		s.notify(collection)
	}
	return nil
}

// Truncate drops a collection entirely. The audit recorder uses this to
// implement log clearing where supported.
func (s *Store) Truncate(ctx context.Context, collection string) error {
	s.mu.Lock()
	delete(s.collections, collection)
	s.mu.Unlock()
	s.notify(collection)
	return nil
}

func (s *Store) ensure(collection string) map[string]store.Document {
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]store.Document)
		s.collections[collection] = coll
	}
	return coll
}

// snapshotLocked materializes the matching documents sorted by id so
// subscribers see a stable order.
func (s *Store) snapshotLocked(collection string, w store.Watch) []store.Document {
	coll := s.collections[collection]
	var out []store.Document
	if w.ID != "" {
		if doc, ok := coll[w.ID]; ok {
			out = append(out, store.Clone(doc))
		}
		return out
	}
	ids := make([]string, 0, len(coll))
	for id := range coll {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if store.Match(coll[id], w.Preds) {
			out = append(out, store.Clone(coll[id]))
		}
	}
	return out
}

func (s *Store) notify(collection string) {
	s.mu.RLock()
	type delivery struct {
		sub  *subscriber
		snap []store.Document
	}
	var deliveries []delivery
	for _, sub := range s.subs {
		if sub.collection != collection {
			continue
		}
		deliveries = append(deliveries, delivery{sub, s.snapshotLocked(collection, sub.watch)})
	}
	s.mu.RUnlock()
	for _, d := range deliveries {
		d.sub.offer(d.snap)
	}
}

// offer replaces any pending snapshot with the latest one.
func (sub *subscriber) offer(snap []store.Document) {
	for {
		select {
		case sub.ch <- snap:
			return
		default:
			select {
			case <-sub.ch:
			default:
			}
		}
	}
}

