// Package pg implements the store contract over PostgreSQL. Documents live
// as jsonb rows keyed by (collection, id); field patches run inside a
// transaction under a row lock so concurrent set patches compose without
// lost updates. Change subscriptions are same-process: local writes feed a
// notifier that re-queries the affected collection.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"chatcore.org/internal/store"
)

const schema = `
create table if not exists documents (
	collection text not null,
	id         text not null,
	doc        jsonb not null,
	updated_at timestamptz not null default now(),
	primary key (collection, id)
)`

// Store is the PostgreSQL-backed document store.
type Store struct {
	db *sql.DB

	subMu   sync.Mutex
	subs    map[int]*subscriber
	nextSub int
}

type subscriber struct {
	collection string
	watch      store.Watch
	ch         chan []store.Document
	done       chan struct{}
}

var _ store.Store = (*Store)(nil)
var _ store.Truncator = (*Store)(nil)

// Open connects and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	s := &Store{db: db, subs: make(map[int]*subscriber)}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pg: ensure schema: %w", err)
	}
	return s, nil
}

// NewWithDB wraps an existing handle; tests use this with sqlmock.
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, subs: make(map[int]*subscriber)}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness probes.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Get(ctx context.Context, collection, id string) (store.Document, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`select doc from documents where collection=$1 and id=$2`, collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Store) Put(ctx context.Context, collection, id string, doc store.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into documents(collection, id, doc, updated_at)
		values ($1,$2,$3,now())
		on conflict (collection, id) do update
		set doc = excluded.doc, updated_at = now()
	`, collection, id, raw)
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func (s *Store) Create(ctx context.Context, collection, id string, doc store.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		insert into documents(collection, id, doc, updated_at)
		values ($1,$2,$3,now())
		on conflict (collection, id) do nothing
	`, collection, id, raw)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return store.ErrExists
	}
	s.notify(collection)
	return nil
}

func (s *Store) Update(ctx context.Context, collection, id string, patches []store.Patch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := patchInTx(ctx, tx, collection, id, patches); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from documents where collection=$1 and id=$2`, collection, id)
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, preds ...store.Predicate) ([]store.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`select doc from documents where collection=$1 order by id asc`, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Document
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var doc store.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, err
		}
		if store.Match(doc, preds) {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

func (s *Store) BatchUpdate(ctx context.Context, updates []store.Update, cap int) error {
	if cap > 0 && len(updates) > cap {
		updates = updates[:cap]
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range updates {
		if err := patchInTx(ctx, tx, u.Collection, u.ID, u.Patches); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	touched := make(map[string]struct{})
	for _, u := range updates {
		touched[u.Collection] = struct{}{}
	}
	for collection := range touched {
		s.notify(collection)
	}
	return nil
}

// Truncate drops a whole collection in one statement.
func (s *Store) Truncate(ctx context.Context, collection string) error {
	_, err := s.db.ExecContext(ctx, `delete from documents where collection=$1`, collection)
	if err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

// patchInTx locks the row, applies the patches in Go and writes the result
// back. The row lock is what makes concurrent field patches compose.
func patchInTx(ctx context.Context, tx *sql.Tx, collection, id string, patches []store.Patch) error {
	var raw []byte
	err := tx.QueryRowContext(ctx,
		`select doc from documents where collection=$1 and id=$2 for update`,
		collection, id,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}
	var doc store.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	store.ApplyPatches(doc, patches)
	updated, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`update documents set doc=$3, updated_at=now() where collection=$1 and id=$2`,
		collection, id, updated)
	return err
}

func (s *Store) Subscribe(ctx context.Context, collection string, w store.Watch, fn func([]store.Document)) (func(), error) {
	sub := &subscriber{
		collection: collection,
		watch:      w,
		ch:         make(chan []store.Document, 1),
		done:       make(chan struct{}),
	}
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.subMu.Unlock()

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
	sub.offer(s.snapshot(collection, w))

	var once sync.Once
	dispose := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(sub.done)
		})
	}
	return dispose, nil
}

func (s *Store) snapshot(collection string, w store.Watch) []store.Document {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if w.ID != "" {
		doc, err := s.Get(ctx, collection, w.ID)
		if err != nil {
			return nil
		}
		return []store.Document{doc}
	}
	docs, err := s.Query(ctx, collection, w.Preds...)
	if err != nil {
		return nil
	}
	return docs
}

func (s *Store) notify(collection string) {
	s.subMu.Lock()
	var targets []*subscriber
	for _, sub := range s.subs {
		if sub.collection == collection {
			targets = append(targets, sub)
		}
	}
	s.subMu.Unlock()
	for _, sub := range targets {
		sub.offer(s.snapshot(collection, sub.watch))
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
