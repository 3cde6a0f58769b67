// Package message keeps the append-only per-room message sequence and its
// read-receipt state. Messages live in a per-room sub-collection so read
// updates stay field-level set unions, never whole-array rewrites.
package message

import (
	"context"
	"fmt"
	"sort"
	"time"

	"chatcore.org/internal/ids"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/store"
)

const (
	// markReadCap bounds a single MarkRead pass; callers wanting full
	// coverage invoke repeatedly.
	markReadCap = 400
	// watchWindow caps how many recent messages a subscription delivers.
	watchWindow = 200
)

// Log owns message records and is the only writer of read_by.
type Log struct {
	store store.Store
	now   func() time.Time
}

// NewLog constructs the message log.
func NewLog(st store.Store) *Log {
	return &Log{store: st, now: time.Now}
}

// WithClock overrides the time source (tests).
func (l *Log) WithClock(fn func() time.Time) *Log {
	if fn != nil {
		l.now = fn
	}
	return l
}

// Append writes a new immutable message. Missing id/timestamp are assigned
// here; ReadBy starts as given (usually empty).
func (l *Log) Append(ctx context.Context, roomID string, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = ids.New()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = KindText
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []string{}
	}
	doc, err := store.Encode(msg)
	if err != nil {
		return Message{}, err
	}
	if err := l.store.Put(ctx, store.Messages(roomID), msg.ID, doc); err != nil {
		return Message{}, fmt.Errorf("message: append: %w", err)
	}
	obs.MessageAppended(string(msg.Sender))
	return msg, nil
}

// History returns the room's messages in timestamp order (ties by id, which
// is insertion order for ULIDs), capped to the most recent limit when
// limit > 0.
func (l *Log) History(ctx context.Context, roomID string, limit int) ([]Message, error) {
	docs, err := l.store.Query(ctx, store.Messages(roomID))
	if err != nil {
		return nil, err
	}
	msgs := decodeAndSort(docs)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// MarkRead acknowledges candidate messages for the reader: only user-origin
// messages from someone else that the reader has not acknowledged yet.
// Authorship is keyed by display name (the only sender identity a message
// carries) while receipts are keyed by user id. The pass is bounded to the
// oldest markReadCap qualifying messages and stops silently at the cap.
// Each receipt is an atomic set-union patch, batched, so re-invoking with
// the same arguments changes nothing.
func (l *Log) MarkRead(ctx context.Context, roomID, readerID, readerName string, candidates []Message) error {
	qualifying := make([]Message, 0, len(candidates))
	for _, m := range candidates {
		if m.Sender != OriginUser || m.SenderName == readerName || m.HasRead(readerID) {
			continue
		}
		qualifying = append(qualifying, m)
	}
	if len(qualifying) == 0 {
		return nil
	}
	sort.Slice(qualifying, func(i, j int) bool { return before(qualifying[i], qualifying[j]) })
	if len(qualifying) > markReadCap {
		qualifying = qualifying[:markReadCap]
	}
	updates := make([]store.Update, 0, len(qualifying))
	for _, m := range qualifying {
		updates = append(updates, store.Update{
			Collection: store.Messages(roomID),
			ID:         m.ID,
			Patches: []store.Patch{
				{Field: "read_by", Op: store.OpUnion, Value: readerID},
			},
		})
	}
	if err := l.store.BatchUpdate(ctx, updates, markReadCap); err != nil {
		return fmt.Errorf("message: mark read: %w", err)
	}
	return nil
}

// Watch subscribes to the room's message stream. fn receives the ordered
// sequence capped to the most recent watchWindow messages, first on
// registration and then on every change. The disposer releases the
// registration; calling it more than once is safe.
func (l *Log) Watch(ctx context.Context, roomID string, fn func([]Message)) (func(), error) {
	return l.store.Subscribe(ctx, store.Messages(roomID), store.Watch{}, func(docs []store.Document) {
		msgs := decodeAndSort(docs)
		if len(msgs) > watchWindow {
			msgs = msgs[len(msgs)-watchWindow:]
		}
		fn(msgs)
	})
}

func decodeAndSort(docs []store.Document) []Message {
	msgs := make([]Message, 0, len(docs))
	for _, doc := range docs {
		var m Message
		if err := store.Decode(doc, &m); err != nil {
			continue
		}
		msgs = append(msgs, m)
	}
	sort.Slice(msgs, func(i, j int) bool { return before(msgs[i], msgs[j]) })
	return msgs
}

func before(a, b Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
