// Package audit records the append-only system log: one entry per
// significant action (logins, registrations, room lifecycle, moderation,
// assistant errors). The core only ever writes; reading is limited to the
// most recent N entries for administrative views.
package audit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chatcore.org/internal/ids"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/store"
)

// Level classifies an entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelAlert   Level = "alert"
)

// Entry is one immutable system log record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details"`
	Level     Level     `json:"level"`
}

// ErrClearUnsupported is returned when the backing store cannot drop the
// log collection; callers must report it rather than pretend deletion.
var ErrClearUnsupported = errors.New("audit: clearing not supported by backing store")

// Recorder writes entries to the store and mirrors them as JSON log lines.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

// NewRecorder creates a recorder over the given store.
func NewRecorder(st store.Store) *Recorder {
	return &Recorder{store: st, now: time.Now}
}

// WithClock overrides the time source (tests).
func (r *Recorder) WithClock(fn func() time.Time) *Recorder {
	if fn != nil {
		r.now = fn
	}
	return r
}

// Record appends one entry. The store write is best-effort from the
// caller's point of view but failures are still reported.
func (r *Recorder) Record(ctx context.Context, event, details string, level Level) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("audit: event name is required")
	}
	if level == "" {
		level = LevelInfo
	}
	entry := Entry{
		ID:        ids.New(),
		Timestamp: r.now().UTC(),
		Event:     event,
		Details:   details,
		Level:     level,
	}
	obs.LogEvent(map[string]any{
		"ts":      entry.Timestamp.Format(time.RFC3339Nano),
		"type":    "audit",
		"event":   entry.Event,
		"details": entry.Details,
		"level":   string(entry.Level),
	})
	doc, err := store.Encode(entry)
	if err != nil {
		return err
	}
	if err := r.store.Put(ctx, store.SystemLogs, entry.ID, doc); err != nil {
		return fmt.Errorf("audit: append entry: %w", err)
	}
	return nil
}

// Recent returns up to n entries, newest first.
func (r *Recorder) Recent(ctx context.Context, n int) ([]Entry, error) {
	docs, err := r.store.Query(ctx, store.SystemLogs)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(docs))
	for _, doc := range docs {
		var e Entry
		if err := store.Decode(doc, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// Clear drops the whole log when the store supports truncation and reports
// ErrClearUnsupported otherwise. It never claims a deletion that did not
// happen.
func (r *Recorder) Clear(ctx context.Context) error {
	tr, ok := r.store.(store.Truncator)
	if !ok {
		return ErrClearUnsupported
	}
	if err := tr.Truncate(ctx, store.SystemLogs); err != nil {
		return fmt.Errorf("audit: clear: %w", err)
	}
	return nil
}
