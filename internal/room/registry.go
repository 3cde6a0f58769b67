package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatcore.org/internal/audit"
	"chatcore.org/internal/ids"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/store"
)

// UserDirectory resolves usernames for moderation targets. The identity
// service satisfies it.
type UserDirectory interface {
	UserIDByUsername(ctx context.Context, username string) (string, error)
}

// ErrUserNotFound is returned when a moderation target username resolves to
// nothing.
var ErrUserNotFound = errors.New("room: target user not found")

// Registry owns room lifecycle, membership and moderation lists. It never
// caches authoritative state between calls; the store is the single source
// of truth and every membership change is a field-level set patch.
type Registry struct {
	store store.Store
	audit *audit.Recorder
	users UserDirectory
	now   func() time.Time
}

// NewRegistry constructs the registry.
func NewRegistry(st store.Store, rec *audit.Recorder, users UserDirectory) *Registry {
	return &Registry{store: st, audit: rec, users: users, now: time.Now}
}

// WithClock overrides the time source (tests).
func (g *Registry) WithClock(fn func() time.Time) *Registry {
	if fn != nil {
		g.now = fn
	}
	return g
}

// CreateGroup persists a new group room with a fresh shareable code; the
// creator is the sole initial participant.
func (g *Registry) CreateGroup(ctx context.Context, name, creatorID string) (*Room, error) {
	room := &Room{
		Name:         name,
		Type:         TypeGroup,
		CreatorID:    creatorID,
		CreatedAt:    g.now().UTC(),
		Participants: []string{creatorID},
		BannedUsers:  []string{},
		MutedUsers:   []string{},
	}
	// Codes can collide; retry with a fresh one.
	for attempt := 0; attempt < 5; attempt++ {
		room.ID = ids.RoomCode()
		doc, err := store.Encode(room)
		if err != nil {
			return nil, err
		}
		err = g.store.Create(ctx, store.Rooms, room.ID, doc)
		if err == nil {
			_ = g.audit.Record(ctx, "room.created", "room="+room.ID+" name="+name, audit.LevelInfo)
			return room, nil
		}
		if !errors.Is(err, store.ErrExists) {
			return nil, fmt.Errorf("room: create: %w", err)
		}
	}
	return nil, fmt.Errorf("room: create: %w", store.ErrExists)
}

// EnsurePrivateRoom creates the deterministic 1:1 room for a pair if absent.
// Losing the conditional create to a concurrent caller is success.
func (g *Registry) EnsurePrivateRoom(ctx context.Context, userA, userB string) error {
	id := PrivateRoomID(userA, userB)
	room := &Room{
		ID:           id,
		Name:         "Private chat",
		Type:         TypePrivate,
		CreatorID:    userA,
		CreatedAt:    g.now().UTC(),
		Participants: []string{userA, userB},
		BannedUsers:  []string{},
		MutedUsers:   []string{},
	}
	doc, err := store.Encode(room)
	if err != nil {
		return err
	}
	err = g.store.Create(ctx, store.Rooms, id, doc)
	if errors.Is(err, store.ErrExists) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("room: ensure private: %w", err)
	}
	_ = g.audit.Record(ctx, "room.created", "room="+id+" type=private", audit.LevelInfo)
	return nil
}

// Get loads a room.
func (g *Registry) Get(ctx context.Context, roomID string) (*Room, error) {
	doc, err := g.store.Get(ctx, store.Rooms, roomID)
	if err != nil {
		return nil, ErrRoomNotFound
	}
	var room Room
	if err := store.Decode(doc, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Join adds the user to the room. Administrative callers bypass access
// checks entirely. Everyone else: bans refuse with ErrBanned, and private
// rooms are closed-membership: you are placed in by the friend-accept
// flow, never by self-join. Joining twice is a no-op.
func (g *Registry) Join(ctx context.Context, roomID, userID string, asAdmin bool) error {
	room, err := g.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if !asAdmin {
		if room.IsBanned(userID) {
			return ErrBanned
		}
		if room.Type == TypePrivate && !room.HasParticipant(userID) {
			return ErrAccessDenied
		}
	}
	if room.HasParticipant(userID) {
		return nil
	}
	if err := g.store.Update(ctx, store.Rooms, roomID, []store.Patch{
		{Field: "participants", Op: store.OpUnion, Value: userID},
	}); err != nil {
		return fmt.Errorf("room: join: %w", err)
	}
	_ = g.audit.Record(ctx, "room.joined", "room="+roomID+" user="+userID, audit.LevelInfo)
	return nil
}

// Leave removes the user from the participant set.
func (g *Registry) Leave(ctx context.Context, roomID, userID string) error {
	return g.store.Update(ctx, store.Rooms, roomID, []store.Patch{
		{Field: "participants", Op: store.OpRemove, Value: userID},
	})
}

// Moderate applies kick, ban or mute to the target username and returns a
// human-readable confirmation. The administrative gate lives here, not in
// the caller: non-admin actors are refused outright. Each action is a
// field-level set patch, so concurrent moderation composes without lost
// updates, and ban evicts by construction (banned and participant sets can
// never intersect).
func (g *Registry) Moderate(ctx context.Context, roomID string, actor Actor, action Action, targetUsername string) (string, error) {
	if !actor.Admin {
		return "", ErrNotAuthorized
	}
	targetID, err := g.users.UserIDByUsername(ctx, targetUsername)
	if err != nil {
		return "", ErrUserNotFound
	}
	if _, err := g.Get(ctx, roomID); err != nil {
		return "", err
	}

	var patches []store.Patch
	var confirmation string
	switch action {
	case ActionKick:
		patches = []store.Patch{
			{Field: "participants", Op: store.OpRemove, Value: targetID},
		}
		confirmation = fmt.Sprintf("User %s kicked.", targetUsername)
	case ActionBan:
		patches = []store.Patch{
			{Field: "participants", Op: store.OpRemove, Value: targetID},
			{Field: "banned_users", Op: store.OpUnion, Value: targetID},
		}
		confirmation = fmt.Sprintf("User %s banned.", targetUsername)
	case ActionMute:
		patches = []store.Patch{
			{Field: "muted_users", Op: store.OpUnion, Value: targetID},
		}
		confirmation = fmt.Sprintf("User %s muted.", targetUsername)
	default:
		return "", ErrUnknownAction
	}

	if err := g.store.Update(ctx, store.Rooms, roomID, patches); err != nil {
		return "", fmt.Errorf("room: moderate: %w", err)
	}
	obs.ModerationApplied(string(action))
	_ = g.audit.Record(ctx, "room.moderated",
		fmt.Sprintf("room=%s actor=%s action=%s target=%s", roomID, actor.ID, action, targetID),
		audit.LevelWarning)
	return confirmation, nil
}

// DeleteRoom removes a room document entirely. Administrative only.
func (g *Registry) DeleteRoom(ctx context.Context, roomID string, actor Actor) error {
	if !actor.Admin {
		return ErrNotAuthorized
	}
	if _, err := g.Get(ctx, roomID); err != nil {
		return err
	}
	if err := g.store.Delete(ctx, store.Rooms, roomID); err != nil {
		return fmt.Errorf("room: delete: %w", err)
	}
	_ = g.audit.Record(ctx, "room.deleted", "room="+roomID+" actor="+actor.ID, audit.LevelAlert)
	return nil
}

// RoomsFor lists the rooms the user participates in.
func (g *Registry) RoomsFor(ctx context.Context, userID string) ([]Room, error) {
	docs, err := g.store.Query(ctx, store.Rooms, store.Predicate{
		Field: "participants", Op: store.Contains, Value: userID,
	})
	if err != nil {
		return nil, err
	}
	return decodeRooms(docs), nil
}

// WatchRooms subscribes to the user's participant room set.
func (g *Registry) WatchRooms(ctx context.Context, userID string, fn func([]Room)) (func(), error) {
	w := store.Watch{Preds: []store.Predicate{
		{Field: "participants", Op: store.Contains, Value: userID},
	}}
	return g.store.Subscribe(ctx, store.Rooms, w, func(docs []store.Document) {
		fn(decodeRooms(docs))
	})
}

// WatchRoom subscribes to one room document; fn receives nil when the room
// disappears.
func (g *Registry) WatchRoom(ctx context.Context, roomID string, fn func(*Room)) (func(), error) {
	return g.store.Subscribe(ctx, store.Rooms, store.Watch{ID: roomID}, func(docs []store.Document) {
		if len(docs) == 0 {
			fn(nil)
			return
		}
		var room Room
		if err := store.Decode(docs[0], &room); err != nil {
			return
		}
		fn(&room)
	})
}

func decodeRooms(docs []store.Document) []Room {
	rooms := make([]Room, 0, len(docs))
	for _, doc := range docs {
		var r Room
		if err := store.Decode(doc, &r); err != nil {
			continue
		}
		rooms = append(rooms, r)
	}
	return rooms
}
