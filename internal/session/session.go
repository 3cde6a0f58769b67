package session

import (
	"context"
	"sync"

	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
)

// State is the session's position in its lifecycle. Authenticating is
// transient inside Login/Register and never observable on a live session.
type State string

const (
	StateAnonymous     State = "anonymous"
	StateAuthenticated State = "authenticated"
	StateInRoom        State = "in_room"
)

// Session is one client's live view. It holds only transient caches: the
// latest snapshot of each live subscription, nothing authoritative.
type Session struct {
	orch *Orchestrator
	id   string

	mu       sync.Mutex
	state    State
	user     identity.Identity
	roomID   string
	lastRoom *room.Room
	closed   bool

	// active subscription disposers, keyed by what they watch
	selfDispose  func()
	roomsDispose func()
	roomDispose  func()
	msgDispose   func()

	events chan Event
}

// ID is the opaque session identifier.
func (s *Session) ID() string { return s.id }

// User returns the authenticated identity.
func (s *Session) User() identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events is the stream the UI collaborator consumes. Slow consumers lose
// intermediate events, never the channel.
func (s *Session) Events() <-chan Event { return s.events }

// emit delivers without ever blocking a subscription callback.
func (s *Session) emit(ev Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		// Drop when the consumer is slow; the next snapshot supersedes.
	}
}

// watchSelf follows the user's own record so externally-driven friend or
// role changes reach the UI.
func (s *Session) watchSelf(ctx context.Context) error {
	dispose, err := s.orch.identity.WatchUser(ctx, s.user.ID, func(u *identity.User) {
		if u == nil {
			return
		}
		s.mu.Lock()
		s.user.User = *u
		s.mu.Unlock()
		s.emit(Event{Kind: EventProfile, Profile: u})
	})
	if err != nil {
		return err
	}
	s.selfDispose = dispose
	return nil
}

// watchRooms follows the set of rooms the user participates in.
func (s *Session) watchRooms(ctx context.Context) error {
	dispose, err := s.orch.rooms.WatchRooms(ctx, s.user.ID, func(rooms []room.Room) {
		s.emit(Event{Kind: EventRooms, Rooms: rooms})
	})
	if err != nil {
		return err
	}
	s.roomsDispose = dispose
	return nil
}

// JoinRoom moves the session into a room. A previous room's subscriptions
// are disposed before the new ones are established.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state == StateAnonymous {
		s.mu.Unlock()
		return ErrNotAuthenticated
	}
	user := s.user
	s.mu.Unlock()

	if err := s.orch.rooms.Join(ctx, roomID, user.ID, user.IsAdmin()); err != nil {
		return err
	}

	s.dropRoomSubs()

	roomDispose, err := s.orch.rooms.WatchRoom(ctx, roomID, func(r *room.Room) { s.onRoomSnapshot(roomID, r) })
	if err != nil {
		return err
	}
	msgDispose, err := s.orch.messages.Watch(ctx, roomID, func(msgs []message.Message) { s.onMessages(roomID, msgs) })
	if err != nil {
		roomDispose()
		return err
	}

	s.mu.Lock()
	s.state = StateInRoom
	s.roomID = roomID
	s.roomDispose = roomDispose
	s.msgDispose = msgDispose
	s.mu.Unlock()
	return nil
}

// onRoomSnapshot reacts to the authoritative room document changing. When
// the snapshot says this user no longer belongs (banned, removed, or the
// room is gone) the session is forced back to the no-room state with an
// explicit reason. The transition is identical for every reason.
func (s *Session) onRoomSnapshot(roomID string, r *room.Room) {
	s.mu.Lock()
	if s.roomID != roomID {
		s.mu.Unlock()
		return
	}
	s.lastRoom = r
	user := s.user
	s.mu.Unlock()

	var reason EvictReason
	switch {
	case r == nil:
		reason = EvictRoomGone
	case r.IsBanned(user.ID):
		reason = EvictBanned
	case !r.HasParticipant(user.ID):
		reason = EvictRemoved
	default:
		return
	}
	s.leaveView()
	s.emit(Event{Kind: EventEvicted, Reason: reason})
}

// onMessages forwards the room's message window, unsealed for rendering,
// and acknowledges receipts in the background.
func (s *Session) onMessages(roomID string, msgs []message.Message) {
	s.mu.Lock()
	user := s.user
	current := s.roomID
	s.mu.Unlock()
	if current != roomID {
		return
	}

	go func() {
		if err := s.orch.messages.MarkRead(context.Background(), roomID, user.ID, user.Username, msgs); err != nil {
			obs.LogEvent(map[string]any{"type": "error", "msg": "mark read failed", "err": err.Error()})
		}
	}()

	opened := make([]message.Message, len(msgs))
	copy(opened, msgs)
	for i := range opened {
		if opened[i].IsEncrypted {
			opened[i].Content = s.orch.envelope.Open(opened[i].Content)
		}
	}
	s.emit(Event{Kind: EventMessages, Messages: opened})
}

// LeaveRoom voluntarily exits the current room.
func (s *Session) LeaveRoom(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateInRoom {
		s.mu.Unlock()
		return ErrNotInRoom
	}
	roomID := s.roomID
	userID := s.user.ID
	s.mu.Unlock()

	s.leaveView()
	return s.orch.rooms.Leave(ctx, roomID, userID)
}

// leaveView drops room subscriptions and returns to the no-room state
// without touching the store.
func (s *Session) leaveView() {
	s.dropRoomSubs()
	s.mu.Lock()
	if s.state == StateInRoom {
		s.state = StateAuthenticated
	}
	s.roomID = ""
	s.lastRoom = nil
	s.mu.Unlock()
}

// SendMessage processes one outgoing text. Muted non-admin senders are
// rejected locally off the latest room snapshot, with no store call.
// Administrative slash-commands dispatch to moderation; the confirmation is
// persisted as a system message. The assistant marker appends the sender's
// own sealed message first and never blocks on generation.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.state != StateInRoom {
		s.mu.Unlock()
		return ErrNotInRoom
	}
	user := s.user
	roomID := s.roomID
	lastRoom := s.lastRoom
	s.mu.Unlock()

	return s.orch.Deliver(ctx, user, roomID, lastRoom, text)
}

// SendFile appends a non-text message. The content is an opaque reference
// (url or data uri) and is sealed like text.
func (s *Session) SendFile(ctx context.Context, kind message.Kind, content, fileName string, fileSize int64) error {
	s.mu.Lock()
	if s.state != StateInRoom {
		s.mu.Unlock()
		return ErrNotInRoom
	}
	user := s.user
	roomID := s.roomID
	lastRoom := s.lastRoom
	s.mu.Unlock()

	return s.orch.DeliverFile(ctx, user, roomID, lastRoom, kind, content, fileName, fileSize)
}

// SendFriendRequest proxies to the identity service for this user.
func (s *Session) SendFriendRequest(ctx context.Context, toUsername string) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	return s.orch.identity.SendFriendRequest(ctx, user.ID, toUsername)
}

// ResolveFriendRequest accepts or rejects a pending request.
func (s *Session) ResolveFriendRequest(ctx context.Context, requesterID string, accept bool) error {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	return s.orch.identity.ResolveFriendRequest(ctx, user.ID, requesterID, accept)
}

// CreateRoom creates a group room owned by this user.
func (s *Session) CreateRoom(ctx context.Context, name string) (*room.Room, error) {
	s.mu.Lock()
	user := s.user
	s.mu.Unlock()
	return s.orch.rooms.CreateGroup(ctx, name, user.ID)
}

// Logout tears the session down: every live subscription is disposed
// exactly once and the state returns to Anonymous.
func (s *Session) Logout() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateAnonymous
	s.roomID = ""
	s.lastRoom = nil
	s.mu.Unlock()

	s.disposeAll()
	obs.SessionClosed()
}

func (s *Session) dropRoomSubs() {
	s.mu.Lock()
	roomDispose := s.roomDispose
	msgDispose := s.msgDispose
	s.roomDispose = nil
	s.msgDispose = nil
	s.mu.Unlock()
	if roomDispose != nil {
		roomDispose()
	}
	if msgDispose != nil {
		msgDispose()
	}
}

func (s *Session) disposeAll() {
	s.dropRoomSubs()
	s.mu.Lock()
	selfDispose := s.selfDispose
	roomsDispose := s.roomsDispose
	s.selfDispose = nil
	s.roomsDispose = nil
	s.mu.Unlock()
	if selfDispose != nil {
		selfDispose()
	}
	if roomsDispose != nil {
		roomsDispose()
	}
}
