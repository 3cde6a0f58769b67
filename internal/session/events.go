package session

import (
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/room"
)

// EventKind tags what a session event carries.
type EventKind string

const (
	// EventMessages delivers the current ordered message window of the
	// joined room, already unsealed for rendering.
	EventMessages EventKind = "messages"
	// EventRooms delivers the user's participant room set.
	EventRooms EventKind = "rooms"
	// EventProfile delivers the user's own record after an external change
	// (friend graph, role).
	EventProfile EventKind = "profile"
	// EventEvicted reports a server-driven removal from the current room.
	EventEvicted EventKind = "evicted"
	// EventNotice carries an informational line for the UI.
	EventNotice EventKind = "notice"
)

// EvictReason distinguishes why the server removed the user from the room
// view. The transition is handled identically for every reason; only the
// rendered explanation differs.
type EvictReason string

const (
	EvictBanned   EvictReason = "banned"
	EvictRemoved  EvictReason = "removed"
	EvictRoomGone EvictReason = "room_gone"
)

// Event is what the UI collaborator consumes.
type Event struct {
	Kind     EventKind
	Messages []message.Message
	Rooms    []room.Room
	Profile  *identity.User
	Reason   EvictReason
	Notice   string
}
