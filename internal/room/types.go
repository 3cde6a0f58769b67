package room

import (
	"errors"
	"sort"
	"time"
)

// Type distinguishes open group rooms from closed 1:1 rooms.
type Type string

const (
	TypeGroup   Type = "group"
	TypePrivate Type = "private"
)

// Room is a persisted conversation space. Moderation lists are room-scoped:
// a ban here says nothing about the user elsewhere. Invariant maintained by
// construction: BannedUsers and Participants never intersect.
type Room struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Type         Type      `json:"type"`
	CreatorID    string    `json:"creator_id"`
	CreatedAt    time.Time `json:"created_at"`
	Participants []string  `json:"participants"`
	BannedUsers  []string  `json:"banned_users"`
	MutedUsers   []string  `json:"muted_users"`
}

// HasParticipant reports membership.
func (r *Room) HasParticipant(userID string) bool { return has(r.Participants, userID) }

// IsBanned reports a room-scoped ban.
func (r *Room) IsBanned(userID string) bool { return has(r.BannedUsers, userID) }

// IsMuted reports whether the user may not send.
func (r *Room) IsMuted(userID string) bool { return has(r.MutedUsers, userID) }

func has(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}

// PrivateRoomID is the deterministic id for a 1:1 room: a pure function of
// the two participant ids, so at most one private room can exist per pair.
func PrivateRoomID(userA, userB string) string {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return "private-" + pair[0] + "-" + pair[1]
}

// Action is a moderation verb.
type Action string

const (
	ActionKick Action = "kick"
	ActionBan  Action = "ban"
	ActionMute Action = "mute"
)

// Actor identifies the caller of a mutating operation; Admin is resolved by
// the identity layer, and Moderate refuses non-admin actors itself rather
// than trusting the caller.
type Actor struct {
	ID    string
	Name  string
	Admin bool
}

var (
	ErrRoomNotFound  = errors.New("room: not found")
	ErrBanned        = errors.New("room: user is banned")
	ErrAccessDenied  = errors.New("room: access denied")
	ErrNotAuthorized = errors.New("room: administrative role required")
	ErrUnknownAction = errors.New("room: unknown moderation action")
)
