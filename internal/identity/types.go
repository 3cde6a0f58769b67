package identity

import "time"

// Role is a platform-wide capability tier.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// User is a persisted account. Friends are symmetric after an accepted
// request; FriendRequests holds inbound requester ids only. A user id never
// appears in its own Friends or FriendRequests.
type User struct {
	ID             string      `json:"id"`
	Username       string      `json:"username"`
	PasswordHash   string      `json:"password_hash"`
	Role           Role        `json:"role"`
	CreatedAt      time.Time   `json:"created_at"`
	Friends        []string    `json:"friends"`
	FriendRequests []string    `json:"friend_requests"`
	LastLogin      time.Time   `json:"last_login"`
	LoginHistory   []time.Time `json:"login_history"`
}

// Identity is an authenticated principal. Builtin marks the synthetic
// administrative identity checked against fixed configuration: it has no
// backing record, so it must never be written to or subscribed against.
type Identity struct {
	User
	Builtin bool
}

// IsAdmin reports whether the identity holds administrative capability.
func (id Identity) IsAdmin() bool {
	return id.Builtin || id.Role == RoleAdmin
}
