package session

import "errors"

var (
	// ErrConnectivity marks a store/auth call that timed out; retryable,
	// distinct from any credential failure.
	ErrConnectivity = errors.New("session: backend unreachable, retry")

	ErrMuted            = errors.New("session: you are muted in this room")
	ErrNotAuthenticated = errors.New("session: not authenticated")
	ErrNotInRoom        = errors.New("session: not in a room")
	ErrClosed           = errors.New("session: closed")
)
