package identity

import "errors"

var (
	ErrUserNotFound       = errors.New("identity: user not found")
	ErrUsernameTaken      = errors.New("identity: username taken")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrSelfRequest        = errors.New("identity: cannot friend yourself")
	ErrAlreadyFriends     = errors.New("identity: already friends")
	ErrDuplicateRequest   = errors.New("identity: request already pending")
	ErrThrottled          = errors.New("identity: too many attempts")
	ErrInvalidToken       = errors.New("identity: invalid token")
)
