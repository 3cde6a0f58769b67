package identity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"chatcore.org/internal/audit"
	"chatcore.org/internal/ids"
	"chatcore.org/internal/store"
)

// RoomEnsurer creates the deterministic private room for a user pair if it
// does not exist yet. Creation must be race-tolerant: ensuring twice
// concurrently yields exactly one room.
type RoomEnsurer interface {
	EnsurePrivateRoom(ctx context.Context, userA, userB string) error
}

// BuiltinAdmin is the fixed administrative credential pair. Disabled when
// either field is empty.
type BuiltinAdmin struct {
	Username string
	Password string
}

// Service owns user records: registration, credential verification, the
// friend graph and login history.
type Service struct {
	store store.Store
	audit *audit.Recorder
	rooms RoomEnsurer
	admin BuiltinAdmin
	now   func() time.Time

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// Option configures Service behavior.
type Option func(*Service)

// WithBuiltinAdmin enables the synthetic administrative login.
func WithBuiltinAdmin(admin BuiltinAdmin) Option {
	return func(s *Service) { s.admin = admin }
}

// WithRoomEnsurer wires the private-room creation used on friend accept.
func WithRoomEnsurer(r RoomEnsurer) Option {
	return func(s *Service) { s.rooms = r }
}

// WithClock overrides the time source (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the identity service.
func NewService(st store.Store, rec *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:    st,
		audit:    rec,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetRoomEnsurer completes wiring after both services exist.
func (s *Service) SetRoomEnsurer(r RoomEnsurer) { s.rooms = r }

// Register creates a new account. Username matching is case-sensitive and
// exact; a clash fails with ErrUsernameTaken.
func (s *Service) Register(ctx context.Context, username, password string) (*User, error) {
	if username == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if _, err := s.userByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:             ids.New(),
		Username:       username,
		PasswordHash:   string(hash),
		Role:           RoleUser,
		CreatedAt:      s.now().UTC(),
		Friends:        []string{},
		FriendRequests: []string{},
		LoginHistory:   []time.Time{},
	}
	doc, err := store.Encode(user)
	if err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, store.Users, user.ID, doc); err != nil {
		return nil, fmt.Errorf("identity: persist user: %w", err)
	}
	_ = s.audit.Record(ctx, "user.registered", "username="+username, audit.LevelInfo)
	return user, nil
}

// Authenticate verifies credentials. The builtin admin is checked by literal
// match first and yields a synthetic, never-persisted identity. Repeated
// attempts per username are throttled.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	if s.admin.Username != "" && s.admin.Password != "" &&
		username == s.admin.Username && password == s.admin.Password {
		_ = s.audit.Record(ctx, "login.success", "username="+username+" builtin=true", audit.LevelInfo)
		return Identity{
			User: User{
				ID:       "builtin:" + s.admin.Username,
				Username: s.admin.Username,
				Role:     RoleAdmin,
			},
			Builtin: true,
		}, nil
	}

	if !s.allow(username) {
		_ = s.audit.Record(ctx, "login.throttled", "username="+username, audit.LevelWarning)
		return Identity{}, ErrThrottled
	}

	user, err := s.userByUsername(ctx, username)
	if err != nil {
		_ = s.audit.Record(ctx, "login.failure", "username="+username+" reason=not_found", audit.LevelWarning)
		return Identity{}, ErrUserNotFound
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		_ = s.audit.Record(ctx, "login.failure", "username="+username+" reason=bad_password", audit.LevelWarning)
		return Identity{}, ErrInvalidCredentials
	}
	_ = s.audit.Record(ctx, "login.success", "username="+username, audit.LevelInfo)
	return Identity{User: *user}, nil
}

// RecordLogin appends now to the login history and moves lastLogin. It is a
// strict no-op for the builtin identity, which has no backing record.
func (s *Service) RecordLogin(ctx context.Context, id Identity) error {
	if id.Builtin {
		return nil
	}
	now := s.now().UTC()
	return s.store.Update(ctx, store.Users, id.ID, []store.Patch{
		{Field: "last_login", Op: store.OpSet, Value: now},
		{Field: "login_history", Op: store.OpUnion, Value: now},
	})
}

// SendFriendRequest records an inbound pending request on the target.
func (s *Service) SendFriendRequest(ctx context.Context, fromID, toUsername string) error {
	target, err := s.userByUsername(ctx, toUsername)
	if err != nil {
		return ErrUserNotFound
	}
	if target.ID == fromID {
		return ErrSelfRequest
	}
	for _, f := range target.Friends {
		if f == fromID {
			return ErrAlreadyFriends
		}
	}
	for _, r := range target.FriendRequests {
		if r == fromID {
			return ErrDuplicateRequest
		}
	}
	if err := s.store.Update(ctx, store.Users, target.ID, []store.Patch{
		{Field: "friend_requests", Op: store.OpUnion, Value: fromID},
	}); err != nil {
		return fmt.Errorf("identity: record friend request: %w", err)
	}
	_ = s.audit.Record(ctx, "friend.requested", "from="+fromID+" to="+target.ID, audit.LevelInfo)
	return nil
}

// ResolveFriendRequest removes the pending request first (idempotent even
// when stale) and, on accept, makes the friendship symmetric and ensures
// the deterministic private room for the pair exists.
func (s *Service) ResolveFriendRequest(ctx context.Context, userID, requesterID string, accept bool) error {
	if err := s.store.Update(ctx, store.Users, userID, []store.Patch{
		{Field: "friend_requests", Op: store.OpRemove, Value: requesterID},
	}); err != nil {
		return fmt.Errorf("identity: drop friend request: %w", err)
	}
	if !accept {
		_ = s.audit.Record(ctx, "friend.rejected", "user="+userID+" requester="+requesterID, audit.LevelInfo)
		return nil
	}
	if _, err := s.UserByID(ctx, requesterID); err != nil {
		return ErrUserNotFound
	}
	if err := s.store.Update(ctx, store.Users, userID, []store.Patch{
		{Field: "friends", Op: store.OpUnion, Value: requesterID},
	}); err != nil {
		return fmt.Errorf("identity: add friend: %w", err)
	}
	if err := s.store.Update(ctx, store.Users, requesterID, []store.Patch{
		{Field: "friends", Op: store.OpUnion, Value: userID},
	}); err != nil {
		return fmt.Errorf("identity: add friend: %w", err)
	}
	if s.rooms != nil {
		if err := s.rooms.EnsurePrivateRoom(ctx, userID, requesterID); err != nil {
			return fmt.Errorf("identity: ensure private room: %w", err)
		}
	}
	_ = s.audit.Record(ctx, "friend.accepted", "user="+userID+" requester="+requesterID, audit.LevelInfo)
	return nil
}

// UserByID loads a persisted user.
func (s *Service) UserByID(ctx context.Context, id string) (*User, error) {
	doc, err := s.store.Get(ctx, store.Users, id)
	if err != nil {
		return nil, ErrUserNotFound
	}
	var user User
	if err := store.Decode(doc, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// WatchUser subscribes to one user record; fn receives nil if the record
// disappears. Never call this for the builtin identity, which has no
// backing record.
func (s *Service) WatchUser(ctx context.Context, id string, fn func(*User)) (func(), error) {
	return s.store.Subscribe(ctx, store.Users, store.Watch{ID: id}, func(docs []store.Document) {
		if len(docs) == 0 {
			fn(nil)
			return
		}
		var user User
		if err := store.Decode(docs[0], &user); err != nil {
			return
		}
		fn(&user)
	})
}

// UserIDByUsername resolves a username to its id; the room registry uses
// this to resolve moderation targets.
func (s *Service) UserIDByUsername(ctx context.Context, username string) (string, error) {
	user, err := s.userByUsername(ctx, username)
	if err != nil {
		return "", ErrUserNotFound
	}
	return user.ID, nil
}

func (s *Service) userByUsername(ctx context.Context, username string) (*User, error) {
	docs, err := s.store.Query(ctx, store.Users, store.Predicate{
		Field: "username", Op: store.Eq, Value: username,
	})
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrUserNotFound
	}
	var user User
	if err := store.Decode(docs[0], &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// allow implements a token bucket per username: 1 attempt per second with a
// burst of 5, dropped after idle expiry is not needed at this scale.
func (s *Service) allow(username string) bool {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()
	lim, ok := s.limiters[username]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(1), 5)
		s.limiters[username] = lim
	}
	return lim.Allow()
}
