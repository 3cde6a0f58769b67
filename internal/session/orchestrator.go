// Package session composes identity, rooms, messages, the envelope and the
// generation collaborator into user-facing operations, and keeps each
// client's view consistent with the store through live subscriptions.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"

	"chatcore.org/internal/ai"
	"chatcore.org/internal/audit"
	"chatcore.org/internal/crypto"
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
)

// Orchestrator creates sessions. It owns no persistent state itself.
type Orchestrator struct {
	identity    *identity.Service
	rooms       *room.Registry
	messages    *message.Log
	audit       *audit.Recorder
	envelope    *crypto.Envelope
	gen         ai.Generator
	authTimeout time.Duration
}

// Option configures the orchestrator.
type Option func(*Orchestrator)

// WithGenerator wires the assistant backend.
func WithGenerator(g ai.Generator) Option {
	return func(o *Orchestrator) { o.gen = g }
}

// WithAuthTimeout bounds authentication and initial store calls.
func WithAuthTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.authTimeout = d
		}
	}
}

// New constructs an orchestrator over the composed services.
func New(ids *identity.Service, rooms *room.Registry, msgs *message.Log, rec *audit.Recorder, env *crypto.Envelope, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		identity:    ids,
		rooms:       rooms,
		messages:    msgs,
		audit:       rec,
		envelope:    env,
		authTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Login authenticates and opens a session. The whole exchange runs under
// the auth timeout; expiry surfaces as the retryable ErrConnectivity, never
// as a credential failure.
func (o *Orchestrator) Login(ctx context.Context, username, password string) (*Session, error) {
	id, err := timeoutCall(ctx, o.authTimeout, func(ctx context.Context) (identity.Identity, error) {
		return o.identity.Authenticate(ctx, username, password)
	})
	if err != nil {
		return nil, err
	}
	if _, err := timeoutCall(ctx, o.authTimeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, o.identity.RecordLogin(ctx, id)
	}); err != nil {
		return nil, err
	}
	return o.open(ctx, id)
}

// Register creates the account and opens a session for it.
func (o *Orchestrator) Register(ctx context.Context, username, password string) (*Session, error) {
	user, err := timeoutCall(ctx, o.authTimeout, func(ctx context.Context) (*identity.User, error) {
		return o.identity.Register(ctx, username, password)
	})
	if err != nil {
		return nil, err
	}
	id := identity.Identity{User: *user}
	if err := o.identity.RecordLogin(ctx, id); err != nil {
		return nil, err
	}
	return o.open(ctx, id)
}

// open builds the session and establishes the authenticated-state
// subscriptions: the user's own record and the participant room set. The
// builtin identity has no backing record and gets neither.
func (o *Orchestrator) open(ctx context.Context, id identity.Identity) (*Session, error) {
	s := &Session{
		orch:   o,
		id:     uuid.NewString(),
		state:  StateAuthenticated,
		user:   id,
		events: make(chan Event, 16),
	}
	if !id.Builtin {
		if err := s.watchSelf(ctx); err != nil {
			return nil, err
		}
		if err := s.watchRooms(ctx); err != nil {
			s.disposeAll()
			return nil, err
		}
	}
	obs.SessionOpened()
	return s, nil
}

// timeoutCall runs fn under a deadline and maps expiry to ErrConnectivity,
// even when the backend ignores the context: the result is awaited on a
// channel so a hung call cannot stall the login path.
func timeoutCall[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := fn(ctx)
		ch <- result{val, err}
	}()
	select {
	case res := <-ch:
		if res.err != nil && ctx.Err() != nil {
			var zero T
			return zero, ErrConnectivity
		}
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, ErrConnectivity
	}
}
