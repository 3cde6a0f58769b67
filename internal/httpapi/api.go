// Package httpapi is the thin HTTP surface over the chat services. Every
// handler resolves the caller from a bearer token and delegates to the
// domain packages; the only state held here is wiring.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"chatcore.org/internal/audit"
	"chatcore.org/internal/crypto"
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
	"chatcore.org/internal/session"
)

// ReadyProbe pings the backing database when one is configured; the
// in-memory backend is always ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	orch     *session.Orchestrator
	identity *identity.Service
	minter   *identity.TokenMinter
	rooms    *room.Registry
	messages *message.Log
	audit    *audit.Recorder
	envelope *crypto.Envelope
}

// Deps carries the composed services the API delegates to.
type Deps struct {
	Orchestrator *session.Orchestrator
	Identity     *identity.Service
	Minter       *identity.TokenMinter
	Rooms        *room.Registry
	Messages     *message.Log
	Audit        *audit.Recorder
	Envelope     *crypto.Envelope
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		orch:       deps.Orchestrator,
		identity:   deps.Identity,
		minter:     deps.Minter,
		rooms:      deps.Rooms,
		messages:   deps.Messages,
		audit:      deps.Audit,
		envelope:   deps.Envelope,
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("GET /metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("POST /v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /v1/auth/login", a.handleLogin)

	// profile and friends
	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("POST /v1/friends/requests", a.handleFriendRequest)
	a.mux.HandleFunc("POST /v1/friends/requests/{requester}/resolve", a.handleFriendResolve)

	// rooms
	a.mux.HandleFunc("GET /v1/rooms", a.handleRoomList)
	a.mux.HandleFunc("POST /v1/rooms", a.handleRoomCreate)
	a.mux.HandleFunc("POST /v1/rooms/{id}/join", a.handleRoomJoin)
	a.mux.HandleFunc("POST /v1/rooms/{id}/leave", a.handleRoomLeave)
	a.mux.HandleFunc("POST /v1/rooms/{id}/moderate", a.handleRoomModerate)
	a.mux.HandleFunc("DELETE /v1/rooms/{id}", a.handleRoomDelete)

	// messages
	a.mux.HandleFunc("GET /v1/rooms/{id}/messages", a.handleMessageHistory)
	a.mux.HandleFunc("POST /v1/rooms/{id}/messages", a.handleMessageSend)
	a.mux.HandleFunc("GET /v1/rooms/{id}/stream", a.handleMessageStream)

	// system log (admin)
	a.mux.HandleFunc("GET /v1/system/log", a.handleSystemLog)
	a.mux.HandleFunc("DELETE /v1/system/log", a.handleSystemLogClear)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics on the outside, then
// authentication on every non-public path.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.withAuth(a.mux))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "chatcore-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "chatcore-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return nil
}

// respondDomainError maps the domain sentinels onto HTTP statuses.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrUserNotFound),
		errors.Is(err, room.ErrRoomNotFound),
		errors.Is(err, room.ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrUsernameTaken),
		errors.Is(err, identity.ErrAlreadyFriends),
		errors.Is(err, identity.ErrDuplicateRequest):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrThrottled):
		respondError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, identity.ErrSelfRequest),
		errors.Is(err, room.ErrUnknownAction):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, room.ErrBanned),
		errors.Is(err, room.ErrAccessDenied),
		errors.Is(err, room.ErrNotAuthorized),
		errors.Is(err, session.ErrMuted):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, audit.ErrClearUnsupported):
		respondError(w, http.StatusNotImplemented, err.Error())
	case errors.Is(err, session.ErrConnectivity):
		respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
