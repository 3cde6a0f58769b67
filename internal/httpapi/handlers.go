package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
)

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	user, err := a.identity.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	a.issueToken(w, identity.Identity{User: *user}, http.StatusCreated)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := a.identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if err := a.identity.RecordLogin(r.Context(), id); err != nil {
		respondDomainError(w, err)
		return
	}
	a.issueToken(w, id, http.StatusOK)
}

func (a *API) issueToken(w http.ResponseWriter, id identity.Identity, code int) {
	token, expiresAt, err := a.minter.Mint(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, code, tokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		UserID:    id.ID,
		Username:  id.Username,
		Role:      string(id.Role),
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	// Never expose the password hash.
	writeJSON(w, http.StatusOK, map[string]any{
		"id":              id.ID,
		"username":        id.Username,
		"role":            id.Role,
		"builtin":         id.Builtin,
		"friends":         id.Friends,
		"friend_requests": id.FriendRequests,
		"last_login":      id.LastLogin,
	})
}

type friendRequestBody struct {
	Username string `json:"username"`
}

func (a *API) handleFriendRequest(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req friendRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.identity.SendFriendRequest(r.Context(), id.ID, strings.TrimSpace(req.Username)); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "pending"})
}

type friendResolveBody struct {
	Accept bool `json:"accept"`
}

func (a *API) handleFriendResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	requester := r.PathValue("requester")
	var req friendResolveBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.identity.ResolveFriendRequest(r.Context(), id.ID, requester, req.Accept); err != nil {
		respondDomainError(w, err)
		return
	}
	status := "rejected"
	if req.Accept {
		status = "accepted"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (a *API) handleRoomList(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	rooms, err := a.rooms.RoomsFor(r.Context(), id.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

type roomCreateBody struct {
	Name string `json:"name"`
}

func (a *API) handleRoomCreate(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req roomCreateBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	created, err := a.rooms.CreateGroup(r.Context(), req.Name, id.ID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRoomJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	roomID := r.PathValue("id")
	if err := a.rooms.Join(r.Context(), roomID, id.ID, id.IsAdmin()); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "joined"})
}

func (a *API) handleRoomLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	if err := a.rooms.Leave(r.Context(), r.PathValue("id"), id.ID); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "left"})
}

type moderateBody struct {
	Action string `json:"action"`
	Target string `json:"target"`
}

func (a *API) handleRoomModerate(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req moderateBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := room.Actor{ID: id.ID, Name: id.Username, Admin: id.IsAdmin()}
	confirmation, err := a.rooms.Moderate(r.Context(), r.PathValue("id"), actor, room.Action(req.Action), req.Target)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	// Persist the confirmation like the in-session command path does.
	_, err = a.messages.Append(r.Context(), r.PathValue("id"), message.Message{
		Sender:     message.OriginSystem,
		SenderName: "system",
		Content:    confirmation,
		Kind:       message.KindText,
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"confirmation": confirmation})
}

func (a *API) handleRoomDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	actor := room.Actor{ID: id.ID, Name: id.Username, Admin: id.IsAdmin()}
	if err := a.rooms.DeleteRoom(r.Context(), r.PathValue("id"), actor); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// roomView loads a room and enforces the read gate: admins see everything,
// banned users and outsiders of private rooms see nothing.
func (a *API) roomView(ctx context.Context, roomID, userID string, admin bool) (*room.Room, error) {
	rm, err := a.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if admin {
		return rm, nil
	}
	if rm.IsBanned(userID) {
		return nil, room.ErrBanned
	}
	if !rm.HasParticipant(userID) {
		return nil, room.ErrAccessDenied
	}
	return rm, nil
}

func (a *API) handleMessageHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	roomID := r.PathValue("id")
	if _, err := a.roomView(r.Context(), roomID, id.ID, id.IsAdmin()); err != nil {
		respondDomainError(w, err)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	msgs, err := a.messages.History(r.Context(), roomID, limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	// Acknowledge receipts off the response path, like the live view does.
	ack := make([]message.Message, len(msgs))
	copy(ack, msgs)
	go func() {
		if err := a.messages.MarkRead(context.Background(), roomID, id.ID, id.Username, ack); err != nil {
			obs.LogEvent(map[string]any{"type": "error", "msg": "mark read failed", "err": err.Error()})
		}
	}()

	writeJSON(w, http.StatusOK, map[string]any{"messages": a.opened(msgs)})
}

// opened returns a copy of msgs with sealed contents opened for rendering.
func (a *API) opened(msgs []message.Message) []message.Message {
	out := make([]message.Message, len(msgs))
	copy(out, msgs)
	for i := range out {
		if out[i].IsEncrypted {
			out[i].Content = a.envelope.Open(out[i].Content)
		}
	}
	return out
}

type sendBody struct {
	Text     string `json:"text"`
	Kind     string `json:"kind,omitempty"`
	Content  string `json:"content,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
}

func (a *API) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	roomID := r.PathValue("id")
	rm, err := a.roomView(r.Context(), roomID, id.ID, id.IsAdmin())
	if err != nil {
		respondDomainError(w, err)
		return
	}

	var req sendBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch {
	case req.Kind != "" && req.Kind != string(message.KindText):
		if req.Content == "" {
			respondError(w, http.StatusBadRequest, "content is required")
			return
		}
		err = a.orch.DeliverFile(r.Context(), id, roomID, rm, message.Kind(req.Kind), req.Content, req.FileName, req.FileSize)
	case strings.TrimSpace(req.Text) == "":
		respondError(w, http.StatusBadRequest, "text is required")
		return
	default:
		err = a.orch.Deliver(r.Context(), id, roomID, rm, req.Text)
	}
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handleSystemLog(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok || !id.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin only")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := a.audit.Recent(r.Context(), limit)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (a *API) handleSystemLogClear(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok || !id.IsAdmin() {
		respondError(w, http.StatusForbidden, "admin only")
		return
	}
	if err := a.audit.Clear(r.Context()); err != nil {
		respondDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}
