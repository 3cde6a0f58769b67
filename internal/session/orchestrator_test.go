package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatcore.org/internal/ai"
	"chatcore.org/internal/audit"
	"chatcore.org/internal/crypto"
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/room"
	"chatcore.org/internal/store"
	"chatcore.org/internal/store/memstore"
)

type harness struct {
	store    *memstore.Store
	identity *identity.Service
	rooms    *room.Registry
	messages *message.Log
	orch     *Orchestrator
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	st := memstore.New()
	envelope, err := crypto.New("test-secret")
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	recorder := audit.NewRecorder(st)
	idSvc := identity.NewService(st, recorder, identity.WithBuiltinAdmin(identity.BuiltinAdmin{
		Username: "root", Password: "hunter2",
	}))
	rooms := room.NewRegistry(st, recorder, idSvc)
	idSvc.SetRoomEnsurer(rooms)
	messages := message.NewLog(st)
	return &harness{
		store:    st,
		identity: idSvc,
		rooms:    rooms,
		messages: messages,
		orch:     New(idSvc, rooms, messages, recorder, envelope, opts...),
	}
}

func waitEvent(t *testing.T, s *Session, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
			return Event{}
		}
	}
}

func TestLoginWrongCredentials(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.orch.Register(ctx, "alice", "pw"); err != nil {
		t.Fatalf("register: %v", err)
	}
	_, err := h.orch.Login(ctx, "alice", "wrong")
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("login = %v, want ErrInvalidCredentials", err)
	}
}

func TestRegisterOpensAuthenticatedSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.orch.Register(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	defer s.Logout()
	if s.State() != StateAuthenticated {
		t.Fatalf("state = %v", s.State())
	}
	if s.User().Username != "alice" {
		t.Fatalf("user = %+v", s.User())
	}
	// The initial rooms snapshot arrives without any action.
	waitEvent(t, s, func(ev Event) bool { return ev.Kind == EventRooms })
}

func TestBuiltinAdminSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	s, err := h.orch.Login(ctx, "root", "hunter2")
	if err != nil {
		t.Fatalf("builtin login: %v", err)
	}
	defer s.Logout()
	if !s.User().Builtin || !s.User().IsAdmin() {
		t.Fatalf("user = %+v", s.User())
	}
}

func TestFriendAcceptCreatesOnePrivateRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, err := h.orch.Register(ctx, "alice", "pw")
	if err != nil {
		t.Fatalf("register alice: %v", err)
	}
	defer alice.Logout()
	bob, err := h.orch.Register(ctx, "bob", "pw")
	if err != nil {
		t.Fatalf("register bob: %v", err)
	}
	defer bob.Logout()

	if err := alice.SendFriendRequest(ctx, "bob"); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := bob.ResolveFriendRequest(ctx, alice.User().ID, true); err != nil {
		t.Fatalf("accept: %v", err)
	}
	// A second resolve for the same, now-stale request must not fail or fork
	// a second room.
	if err := bob.ResolveFriendRequest(ctx, alice.User().ID, true); err != nil {
		t.Fatalf("repeat accept: %v", err)
	}

	id := room.PrivateRoomID(alice.User().ID, bob.User().ID)
	r, err := h.rooms.Get(ctx, id)
	if err != nil {
		t.Fatalf("private room: %v", err)
	}
	if r.Type != room.TypePrivate || !r.HasParticipant(alice.User().ID) || !r.HasParticipant(bob.User().ID) {
		t.Fatalf("room = %+v", r)
	}
	rooms, err := h.rooms.RoomsFor(ctx, alice.User().ID)
	if err != nil {
		t.Fatalf("rooms for: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("alice participates in %d rooms, want 1", len(rooms))
	}
}

func TestPrivateConversation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, _ := h.orch.Register(ctx, "alice", "pw")
	defer alice.Logout()
	bob, _ := h.orch.Register(ctx, "bob", "pw")
	defer bob.Logout()

	_ = alice.SendFriendRequest(ctx, "bob")
	_ = bob.ResolveFriendRequest(ctx, alice.User().ID, true)
	roomID := room.PrivateRoomID(alice.User().ID, bob.User().ID)

	if err := alice.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("alice join: %v", err)
	}
	if err := bob.JoinRoom(ctx, roomID); err != nil {
		t.Fatalf("bob join: %v", err)
	}
	if alice.State() != StateInRoom {
		t.Fatalf("alice state = %v", alice.State())
	}

	const text = "hello bob"
	if err := alice.SendMessage(ctx, text); err != nil {
		t.Fatalf("send: %v", err)
	}

	// Bob's view shows the opened plaintext.
	waitEvent(t, bob, func(ev Event) bool {
		if ev.Kind != EventMessages {
			return false
		}
		for _, m := range ev.Messages {
			if m.SenderName == "alice" && m.Content == text {
				return true
			}
		}
		return false
	})

	// At rest the content is sealed, not the plaintext.
	history, err := h.messages.History(ctx, roomID, 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history = %d messages", len(history))
	}
	if !history[0].IsEncrypted || history[0].Content == text {
		t.Fatalf("stored message not sealed: %+v", history[0])
	}

	// Bob's receipt lands asynchronously.
	deadline := time.Now().Add(5 * time.Second)
	for {
		history, _ = h.messages.History(ctx, roomID, 0)
		if len(history) == 1 && history[0].HasRead(bob.User().ID) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("read receipt never recorded")
		}
		time.Sleep(20 * time.Millisecond)
	}
	// The sender never acknowledges their own message.
	if history[0].HasRead(alice.User().ID) {
		t.Fatal("sender acknowledged own message")
	}
}

func TestSendRequiresRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, _ := h.orch.Register(ctx, "alice", "pw")
	defer alice.Logout()
	if err := alice.SendMessage(ctx, "hi"); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("send without room = %v, want ErrNotInRoom", err)
	}
}

func TestMuteRejectsLocally(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol, _ := h.orch.Register(ctx, "carol", "pw")
	defer carol.Logout()
	admin, err := h.orch.Login(ctx, "root", "hunter2")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	defer admin.Logout()

	r, err := admin.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if err := carol.JoinRoom(ctx, r.ID); err != nil {
		t.Fatalf("carol join: %v", err)
	}
	if err := admin.JoinRoom(ctx, r.ID); err != nil {
		t.Fatalf("admin join: %v", err)
	}

	if err := admin.SendMessage(ctx, "/mute carol"); err != nil {
		t.Fatalf("mute command: %v", err)
	}

	// Carol's room snapshot catches up and her sends start failing locally.
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := carol.SendMessage(ctx, "am I muted yet")
		if errors.Is(err, ErrMuted) {
			break
		}
		if err != nil {
			t.Fatalf("send = %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("mute never took effect")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Admins are exempt even when muted.
	if _, err := h.rooms.Moderate(ctx, r.ID, room.Actor{ID: admin.User().ID, Name: "root", Admin: true}, room.ActionMute, "carol"); err != nil {
		t.Fatalf("re-mute: %v", err)
	}
	if err := admin.SendMessage(ctx, "still here"); err != nil {
		t.Fatalf("admin send: %v", err)
	}
}

func TestBanEvictsLiveSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol, _ := h.orch.Register(ctx, "carol", "pw")
	defer carol.Logout()
	admin, err := h.orch.Login(ctx, "root", "hunter2")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	defer admin.Logout()

	r, _ := admin.CreateRoom(ctx, "general")
	_ = carol.JoinRoom(ctx, r.ID)
	_ = admin.JoinRoom(ctx, r.ID)

	if err := admin.SendMessage(ctx, "/ban carol"); err != nil {
		t.Fatalf("ban command: %v", err)
	}

	ev := waitEvent(t, carol, func(ev Event) bool { return ev.Kind == EventEvicted })
	if ev.Reason != EvictBanned {
		t.Fatalf("reason = %v, want banned", ev.Reason)
	}
	if carol.State() != StateAuthenticated {
		t.Fatalf("carol state = %v", carol.State())
	}

	// The confirmation is a persisted, unencrypted system message.
	history, _ := h.messages.History(ctx, r.ID, 0)
	var found bool
	for _, m := range history {
		if m.Sender == message.OriginSystem && m.Content == "User carol banned." {
			found = true
		}
	}
	if !found {
		t.Fatalf("confirmation missing from history: %+v", history)
	}

	if err := carol.JoinRoom(ctx, r.ID); !errors.Is(err, room.ErrBanned) {
		t.Fatalf("banned rejoin = %v, want ErrBanned", err)
	}
}

func TestRoomDeletionEvicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol, _ := h.orch.Register(ctx, "carol", "pw")
	defer carol.Logout()
	admin, err := h.orch.Login(ctx, "root", "hunter2")
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	defer admin.Logout()

	r, _ := admin.CreateRoom(ctx, "doomed")
	_ = carol.JoinRoom(ctx, r.ID)

	if err := h.rooms.DeleteRoom(ctx, r.ID, room.Actor{ID: admin.User().ID, Name: "root", Admin: true}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ev := waitEvent(t, carol, func(ev Event) bool { return ev.Kind == EventEvicted })
	if ev.Reason != EvictRoomGone {
		t.Fatalf("reason = %v, want room_gone", ev.Reason)
	}
}

func TestCommandFromNonAdminIsPlainText(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol, _ := h.orch.Register(ctx, "carol", "pw")
	defer carol.Logout()
	dave, _ := h.orch.Register(ctx, "dave", "pw")
	defer dave.Logout()
	admin, _ := h.orch.Login(ctx, "root", "hunter2")
	r, _ := admin.CreateRoom(ctx, "general")
	admin.Logout()

	_ = carol.JoinRoom(ctx, r.ID)
	_ = dave.JoinRoom(ctx, r.ID)

	if err := carol.SendMessage(ctx, "/kick dave"); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, _ := h.rooms.Get(ctx, r.ID)
	if !got.HasParticipant(dave.User().ID) {
		t.Fatal("non-admin command moderated")
	}
	history, _ := h.messages.History(ctx, r.ID, 0)
	if len(history) != 1 || history[0].Sender != message.OriginUser {
		t.Fatalf("history = %+v", history)
	}
}

func TestAssistantReply(t *testing.T) {
	h := newHarness(t, WithGenerator(ai.Static{Reply: "pong"}))
	ctx := context.Background()
	alice, _ := h.orch.Register(ctx, "alice", "pw")
	defer alice.Logout()
	admin, _ := h.orch.Login(ctx, "root", "hunter2")
	r, _ := admin.CreateRoom(ctx, "general")
	admin.Logout()
	_ = alice.JoinRoom(ctx, r.ID)

	if err := alice.SendMessage(ctx, "@ai ping"); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		history, _ := h.messages.History(ctx, r.ID, 0)
		if len(history) == 2 {
			// The sender's own message lands first, the reply after it.
			if history[0].Sender != message.OriginUser {
				t.Fatalf("first message = %+v", history[0])
			}
			if history[1].Sender != message.OriginAI || history[1].Content != "pong" {
				t.Fatalf("reply = %+v", history[1])
			}
			if history[1].IsEncrypted {
				t.Fatal("assistant reply sealed")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("assistant reply never landed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestAssistantFailureBecomesNotice(t *testing.T) {
	h := newHarness(t, WithGenerator(ai.Static{Err: ai.ErrUnavailable}))
	ctx := context.Background()
	alice, _ := h.orch.Register(ctx, "alice", "pw")
	defer alice.Logout()
	admin, _ := h.orch.Login(ctx, "root", "hunter2")
	r, _ := admin.CreateRoom(ctx, "general")
	admin.Logout()
	_ = alice.JoinRoom(ctx, r.ID)

	if err := alice.SendMessage(ctx, "@ai ping"); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		history, _ := h.messages.History(ctx, r.ID, 0)
		if len(history) == 2 {
			if history[1].Sender != message.OriginSystem {
				t.Fatalf("notice = %+v", history[1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("failure notice never landed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestLeaveRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	carol, _ := h.orch.Register(ctx, "carol", "pw")
	defer carol.Logout()
	admin, _ := h.orch.Login(ctx, "root", "hunter2")
	r, _ := admin.CreateRoom(ctx, "general")
	admin.Logout()

	_ = carol.JoinRoom(ctx, r.ID)
	if err := carol.LeaveRoom(ctx); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if carol.State() != StateAuthenticated {
		t.Fatalf("state = %v", carol.State())
	}
	got, _ := h.rooms.Get(ctx, r.ID)
	if got.HasParticipant(carol.User().ID) {
		t.Fatal("still a participant after leave")
	}
	if err := carol.LeaveRoom(ctx); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("second leave = %v, want ErrNotInRoom", err)
	}
}

func TestLogoutClosesSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, _ := h.orch.Register(ctx, "alice", "pw")
	alice.Logout()
	alice.Logout() // idempotent

	if alice.State() != StateAnonymous {
		t.Fatalf("state = %v", alice.State())
	}
	if err := alice.SendMessage(ctx, "hi"); !errors.Is(err, ErrClosed) {
		t.Fatalf("send after logout = %v, want ErrClosed", err)
	}
	if err := alice.JoinRoom(ctx, "anything"); !errors.Is(err, ErrClosed) {
		t.Fatalf("join after logout = %v, want ErrClosed", err)
	}
}

// stallStore delays every query past any reasonable auth timeout.
type stallStore struct {
	store.Store
}

func (s stallStore) Query(ctx context.Context, collection string, preds ...store.Predicate) ([]store.Document, error) {
	select {
	case <-time.After(10 * time.Second):
	case <-ctx.Done():
	}
	return nil, ctx.Err()
}

func TestLoginTimeoutIsConnectivity(t *testing.T) {
	st := stallStore{memstore.New()}
	envelope, _ := crypto.New("test-secret")
	recorder := audit.NewRecorder(st)
	idSvc := identity.NewService(st, recorder)
	rooms := room.NewRegistry(st, recorder, idSvc)
	idSvc.SetRoomEnsurer(rooms)
	orch := New(idSvc, rooms, message.NewLog(st), recorder, envelope,
		WithAuthTimeout(50*time.Millisecond))

	_, err := orch.Login(context.Background(), "alice", "pw")
	if !errors.Is(err, ErrConnectivity) {
		t.Fatalf("stalled login = %v, want ErrConnectivity", err)
	}
}
