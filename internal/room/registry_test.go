package room

import (
	"context"
	"errors"
	"testing"

	"chatcore.org/internal/audit"
	"chatcore.org/internal/store/memstore"
)

// directory is a fixed username to id map.
type directory map[string]string

func (d directory) UserIDByUsername(ctx context.Context, username string) (string, error) {
	id, ok := d[username]
	if !ok {
		return "", ErrUserNotFound
	}
	return id, nil
}

func newTestRegistry(t *testing.T, users directory) *Registry {
	t.Helper()
	st := memstore.New()
	return NewRegistry(st, audit.NewRecorder(st), users)
}

func TestPrivateRoomIDDeterministic(t *testing.T) {
	a := PrivateRoomID("u2", "u1")
	b := PrivateRoomID("u1", "u2")
	if a != b {
		t.Fatalf("order-sensitive id: %q vs %q", a, b)
	}
	if a != "private-u1-u2" {
		t.Fatalf("id = %q", a)
	}
}

func TestCreateGroup(t *testing.T) {
	g := newTestRegistry(t, directory{})
	ctx := context.Background()

	room, err := g.CreateGroup(ctx, "general", "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(room.ID) != 7 {
		t.Fatalf("room code = %q, want 7 digits", room.ID)
	}
	if room.Type != TypeGroup || !room.HasParticipant("u1") {
		t.Fatalf("unexpected room: %+v", room)
	}
	got, err := g.Get(ctx, room.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "general" {
		t.Fatalf("persisted name = %q", got.Name)
	}
}

func TestEnsurePrivateRoomIdempotent(t *testing.T) {
	g := newTestRegistry(t, directory{})
	ctx := context.Background()

	if err := g.EnsurePrivateRoom(ctx, "u1", "u2"); err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	if err := g.EnsurePrivateRoom(ctx, "u2", "u1"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	room, err := g.Get(ctx, PrivateRoomID("u1", "u2"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !room.HasParticipant("u1") || !room.HasParticipant("u2") {
		t.Fatalf("participants = %v", room.Participants)
	}
}

func TestJoinGroup(t *testing.T) {
	g := newTestRegistry(t, directory{})
	ctx := context.Background()
	room, _ := g.CreateGroup(ctx, "general", "u1")

	if err := g.Join(ctx, room.ID, "u2", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Joining twice is a no-op.
	if err := g.Join(ctx, room.ID, "u2", false); err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	got, _ := g.Get(ctx, room.ID)
	if len(got.Participants) != 2 {
		t.Fatalf("participants = %v", got.Participants)
	}
}

func TestJoinMissingRoom(t *testing.T) {
	g := newTestRegistry(t, directory{})
	err := g.Join(context.Background(), "0000000", "u1", false)
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join missing = %v, want ErrRoomNotFound", err)
	}
}

func TestPrivateRoomClosedMembership(t *testing.T) {
	g := newTestRegistry(t, directory{})
	ctx := context.Background()
	_ = g.EnsurePrivateRoom(ctx, "u1", "u2")
	id := PrivateRoomID("u1", "u2")

	if err := g.Join(ctx, id, "u3", false); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("outsider join = %v, want ErrAccessDenied", err)
	}
	// A member re-joining their own private room is fine.
	if err := g.Join(ctx, id, "u1", false); err != nil {
		t.Fatalf("member join: %v", err)
	}
	// Admins bypass the gate.
	if err := g.Join(ctx, id, "u3", true); err != nil {
		t.Fatalf("admin join: %v", err)
	}
}

func TestModerateRequiresAdmin(t *testing.T) {
	g := newTestRegistry(t, directory{"carol": "u3"})
	ctx := context.Background()
	room, _ := g.CreateGroup(ctx, "general", "u1")

	_, err := g.Moderate(ctx, room.ID, Actor{ID: "u1", Name: "alice"}, ActionKick, "carol")
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin moderate = %v, want ErrNotAuthorized", err)
	}
}

func TestModerateBanEvictsAndBlocksRejoin(t *testing.T) {
	g := newTestRegistry(t, directory{"carol": "u3"})
	ctx := context.Background()
	room, _ := g.CreateGroup(ctx, "general", "u1")
	_ = g.Join(ctx, room.ID, "u3", false)

	admin := Actor{ID: "a1", Name: "root", Admin: true}
	confirmation, err := g.Moderate(ctx, room.ID, admin, ActionBan, "carol")
	if err != nil {
		t.Fatalf("ban: %v", err)
	}
	if confirmation != "User carol banned." {
		t.Fatalf("confirmation = %q", confirmation)
	}

	got, _ := g.Get(ctx, room.ID)
	if got.HasParticipant("u3") {
		t.Fatal("banned user still a participant")
	}
	if !got.IsBanned("u3") {
		t.Fatal("ban not recorded")
	}
	if err := g.Join(ctx, room.ID, "u3", false); !errors.Is(err, ErrBanned) {
		t.Fatalf("banned rejoin = %v, want ErrBanned", err)
	}

	// Banning again changes nothing.
	if _, err := g.Moderate(ctx, room.ID, admin, ActionBan, "carol"); err != nil {
		t.Fatalf("second ban: %v", err)
	}
	got, _ = g.Get(ctx, room.ID)
	if len(got.BannedUsers) != 1 {
		t.Fatalf("banned set = %v", got.BannedUsers)
	}
}

func TestModerateKickAndMute(t *testing.T) {
	g := newTestRegistry(t, directory{"carol": "u3"})
	ctx := context.Background()
	room, _ := g.CreateGroup(ctx, "general", "u1")
	_ = g.Join(ctx, room.ID, "u3", false)
	admin := Actor{ID: "a1", Name: "root", Admin: true}

	confirmation, err := g.Moderate(ctx, room.ID, admin, ActionMute, "carol")
	if err != nil {
		t.Fatalf("mute: %v", err)
	}
	if confirmation != "User carol muted." {
		t.Fatalf("confirmation = %q", confirmation)
	}
	got, _ := g.Get(ctx, room.ID)
	if !got.IsMuted("u3") || !got.HasParticipant("u3") {
		t.Fatalf("mute state: muted=%v participants=%v", got.MutedUsers, got.Participants)
	}

	confirmation, err = g.Moderate(ctx, room.ID, admin, ActionKick, "carol")
	if err != nil {
		t.Fatalf("kick: %v", err)
	}
	if confirmation != "User carol kicked." {
		t.Fatalf("confirmation = %q", confirmation)
	}
	got, _ = g.Get(ctx, room.ID)
	if got.HasParticipant("u3") {
		t.Fatal("kicked user still a participant")
	}
	// Kick is not a ban: rejoin succeeds.
	if err := g.Join(ctx, room.ID, "u3", false); err != nil {
		t.Fatalf("rejoin after kick: %v", err)
	}
}

func TestModerateUnknownTargetAndAction(t *testing.T) {
	g := newTestRegistry(t, directory{"carol": "u3"})
	ctx := context.Background()
	room, _ := g.CreateGroup(ctx, "general", "u1")
	admin := Actor{ID: "a1", Name: "root", Admin: true}

	if _, err := g.Moderate(ctx, room.ID, admin, ActionKick, "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("unknown target = %v, want ErrUserNotFound", err)
	}
	if _, err := g.Moderate(ctx, room.ID, admin, Action("promote"), "carol"); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("unknown action = %v, want ErrUnknownAction", err)
	}
}

func TestDeleteRoom(t *testing.T) {
	g := newTestRegistry(t, directory{})
	ctx := context.Background()
	room, _ := g.CreateGroup(ctx, "general", "u1")

	if err := g.DeleteRoom(ctx, room.ID, Actor{ID: "u1", Name: "alice"}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("non-admin delete = %v, want ErrNotAuthorized", err)
	}
	if err := g.DeleteRoom(ctx, room.ID, Actor{ID: "a1", Name: "root", Admin: true}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := g.Get(ctx, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("get deleted = %v, want ErrRoomNotFound", err)
	}
}

func TestRoomsFor(t *testing.T) {
	g := newTestRegistry(t, directory{})
	ctx := context.Background()
	r1, _ := g.CreateGroup(ctx, "one", "u1")
	_, _ = g.CreateGroup(ctx, "two", "u2")
	_ = g.EnsurePrivateRoom(ctx, "u1", "u3")

	rooms, err := g.RoomsFor(ctx, "u1")
	if err != nil {
		t.Fatalf("rooms for: %v", err)
	}
	if len(rooms) != 2 {
		t.Fatalf("rooms = %d, want 2", len(rooms))
	}
	found := false
	for _, r := range rooms {
		if r.ID == r1.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("created room missing from list")
	}
}
