package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"chatcore.org/internal/audit"
	"chatcore.org/internal/crypto"
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
	"chatcore.org/internal/session"
	"chatcore.org/internal/store/memstore"
)

// End-to-end exercise against the in-memory backend: two users register,
// become friends, meet in their private room and exchange a message with
// read receipts. Exits non-zero on the first broken expectation.
func main() {
	obs.Init()

	st := memstore.New()
	envelope, err := crypto.New("smoke-secret")
	if err != nil {
		log.Fatalf("envelope: %v", err)
	}
	recorder := audit.NewRecorder(st)
	idSvc := identity.NewService(st, recorder)
	rooms := room.NewRegistry(st, recorder, idSvc)
	idSvc.SetRoomEnsurer(rooms)
	messages := message.NewLog(st)
	orch := session.New(idSvc, rooms, messages, recorder, envelope)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, err := orch.Register(ctx, "alice", "correct-horse")
	if err != nil {
		log.Fatalf("register alice: %v", err)
	}
	bob, err := orch.Register(ctx, "bob", "battery-staple")
	if err != nil {
		log.Fatalf("register bob: %v", err)
	}

	if err := alice.SendFriendRequest(ctx, "bob"); err != nil {
		log.Fatalf("friend request: %v", err)
	}
	if err := bob.ResolveFriendRequest(ctx, alice.User().ID, true); err != nil {
		log.Fatalf("accept: %v", err)
	}

	privateID := room.PrivateRoomID(alice.User().ID, bob.User().ID)
	if _, err := rooms.Get(ctx, privateID); err != nil {
		log.Fatalf("private room missing: %v", err)
	}

	if err := alice.JoinRoom(ctx, privateID); err != nil {
		log.Fatalf("alice join: %v", err)
	}
	if err := bob.JoinRoom(ctx, privateID); err != nil {
		log.Fatalf("bob join: %v", err)
	}

	const greeting = "hello from the smoke run"
	if err := alice.SendMessage(ctx, greeting); err != nil {
		log.Fatalf("send: %v", err)
	}

	// Bob's live view should surface the opened text and produce a receipt.
	deadline := time.After(5 * time.Second)
	var seen bool
	for !seen {
		select {
		case ev := <-bob.Events():
			if ev.Kind != session.EventMessages {
				continue
			}
			for _, m := range ev.Messages {
				if m.Content == greeting && m.SenderName == "alice" {
					seen = true
				}
			}
		case <-deadline:
			log.Fatal("bob never saw alice's message")
		}
	}

	// Receipts land asynchronously; poll the stored history.
	receiptDeadline := time.Now().Add(5 * time.Second)
	for {
		history, err := messages.History(ctx, privateID, 10)
		if err != nil {
			log.Fatalf("history: %v", err)
		}
		var read bool
		for _, m := range history {
			if m.SenderName == "alice" && m.HasRead(bob.User().ID) {
				read = true
			}
		}
		if read {
			break
		}
		if time.Now().After(receiptDeadline) {
			log.Fatal("read receipt never recorded")
		}
		time.Sleep(50 * time.Millisecond)
	}

	alice.Logout()
	bob.Logout()
	fmt.Printf("✅ chatcore smoke test passed: room=%s\n", privateID)
}
