package session

import (
	"context"
	"fmt"

	"chatcore.org/internal/audit"
	"chatcore.org/internal/identity"
	"chatcore.org/internal/message"
	"chatcore.org/internal/obs"
	"chatcore.org/internal/room"
)

// Deliver processes one outgoing message for user in roomID. snapshot, when
// non-nil, is the latest subscribed room state and makes the mute check a
// purely local decision; without it the room is read once from the store.
// Administrative slash-commands dispatch to moderation with a persisted
// system confirmation; the assistant marker appends the sender's sealed
// message first and runs generation off the caller's path.
func (o *Orchestrator) Deliver(ctx context.Context, user identity.Identity, roomID string, snapshot *room.Room, text string) error {
	r := snapshot
	if r == nil {
		loaded, err := o.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		r = loaded
	}
	if r.IsMuted(user.ID) && !user.IsAdmin() {
		return ErrMuted
	}

	parsed := parseInput(text)
	switch {
	case parsed.kind == inputCommand && user.IsAdmin():
		return o.runCommand(ctx, roomID, user, parsed)
	case parsed.kind == inputAssistant:
		if err := o.appendUserText(ctx, roomID, user, text); err != nil {
			return err
		}
		o.spawnAssistant(roomID, parsed.prompt)
		return nil
	default:
		return o.appendUserText(ctx, roomID, user, text)
	}
}

// DeliverFile appends a non-text message; content is an opaque reference
// (url or data uri) and is sealed like text.
func (o *Orchestrator) DeliverFile(ctx context.Context, user identity.Identity, roomID string, snapshot *room.Room, kind message.Kind, content, fileName string, fileSize int64) error {
	r := snapshot
	if r == nil {
		loaded, err := o.rooms.Get(ctx, roomID)
		if err != nil {
			return err
		}
		r = loaded
	}
	if r.IsMuted(user.ID) && !user.IsAdmin() {
		return ErrMuted
	}
	sealed, err := o.envelope.Seal(content)
	if err != nil {
		return err
	}
	_, err = o.messages.Append(ctx, roomID, message.Message{
		Sender:      message.OriginUser,
		SenderName:  user.Username,
		Content:     sealed,
		IsEncrypted: true,
		Kind:        kind,
		FileName:    fileName,
		FileSize:    fileSize,
	})
	return err
}

func (o *Orchestrator) appendUserText(ctx context.Context, roomID string, user identity.Identity, text string) error {
	sealed, err := o.envelope.Seal(text)
	if err != nil {
		return err
	}
	_, err = o.messages.Append(ctx, roomID, message.Message{
		Sender:      message.OriginUser,
		SenderName:  user.Username,
		Content:     sealed,
		IsEncrypted: true,
		Kind:        message.KindText,
	})
	return err
}

// runCommand dispatches a parsed moderation command and persists the
// confirmation as a system-origin message.
func (o *Orchestrator) runCommand(ctx context.Context, roomID string, user identity.Identity, parsed parsedInput) error {
	actor := room.Actor{ID: user.ID, Name: user.Username, Admin: user.IsAdmin()}
	confirmation, err := o.rooms.Moderate(ctx, roomID, actor, parsed.action, parsed.target)
	if err != nil {
		return err
	}
	_, err = o.messages.Append(ctx, roomID, message.Message{
		Sender:     message.OriginSystem,
		SenderName: "system",
		Content:    confirmation,
		Kind:       message.KindText,
	})
	return err
}

// spawnAssistant runs the generation call asynchronously. The reply lands
// as an ai-origin message; failure becomes a system-origin notice, never an
// error to the sender.
func (o *Orchestrator) spawnAssistant(roomID, prompt string) {
	if o.gen == nil {
		return
	}
	go func() {
		ctx := context.Background()
		reply, err := o.gen.Generate(ctx, prompt, "")
		if err != nil {
			obs.GenerationFinished("error")
			_ = o.audit.Record(ctx, "assistant.error", err.Error(), audit.LevelWarning)
			_, _ = o.messages.Append(ctx, roomID, message.Message{
				Sender:     message.OriginSystem,
				SenderName: "system",
				Content:    fmt.Sprintf("Assistant unavailable: %v", err),
				Kind:       message.KindText,
			})
			return
		}
		obs.GenerationFinished("ok")
		_, _ = o.messages.Append(ctx, roomID, message.Message{
			Sender:     message.OriginAI,
			SenderName: "assistant",
			Content:    reply,
			Kind:       message.KindText,
		})
	}()
}
