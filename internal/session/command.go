package session

import (
	"strings"

	"chatcore.org/internal/room"
)

// inputKind classifies one outgoing message, evaluated exactly once per
// send instead of scattering string matching through the send path.
type inputKind int

const (
	inputPlain inputKind = iota
	inputCommand
	inputAssistant
)

// assistantMarker triggers the generation collaborator when present in a
// message.
const assistantMarker = "@ai"

// parsedInput is the tagged union for an outgoing message.
type parsedInput struct {
	kind   inputKind
	action room.Action
	target string
	prompt string
}

var commandActions = map[string]room.Action{
	"/kick": room.ActionKick,
	"/ban":  room.ActionBan,
	"/mute": room.ActionMute,
}

// parseInput classifies text. Slash-commands are only dispatched for
// administrative senders; the caller decides that.
func parseInput(text string) parsedInput {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "/") {
		fields := strings.Fields(trimmed)
		if action, ok := commandActions[fields[0]]; ok && len(fields) >= 2 {
			return parsedInput{kind: inputCommand, action: action, target: fields[1]}
		}
	}
	if strings.Contains(trimmed, assistantMarker) {
		prompt := strings.TrimSpace(strings.ReplaceAll(trimmed, assistantMarker, ""))
		return parsedInput{kind: inputAssistant, prompt: prompt}
	}
	return parsedInput{kind: inputPlain}
}
