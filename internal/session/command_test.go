package session

import (
	"testing"

	"chatcore.org/internal/room"
)

func TestParseInput(t *testing.T) {
	cases := []struct {
		name string
		text string
		want parsedInput
	}{
		{"plain", "hello there", parsedInput{kind: inputPlain}},
		{"kick", "/kick carol", parsedInput{kind: inputCommand, action: room.ActionKick, target: "carol"}},
		{"ban", "  /ban carol  ", parsedInput{kind: inputCommand, action: room.ActionBan, target: "carol"}},
		{"mute", "/mute carol", parsedInput{kind: inputCommand, action: room.ActionMute, target: "carol"}},
		{"command without target", "/kick", parsedInput{kind: inputPlain}},
		{"unknown command", "/promote carol", parsedInput{kind: inputPlain}},
		{"slash mid-sentence", "this /kick is not a command", parsedInput{kind: inputPlain}},
		{"assistant", "@ai what is the weather", parsedInput{kind: inputAssistant, prompt: "what is the weather"}},
		{"assistant mid-sentence", "hey @ai help me", parsedInput{kind: inputAssistant, prompt: "hey  help me"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseInput(tc.text)
			if got != tc.want {
				t.Fatalf("parseInput(%q) = %+v, want %+v", tc.text, got, tc.want)
			}
		})
	}
}
