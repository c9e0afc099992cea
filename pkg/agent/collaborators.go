package agent

import (
	"context"
	"strings"
	"unicode"

	"github.com/solacehealth/voiceloop/pkg/convo"
)

// Transcriber runs one microphone listening attempt per call. Implemented
// by *transcribe.Channel.
type Transcriber interface {
	Listen(ctx context.Context) (convo.Utterance, error)
	Cancel()
}

// ReplyGenerator produces the agent's reply to a finalized user utterance.
// The controller never blocks its event loop on generation.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, userText string, recent []convo.Utterance) (string, error)
}

// EmergencyNotifier is fired, at most once per utterance, when a finalized
// user utterance contains an emergency keyword.
type EmergencyNotifier interface {
	NotifyEmergency()
}

// StateListener receives UI-facing state notifications: "listening",
// "speaking", "countdown:n", "idle" and "error:reason".
type StateListener interface {
	StateChanged(state string)
}

func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		set[strings.ToLower(kw)] = struct{}{}
	}
	return set
}

// matchKeyword reports whether any word of text, compared case
// insensitively on word boundaries, is in the keyword set.
func matchKeyword(text string, keywords map[string]struct{}) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		if _, ok := keywords[w]; ok {
			return true
		}
	}
	return false
}
