// Package convo holds the conversation turn types shared by the engine and
// its host application.
package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced an utterance.
type Speaker int

const (
	SpeakerUser Speaker = iota
	SpeakerAgent
)

func (s Speaker) String() string {
	switch s {
	case SpeakerUser:
		return "user"
	case SpeakerAgent:
		return "agent"
	default:
		return "unknown"
	}
}

// Utterance is a single user or agent turn. Immutable once created.
type Utterance struct {
	ID        string
	Speaker   Speaker
	Text      string
	CreatedAt time.Time
}

// NewUtterance creates an utterance with a fresh ID and timestamp.
func NewUtterance(speaker Speaker, text string) Utterance {
	return Utterance{
		ID:        uuid.NewString(),
		Speaker:   speaker,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// History is the append-only conversation log. The host application usually
// owns the real transcript store; the engine only appends and reads recent
// turns for reply context.
type History interface {
	// Append adds an utterance to the end of the log.
	Append(u Utterance)

	// Recent returns up to n most recent utterances, oldest first.
	Recent(n int) []Utterance
}

// MemoryHistory is an in-memory History for hosts that don't bring their own.
// Safe for concurrent use.
type MemoryHistory struct {
	mu   sync.Mutex
	log  []Utterance
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) Append(u Utterance) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.log = append(h.log, u)
}

func (h *MemoryHistory) Recent(n int) []Utterance {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n <= 0 || len(h.log) == 0 {
		return nil
	}
	if n > len(h.log) {
		n = len(h.log)
	}
	out := make([]Utterance, n)
	copy(out, h.log[len(h.log)-n:])
	return out
}

// Len returns the number of logged utterances.
func (h *MemoryHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.log)
}
