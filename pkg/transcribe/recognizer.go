// Package transcribe implements the transcription channel: "listen once,
// get text" behind a single interface, with a streaming cloud recognizer as
// the primary strategy and a local recognizer as the fallback.
package transcribe

import (
	"context"
	"errors"

	"github.com/solacehealth/voiceloop/pkg/audio"
)

// ErrDuplicate marks a transcript identical to the immediately preceding
// one. Informational, not a failure: the duplicate is an artifact and no
// user turn is emitted.
var ErrDuplicate = errors.New("duplicate transcript suppressed")

// ErrBusy is returned when Listen is called while a listening session is
// already active. At most one capture may exist at a time.
var ErrBusy = errors.New("listen already in progress")

// StreamConfig contains configuration for recognizer streams.
type StreamConfig struct {
	SampleRate  int
	NumChannels int
	Lang        string
}

// EventKind classifies recognition events.
type EventKind int

const (
	// EventInterim carries a partial transcript that may still change.
	EventInterim EventKind = iota
	// EventFinal carries a final transcript that won't change.
	EventFinal
	// EventError carries a recognition failure.
	EventError
)

// Event is a single speech recognition event.
type Event struct {
	Kind      EventKind
	Text      string
	Timestamp int64 // milliseconds since epoch
	Err       error // only set for EventError
}

// Capabilities describes a recognizer.
type Capabilities struct {
	Streaming          bool
	InterimResults     bool
	SupportedLanguages []string
	SampleRates        []int
}

// Recognizer is a speech-to-text strategy.
type Recognizer interface {
	// NewStream opens a recognition session.
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)

	// Capabilities returns the recognizer's capabilities.
	Capabilities() Capabilities
}

// Stream is an active recognition session.
type Stream interface {
	// Push sends an audio frame for recognition.
	Push(frame audio.Frame) error

	// Events returns the recognition event channel. It closes when the
	// session ends.
	Events() <-chan Event

	// CloseSend signals that no more audio will be sent and flushes any
	// pending transcript.
	CloseSend() error
}
