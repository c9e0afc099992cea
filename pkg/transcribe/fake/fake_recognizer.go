// Package fake provides scripted recognizers for deterministic channel and
// controller tests.
package fake

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

// DefaultTranscript is used when no transcript is provided.
const DefaultTranscript = "this is a fake transcript"

// FakeRecognizer produces a fixed transcript.
type FakeRecognizer struct {
	transcript string

	// ConnectErr makes every NewStream call fail.
	ConnectErr error

	// ConnectDelay delays NewStream, for connect-grace tests.
	ConnectDelay time.Duration

	// FinalDelay delays the final event after the first pushed frame.
	FinalDelay time.Duration

	// FinalAfterFrames emits the final event after this many frames when
	// > 0; otherwise the final is emitted on CloseSend.
	FinalAfterFrames int

	// StreamErr makes the stream emit an error event after the first
	// pushed frame.
	StreamErr error

	mu       sync.Mutex
	streams  int
	attempts int
}

// NewFakeRecognizer creates a recognizer with a fixed transcript.
func NewFakeRecognizer(transcript string) *FakeRecognizer {
	if transcript == "" {
		transcript = DefaultTranscript
	}
	return &FakeRecognizer{transcript: transcript}
}

// NewUnreachable creates a recognizer whose connections always fail.
func NewUnreachable() *FakeRecognizer {
	return &FakeRecognizer{
		transcript: DefaultTranscript,
		ConnectErr: fmt.Errorf("dial tcp: connection refused"),
	}
}

// StreamCount reports how many streams were opened successfully.
func (f *FakeRecognizer) StreamCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams
}

// Attempts reports how many NewStream calls were made, including failures.
func (f *FakeRecognizer) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// SetTranscript changes the transcript for subsequent streams.
func (f *FakeRecognizer) SetTranscript(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcript = text
}

func (f *FakeRecognizer) NewStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()

	if f.ConnectDelay > 0 {
		select {
		case <-time.After(f.ConnectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.ConnectErr != nil {
		return nil, f.ConnectErr
	}

	f.mu.Lock()
	f.streams++
	transcript := f.transcript
	f.mu.Unlock()

	s := &fakeStream{
		transcript:       transcript,
		finalDelay:       f.FinalDelay,
		finalAfterFrames: f.FinalAfterFrames,
		streamErr:        f.StreamErr,
		events:           make(chan transcribe.Event, 16),
		ctx:              ctx,
	}
	return s, nil
}

func (f *FakeRecognizer) Capabilities() transcribe.Capabilities {
	return transcribe.Capabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en-US"},
		SampleRates:        []int{16000, 48000},
	}
}

type fakeStream struct {
	transcript       string
	finalDelay       time.Duration
	finalAfterFrames int
	streamErr        error
	events           chan transcribe.Event
	ctx              context.Context

	mu         sync.Mutex
	frameCount int
	closed     bool
	emitted    bool
}

func (s *fakeStream) Push(frame audio.Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("stream is closed")
	}
	s.frameCount++
	count := s.frameCount
	s.mu.Unlock()

	if s.streamErr != nil && count == 1 {
		s.emit(transcribe.Event{Kind: transcribe.EventError, Err: s.streamErr})
		return nil
	}

	if count == 1 {
		s.emit(transcribe.Event{
			Kind:      transcribe.EventInterim,
			Text:      s.transcript,
			Timestamp: time.Now().UnixMilli(),
		})
		if s.finalAfterFrames == 0 && s.finalDelay > 0 {
			go func() {
				select {
				case <-time.After(s.finalDelay):
					s.emitFinal()
				case <-s.ctx.Done():
				}
			}()
		}
	}

	if s.finalAfterFrames > 0 && count == s.finalAfterFrames {
		s.emitFinal()
	}
	return nil
}

func (s *fakeStream) Events() <-chan transcribe.Event {
	return s.events
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	if !s.emitted {
		s.emitted = true
		s.send(transcribe.Event{
			Kind:      transcribe.EventFinal,
			Text:      s.transcript,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *fakeStream) emitFinal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.emitted {
		return
	}
	s.emitted = true
	s.send(transcribe.Event{
		Kind:      transcribe.EventFinal,
		Text:      s.transcript,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *fakeStream) emit(ev transcribe.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.send(ev)
}

// send assumes s.mu is held and never blocks; slow consumers drop events.
func (s *fakeStream) send(ev transcribe.Event) {
	select {
	case s.events <- ev:
	default:
	}
}
