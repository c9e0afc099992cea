// Package local provides the on-device fallback strategies. Both shell out
// to whatever speech tooling the host has installed: recognition pipes a
// WAV of the utterance to a transcriber command, synthesis asks a TTS
// command for a WAV on stdout. No network, no credentials.
package local

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/audio/wav"
	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/synth"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

// Default commands. Both are common on-device tools; hosts override them
// when they carry something better.
var (
	// DefaultRecognizeCommand reads a WAV on stdin and prints the
	// transcript on stdout.
	DefaultRecognizeCommand = []string{"whisper-cli", "--no-timestamps", "--output-txt", "-"}

	// DefaultSynthesizeCommand receives the text as its final argument
	// and writes a WAV to stdout.
	DefaultSynthesizeCommand = []string{"espeak-ng", "--stdout"}
)

// Recognizer implements transcribe.Recognizer by piping the utterance
// through a local transcription command once the stream is closed.
type Recognizer struct {
	command []string
}

// NewRecognizer creates a local recognizer. An empty command uses
// DefaultRecognizeCommand.
func NewRecognizer(command ...string) *Recognizer {
	if len(command) == 0 {
		command = DefaultRecognizeCommand
	}
	return &Recognizer{command: command}
}

func (r *Recognizer) NewStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	if _, err := exec.LookPath(r.command[0]); err != nil {
		return nil, fmt.Errorf("local recognizer %q not installed: %w", r.command[0], err)
	}
	s := &localStream{
		ctx:     ctx,
		command: r.command,
		events:  make(chan transcribe.Event, 2),
	}
	return s, nil
}

func (r *Recognizer) Capabilities() transcribe.Capabilities {
	return transcribe.Capabilities{
		Streaming:          false,
		InterimResults:     false,
		SupportedLanguages: []string{"en"},
		SampleRates:        []int{16000},
	}
}

type localStream struct {
	ctx     context.Context
	command []string

	mu     sync.Mutex
	frames []audio.Frame
	closed bool

	events chan transcribe.Event
}

func (s *localStream) Push(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream is closed")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *localStream) Events() <-chan transcribe.Event {
	return s.events
}

// CloseSend runs the transcription command over the buffered audio and
// emits the result as the final event.
func (s *localStream) CloseSend() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	frames := s.frames
	s.frames = nil
	s.mu.Unlock()

	go s.transcribe(frames)
	return nil
}

func (s *localStream) transcribe(frames []audio.Frame) {
	defer close(s.events)

	if len(frames) == 0 {
		s.emit(transcribe.Event{Kind: transcribe.EventFinal, Text: ""})
		return
	}

	wavData, err := wav.EncodeFrames(frames)
	if err != nil {
		s.emit(transcribe.Event{Kind: transcribe.EventError, Err: err})
		return
	}

	cmd := exec.CommandContext(s.ctx, s.command[0], s.command[1:]...)
	cmd.Stdin = bytes.NewReader(wavData)
	out, err := cmd.Output()
	if err != nil {
		s.emit(transcribe.Event{Kind: transcribe.EventError,
			Err: fmt.Errorf("local transcription command failed: %w", err)})
		return
	}

	s.emit(transcribe.Event{
		Kind:      transcribe.EventFinal,
		Text:      strings.TrimSpace(string(out)),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *localStream) emit(e transcribe.Event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

// Synthesizer implements synth.Synthesizer with a local TTS command.
type Synthesizer struct {
	command []string
}

// NewSynthesizer creates a local synthesizer. An empty command uses
// DefaultSynthesizeCommand.
func NewSynthesizer(command ...string) *Synthesizer {
	if len(command) == 0 {
		command = DefaultSynthesizeCommand
	}
	return &Synthesizer{command: command}
}

func (t *Synthesizer) Synthesize(ctx context.Context, req synth.Request) (*synth.Clip, error) {
	args := append(append([]string(nil), t.command[1:]...), req.Text)
	cmd := exec.CommandContext(ctx, t.command[0], args...)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("local synthesis command failed: %w", err)
	}

	pcm, sampleRate, numChannels, err := wav.Decode(out)
	if err != nil {
		return nil, provider.Undecodable(err, "local synthesis produced undecodable audio")
	}

	return &synth.Clip{
		Text:        req.Text,
		PCM:         append([]byte(nil), pcm...),
		SampleRate:  sampleRate,
		NumChannels: numChannels,
	}, nil
}

func (t *Synthesizer) Capabilities() synth.Capabilities {
	return synth.Capabilities{
		Streaming:          false,
		SupportedLanguages: []string{"en"},
		SupportedVoices:    []string{"default"},
		SampleRates:        []int{22050},
	}
}
