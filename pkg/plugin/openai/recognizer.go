package openai

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/audio/wav"
	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

// Whisper has no realtime API, so the recognizer pseudo-streams: it buffers
// frames and transcribes the accumulated audio on an interval, emitting the
// result as an interim. CloseSend transcribes the whole utterance once more
// for the final.
const (
	defaultBatchInterval = 3 * time.Second

	// Whisper rejects audio shorter than 100ms.
	minAudioDuration = 100 * time.Millisecond
)

// WhisperRecognizer implements transcribe.Recognizer using the Whisper API.
type WhisperRecognizer struct {
	client *openai.Client
	model  string

	// BatchInterval overrides the transcription cadence, for tests.
	BatchInterval time.Duration
}

// NewWhisperRecognizer creates a batch transcription recognizer.
func NewWhisperRecognizer(cfg Config) (*WhisperRecognizer, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	model := cfg.WhisperModel
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperRecognizer{client: client, model: model, BatchInterval: defaultBatchInterval}, nil
}

func (w *WhisperRecognizer) NewStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	s := &whisperStream{
		rec:      w,
		ctx:      ctx,
		lang:     whisperLang(cfg.Lang),
		events:   make(chan transcribe.Event, 10),
		closedCh: make(chan struct{}),
	}
	go s.processLoop()
	return s, nil
}

func (w *WhisperRecognizer) Capabilities() transcribe.Capabilities {
	return transcribe.Capabilities{
		Streaming:          true, // pseudo-streaming via batching
		InterimResults:     true,
		SupportedLanguages: []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		SampleRates:        []int{16000, 22050, 44100, 48000},
	}
}

// whisperLang maps a BCP 47 tag like "en-US" to Whisper's two-letter code.
func whisperLang(tag string) string {
	if tag == "" {
		return ""
	}
	if i := strings.IndexByte(tag, '-'); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

type whisperStream struct {
	rec  *WhisperRecognizer
	ctx  context.Context
	lang string

	mu       sync.Mutex
	frames   []audio.Frame
	closed   bool
	closedCh chan struct{}

	events chan transcribe.Event
}

func (s *whisperStream) Push(frame audio.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream is closed")
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *whisperStream) Events() <-chan transcribe.Event {
	return s.events
}

func (s *whisperStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closedCh)
	return nil
}

func (s *whisperStream) processLoop() {
	defer close(s.events)

	ticker := time.NewTicker(s.rec.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.closedCh:
			s.flush(true)
			return
		case <-ticker.C:
			s.flush(false)
		}
	}
}

// flush transcribes everything buffered so far. Non-final passes keep the
// buffer so the final covers the whole utterance.
func (s *whisperStream) flush(final bool) {
	s.mu.Lock()
	frames := make([]audio.Frame, len(s.frames))
	copy(frames, s.frames)
	s.mu.Unlock()

	var total time.Duration
	for _, f := range frames {
		total += f.Duration()
	}
	if total < minAudioDuration {
		if final {
			s.emit(transcribe.Event{Kind: transcribe.EventFinal, Text: ""})
		}
		return
	}

	wavData, err := wav.EncodeFrames(frames)
	if err != nil {
		s.emit(transcribe.Event{Kind: transcribe.EventError, Err: provider.Undecodable(err, "audio encode failed")})
		return
	}

	resp, err := s.rec.client.CreateTranscription(s.ctx, openai.AudioRequest{
		Model:    s.rec.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wavData),
		Language: s.lang,
	})
	if err != nil {
		if s.ctx.Err() != nil {
			return
		}
		slog.Warn("whisper transcription failed", slog.String("error", err.Error()))
		s.emit(transcribe.Event{Kind: transcribe.EventError, Err: provider.Unreachable(err, "whisper request failed")})
		return
	}

	kind := transcribe.EventInterim
	if final {
		kind = transcribe.EventFinal
	}
	s.emit(transcribe.Event{Kind: kind, Text: resp.Text, Timestamp: time.Now().UnixMilli()})
}

func (s *whisperStream) emit(e transcribe.Event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}
