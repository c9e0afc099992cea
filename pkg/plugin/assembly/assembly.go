// Package assembly provides a streaming cloud recognizer backed by the
// AssemblyAI v3 realtime API over a websocket.
package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

const (
	// DefaultEndpoint is the AssemblyAI realtime streaming endpoint.
	DefaultEndpoint = "wss://streaming.assemblyai.com/v3/ws"

	defaultHandshakeTimeout = 10 * time.Second
)

// Wire messages. The server sends Begin once, Turn for every transcript
// update, and Termination after the client's Terminate.
type beginMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

type turnMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript"`
	TurnFormatted bool   `json:"turn_is_formatted"`
	EndOfTurn     bool   `json:"end_of_turn"`
	AudioStart    int64  `json:"audio_start_time,omitempty"`
	AudioEnd      int64  `json:"audio_end_time,omitempty"`
}

type terminationMessage struct {
	Type                   string  `json:"type"`
	AudioDurationSeconds   float64 `json:"audio_duration_seconds"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

type errorMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// Config holds configuration for the AssemblyAI recognizer.
type Config struct {
	// APIKey authenticates the websocket. Required.
	APIKey string

	// Endpoint overrides DefaultEndpoint, for tests.
	Endpoint string

	HandshakeTimeout time.Duration

	Logger *slog.Logger
}

// Recognizer implements transcribe.Recognizer over the AssemblyAI realtime
// protocol. Each NewStream call opens one websocket session.
type Recognizer struct {
	apiKey   string
	endpoint string
	dialer   *websocket.Dialer
	logger   *slog.Logger
}

// NewRecognizer creates an AssemblyAI streaming recognizer.
func NewRecognizer(cfg Config) (*Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("AssemblyAI API key is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Recognizer{
		apiKey:   cfg.APIKey,
		endpoint: cfg.Endpoint,
		dialer:   &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
		logger:   cfg.Logger,
	}, nil
}

// NewStream dials the realtime endpoint and starts the reader.
func (r *Recognizer) NewStream(ctx context.Context, cfg transcribe.StreamConfig) (transcribe.Stream, error) {
	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	params := url.Values{}
	params.Set("sample_rate", strconv.Itoa(sampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")

	wsURL := fmt.Sprintf("%s?%s", r.endpoint, params.Encode())
	headers := map[string][]string{"Authorization": {r.apiKey}}

	conn, resp, err := r.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			r.logger.Warn("assemblyai dial rejected", slog.Int("status", resp.StatusCode))
		}
		return nil, provider.Unreachable(err, "assemblyai dial failed")
	}

	s := &stream{
		conn:   conn,
		events: make(chan transcribe.Event, 32),
		logger: r.logger,
	}
	go s.readLoop()
	return s, nil
}

func (r *Recognizer) Capabilities() transcribe.Capabilities {
	return transcribe.Capabilities{
		Streaming:          true,
		InterimResults:     true,
		SupportedLanguages: []string{"en"},
		SampleRates:        []int{8000, 16000, 22050, 44100, 48000},
	}
}

// stream is one realtime websocket session.
type stream struct {
	conn   *websocket.Conn
	events chan transcribe.Event
	logger *slog.Logger

	writeMu    sync.Mutex
	closed     bool
	terminated bool

	readMu    sync.Mutex
	latest    string
	latestEnd int64
	finalSent bool
}

// Push writes one binary PCM frame to the socket.
func (s *stream) Push(frame audio.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return fmt.Errorf("stream is closed")
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, frame.Data); err != nil {
		return provider.Unreachable(err, "assemblyai audio write failed")
	}
	return nil
}

func (s *stream) Events() <-chan transcribe.Event {
	return s.events
}

// CloseSend sends Terminate; the server flushes the last transcript and
// answers with Termination, which ends the read loop.
func (s *stream) CloseSend() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.terminated = true

	if err := s.conn.WriteJSON(map[string]string{"type": "Terminate"}); err != nil {
		s.conn.Close()
		return provider.Unreachable(err, "assemblyai terminate failed")
	}
	return nil
}

func (s *stream) readLoop() {
	defer close(s.events)
	defer s.conn.Close()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			s.writeMu.Lock()
			terminated := s.terminated
			s.closed = true
			s.writeMu.Unlock()

			if terminated || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.emitPendingFinal()
				return
			}
			s.emit(transcribe.Event{
				Kind: transcribe.EventError,
				Err:  provider.Unreachable(err, "assemblyai read failed"),
			})
			return
		}
		if done := s.processMessage(message); done {
			return
		}
	}
}

// processMessage handles one server message. Returns true when the session
// is over.
func (s *stream) processMessage(message []byte) bool {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &base); err != nil {
		s.logger.Warn("assemblyai sent undecodable message", slog.String("error", err.Error()))
		return false
	}

	switch base.Type {
	case "Begin":
		var msg beginMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return false
		}
		s.logger.Debug("assemblyai session began",
			slog.String("session_id", msg.ID),
			slog.Time("expires_at", time.Unix(msg.ExpiresAt, 0)))

	case "Turn":
		var msg turnMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return false
		}
		if msg.Transcript == "" {
			return false
		}
		s.readMu.Lock()
		s.latest = msg.Transcript
		s.latestEnd = msg.AudioEnd
		s.readMu.Unlock()

		kind := transcribe.EventInterim
		if msg.EndOfTurn {
			kind = transcribe.EventFinal
			s.readMu.Lock()
			s.finalSent = true
			s.readMu.Unlock()
		}
		s.emit(transcribe.Event{Kind: kind, Text: msg.Transcript, Timestamp: msg.AudioEnd})

	case "Termination":
		var msg terminationMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return false
		}
		s.logger.Debug("assemblyai session terminated",
			slog.Float64("audio_seconds", msg.AudioDurationSeconds),
			slog.Float64("session_seconds", msg.SessionDurationSeconds))
		s.emitPendingFinal()
		return true

	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			return false
		}
		s.emit(transcribe.Event{
			Kind: transcribe.EventError,
			Err:  provider.Unreachable(fmt.Errorf("%s", msg.Error), "assemblyai session error"),
		})
		return true
	}
	return false
}

// emitPendingFinal flushes the latest transcript as a final event so the
// last words are not lost when the session ends.
func (s *stream) emitPendingFinal() {
	s.readMu.Lock()
	text, ts, sent := s.latest, s.latestEnd, s.finalSent
	s.finalSent = true
	s.readMu.Unlock()

	if sent || text == "" {
		return
	}
	s.emit(transcribe.Event{Kind: transcribe.EventFinal, Text: text, Timestamp: ts})
}

func (s *stream) emit(e transcribe.Event) {
	select {
	case s.events <- e:
	default:
		s.logger.Warn("assemblyai event dropped, consumer too slow")
	}
}
