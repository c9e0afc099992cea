// Package session wires the engine together: transcription and synthesis
// channels, the turn-taking controller, the check-in scheduler and the
// external collaborators, behind one Start/Stop lifecycle.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solacehealth/voiceloop/pkg/agent"
	"github.com/solacehealth/voiceloop/pkg/checkin"
	"github.com/solacehealth/voiceloop/pkg/device"
	"github.com/solacehealth/voiceloop/pkg/eou"
	"github.com/solacehealth/voiceloop/pkg/synth"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
	"github.com/solacehealth/voiceloop/pkg/unlock"
)

// Config assembles a session. Primary strategies are optional; leaving one
// nil runs that channel local-only, which is what happens when the host has
// no cloud credential.
type Config struct {
	// Mic is the capture device. Required.
	Mic device.Microphone

	// Player renders synthesized clips. Required.
	Player synth.Player

	// PrimaryRecognizer is the streaming cloud recognizer, nil for
	// local-only. FallbackRecognizer is required.
	PrimaryRecognizer  transcribe.Recognizer
	FallbackRecognizer transcribe.Recognizer

	// PrimarySynthesizer is the cloud voice, nil for local-only.
	// FallbackSynthesizer is required.
	PrimarySynthesizer  synth.Synthesizer
	FallbackSynthesizer synth.Synthesizer

	// Replies generates agent replies; nil uses static supportive lines.
	Replies agent.ReplyGenerator

	// Collaborators, all optional.
	Emergency agent.EmergencyNotifier
	States    agent.StateListener
	Safety    checkin.SafetyLogger
	Locator   checkin.Locator

	// Gate defers playback until the platform unlock gesture. Nil means
	// the platform needs no unlock.
	Gate *unlock.Gate

	// Detector scores end-of-utterance. Defaults to the silence heuristic.
	Detector eou.Detector

	// Greeting is spoken as soon as the session starts, when set.
	Greeting string

	AutoListen        bool
	CountdownSeconds  int
	ListenCeiling     time.Duration
	CheckInFirstDelay time.Duration
	CheckInInterval   time.Duration
	CheckInCapture    time.Duration
	EmergencyKeywords []string

	Voice    string
	Language string

	Logger *slog.Logger
}

// Session is one active conversation. All components share its lifetime.
type Session struct {
	controller *agent.Controller
	scheduler  *checkin.Scheduler
	transcribe *transcribe.Channel
	speech     *synth.Channel
	gate       *unlock.Gate
	greeting   string
	logger     *slog.Logger

	cancel context.CancelFunc
}

// New assembles a session. The one device guard created here is shared by
// the transcription channel and the check-in recorder so they never hold
// the microphone simultaneously.
func New(cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gate == nil {
		cfg.Gate = unlock.NewUnlockedGate()
	}

	guard := device.NewGuard()

	tc, err := transcribe.NewChannel(transcribe.Config{
		Primary:       cfg.PrimaryRecognizer,
		Fallback:      cfg.FallbackRecognizer,
		Mic:           cfg.Mic,
		Guard:         guard,
		Detector:      cfg.Detector,
		ListenCeiling: cfg.ListenCeiling,
		Stream: transcribe.StreamConfig{
			SampleRate:  16000,
			NumChannels: 1,
			Lang:        cfg.Language,
		},
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("transcription channel: %w", err)
	}

	sc, err := synth.NewChannel(synth.Config{
		Primary:  cfg.PrimarySynthesizer,
		Fallback: cfg.FallbackSynthesizer,
		Player:   cfg.Player,
		Gate:     cfg.Gate,
		Voice:    cfg.Voice,
		Language: cfg.Language,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("speech channel: %w", err)
	}

	controller, err := agent.NewController(agent.Config{
		Transcriber:       tc,
		Speak:             sc.Speak,
		Replies:           cfg.Replies,
		Emergency:         cfg.Emergency,
		States:            cfg.States,
		AutoListen:        cfg.AutoListen,
		CountdownSeconds:  cfg.CountdownSeconds,
		EmergencyKeywords: cfg.EmergencyKeywords,
		Logger:            cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}

	scheduler, err := checkin.NewScheduler(checkin.Config{
		Enqueue:         controller.EnqueueAgentText,
		Mic:             cfg.Mic,
		Guard:           guard,
		Safety:          cfg.Safety,
		Locator:         cfg.Locator,
		FirstDelay:      cfg.CheckInFirstDelay,
		Interval:        cfg.CheckInInterval,
		CaptureDuration: cfg.CheckInCapture,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("check-in scheduler: %w", err)
	}

	return &Session{
		controller: controller,
		scheduler:  scheduler,
		transcribe: tc,
		speech:     sc,
		gate:       cfg.Gate,
		greeting:   cfg.Greeting,
		logger:     cfg.Logger,
	}, nil
}

// Start activates the controller and the check-in cadence.
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.controller.Start(runCtx)
	s.scheduler.Start(runCtx)
	s.logger.Info("session started")

	if s.greeting != "" {
		s.controller.EnqueueAgentText(s.greeting)
	}
}

// Stop ends the session: the scheduler halts and the controller forcibly
// returns to Idle, cancelling all in-flight work.
func (s *Session) Stop() {
	s.scheduler.Stop()
	s.controller.EndSession()
	if s.cancel != nil {
		s.cancel()
	}
	s.logger.Info("session stopped")
}

// Controller exposes the turn-taking controller for command dispatch.
func (s *Session) Controller() *agent.Controller {
	return s.controller
}

// Say queues an agent line.
func (s *Session) Say(text string) {
	s.controller.EnqueueAgentText(text)
}

// StartListening and StopListening forward the push-to-talk commands.
func (s *Session) StartListening() { s.controller.StartListening() }
func (s *Session) StopListening()  { s.controller.StopListening() }

// ToggleVoice enables or disables the voice path for the session. While
// disabled the conversation continues as text-only turns.
func (s *Session) ToggleVoice() { s.controller.ToggleVoice() }

// VoiceEnabled reports whether the voice path is active.
func (s *Session) VoiceEnabled() bool { return s.controller.VoiceEnabled() }

// HandleUserText feeds a typed user message into the conversation.
func (s *Session) HandleUserText(text string) {
	s.controller.HandleUserText(text)
}

// ConfirmAudioUnlock is the user's unlock gesture: it resumes the audio
// subsystem and flushes any queued playback.
func (s *Session) ConfirmAudioUnlock() {
	s.gate.Resume()
}

// TranscriptionHealth and SynthesisHealth expose the primary circuit
// breakers for observers.
func (s *Session) TranscriptionHealth() bool { return !s.transcribe.PrimaryHealth().Disabled() }
func (s *Session) SynthesisHealth() bool     { return !s.speech.PrimaryHealth().Disabled() }
