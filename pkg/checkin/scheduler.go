// Package checkin runs the periodic wellness check-in: while a session is
// active it speaks a check-in line at a fixed cadence and records a short
// safety audio snippet plus an optional location snapshot alongside it.
package checkin

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/audio/wav"
	"github.com/solacehealth/voiceloop/pkg/device"
)

// Scheduling defaults. The capture duration sits inside the 5 to 10 second
// band the safety log expects.
const (
	DefaultFirstDelay      = 30 * time.Second
	DefaultInterval        = 120 * time.Second
	DefaultCaptureDuration = 6 * time.Second
)

// DefaultLines are the stock check-in prompts.
var DefaultLines = []string{
	"Just checking in. How are you doing right now?",
	"I'm still here with you. How are you feeling?",
	"Quick check-in. Is everything okay where you are?",
	"Checking in on you. Anything you want to talk about?",
}

// Location is one location snapshot attached to a check-in.
type Location struct {
	Latitude       float64
	Longitude      float64
	AccuracyMeters float64
	CapturedAt     time.Time
}

// SafetyLogger receives the check-in side effects. Both calls are fire and
// forget from the scheduler's point of view.
type SafetyLogger interface {
	RecordSafetySnippet(ctx context.Context, wavAudio []byte) error
	RecordLocation(ctx context.Context, loc Location) error
}

// Locator reads the device's current location.
type Locator interface {
	Locate(ctx context.Context) (Location, error)
}

// Config holds configuration for creating a Scheduler.
type Config struct {
	// Enqueue pushes a check-in line onto the speech queue. Required.
	Enqueue func(text string)

	// Mic and Guard enable the safety audio capture. The guard is the
	// same one the transcription channel holds while listening, so the
	// two never open the device simultaneously.
	Mic   device.Microphone
	Guard *device.Guard

	// Safety receives snippets and locations. Nil disables both captures.
	Safety SafetyLogger

	// Locator is optional; nil skips the location snapshot.
	Locator Locator

	FirstDelay      time.Duration
	Interval        time.Duration
	CaptureDuration time.Duration

	// Lines overrides DefaultLines.
	Lines []string

	Logger *slog.Logger
}

// Scheduler fires check-ins on a fixed cadence, first after FirstDelay and
// then every Interval, until stopped.
type Scheduler struct {
	enqueue  func(string)
	mic      device.Microphone
	guard    *device.Guard
	safety   SafetyLogger
	locator  Locator
	lines    []string
	logger   *slog.Logger
	first    time.Duration
	interval time.Duration
	capture  time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	fires  int
}

// NewScheduler creates a check-in scheduler.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Enqueue == nil {
		return nil, fmt.Errorf("enqueue function is required")
	}
	if cfg.FirstDelay <= 0 {
		cfg.FirstDelay = DefaultFirstDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.CaptureDuration <= 0 {
		cfg.CaptureDuration = DefaultCaptureDuration
	}
	if len(cfg.Lines) == 0 {
		cfg.Lines = DefaultLines
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		enqueue:  cfg.Enqueue,
		mic:      cfg.Mic,
		guard:    cfg.Guard,
		safety:   cfg.Safety,
		locator:  cfg.Locator,
		lines:    cfg.Lines,
		logger:   cfg.Logger,
		first:    cfg.FirstDelay,
		interval: cfg.Interval,
		capture:  cfg.CaptureDuration,
	}, nil
}

// Start begins the timer loop. Calling Start on a running scheduler
// restarts the cadence from FirstDelay.
func (s *Scheduler) Start(ctx context.Context) {
	s.Stop()

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx)
}

// Stop clears the timer and cancels any in-flight safety capture so the
// microphone is released.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Fires returns how many check-ins have fired since the last Start.
func (s *Scheduler) Fires() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fires
}

func (s *Scheduler) run(ctx context.Context) {
	s.mu.Lock()
	s.fires = 0
	s.mu.Unlock()

	timer := time.NewTimer(s.first)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.fire(ctx)
			timer.Reset(s.interval)
		}
	}
}

// fire enqueues one random check-in line and kicks off the safety side
// effects without blocking the conversation.
func (s *Scheduler) fire(ctx context.Context) {
	line := s.lines[rand.Intn(len(s.lines))]
	s.enqueue(line)

	s.mu.Lock()
	s.fires++
	s.mu.Unlock()

	s.logger.Info("check-in fired", slog.String("line", line))

	if s.safety != nil && s.mic != nil {
		go s.captureSnippet(ctx)
	}
	if s.safety != nil && s.locator != nil {
		go s.captureLocation(ctx)
	}
}

// captureSnippet records a bounded safety snippet. The device guard
// serializes it against the transcription channel's listening session.
func (s *Scheduler) captureSnippet(ctx context.Context) {
	if s.guard != nil {
		if err := s.guard.Acquire(ctx); err != nil {
			return
		}
		defer s.guard.Release()
	}

	capture, err := s.mic.Acquire(ctx)
	if err != nil {
		s.logger.Warn("safety capture could not open microphone",
			slog.String("error", err.Error()))
		return
	}
	defer capture.Close()

	var frames []audio.Frame
	var recorded time.Duration
	deadline := time.NewTimer(s.capture)
	defer deadline.Stop()

	for recorded < s.capture {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			recorded = s.capture
		case frame, ok := <-capture.Frames():
			if !ok {
				recorded = s.capture
				continue
			}
			frames = append(frames, frame)
			recorded += frame.Duration()
		}
	}

	if len(frames) == 0 {
		return
	}

	blob, err := wav.EncodeFrames(frames)
	if err != nil {
		s.logger.Warn("safety snippet encode failed", slog.String("error", err.Error()))
		return
	}
	if err := s.safety.RecordSafetySnippet(ctx, blob); err != nil {
		s.logger.Warn("safety snippet record failed", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) captureLocation(ctx context.Context) {
	loc, err := s.locator.Locate(ctx)
	if err != nil {
		s.logger.Warn("location read failed", slog.String("error", err.Error()))
		return
	}
	if err := s.safety.RecordLocation(ctx, loc); err != nil {
		s.logger.Warn("location record failed", slog.String("error", err.Error()))
	}
}
