package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solacehealth/voiceloop/pkg/convo"
	"github.com/solacehealth/voiceloop/pkg/device"
	"github.com/solacehealth/voiceloop/pkg/eou"
	"github.com/solacehealth/voiceloop/pkg/provider"
)

// Defaults for the listening session.
const (
	DefaultListenCeiling = 10 * time.Second
	DefaultConnectGrace  = 1 * time.Second
	DefaultEvalInterval  = 100 * time.Millisecond
)

// Config configures a Channel.
type Config struct {
	// Primary is the streaming cloud recognizer. Nil forces local-only
	// operation from the first call.
	Primary Recognizer

	// Fallback is the local recognizer. Required.
	Fallback Recognizer

	// Mic is the capture device. Required.
	Mic device.Microphone

	// Guard serializes the physical device with other consumers. Required.
	Guard *device.Guard

	// Detector decides end-of-utterance. Defaults to eou.NewHeuristic().
	Detector eou.Detector

	// ListenCeiling is the hard per-call deadline. Default 10s.
	ListenCeiling time.Duration

	// ConnectGrace bounds primary stream setup before switching to the
	// fallback. Default 1s.
	ConnectGrace time.Duration

	// EvalInterval is how often end-of-utterance is scored. Default 100ms.
	EvalInterval time.Duration

	// Stream is passed to every recognizer stream.
	Stream StreamConfig

	// FailureThreshold configures the primary circuit breaker. Default 3.
	FailureThreshold int

	Logger *slog.Logger
}

// Channel owns microphone capture and turns one listen call into at most
// one user utterance. At most one listening session exists at a time.
type Channel struct {
	primary  Recognizer
	fallback Recognizer
	mic      device.Microphone
	guard    *device.Guard
	detector eou.Detector
	health   *provider.Health
	logger   *slog.Logger

	ceiling      time.Duration
	connectGrace time.Duration
	evalInterval time.Duration
	streamCfg    StreamConfig

	inFlight atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	lastFinal string
}

// NewChannel creates a transcription channel.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Fallback == nil {
		return nil, fmt.Errorf("fallback recognizer is required")
	}
	if cfg.Mic == nil {
		return nil, fmt.Errorf("microphone is required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("device guard is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = eou.NewHeuristic()
	}
	if cfg.ListenCeiling <= 0 {
		cfg.ListenCeiling = DefaultListenCeiling
	}
	if cfg.ConnectGrace <= 0 {
		cfg.ConnectGrace = DefaultConnectGrace
	}
	if cfg.EvalInterval <= 0 {
		cfg.EvalInterval = DefaultEvalInterval
	}
	if cfg.Stream.SampleRate == 0 {
		cfg.Stream = StreamConfig{SampleRate: 16000, NumChannels: 1, Lang: "en-US"}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Channel{
		primary:      cfg.Primary,
		fallback:     cfg.Fallback,
		mic:          cfg.Mic,
		guard:        cfg.Guard,
		detector:     cfg.Detector,
		health:       provider.NewHealth(provider.Primary, cfg.FailureThreshold, cfg.Logger),
		logger:       cfg.Logger,
		ceiling:      cfg.ListenCeiling,
		connectGrace: cfg.ConnectGrace,
		evalInterval: cfg.EvalInterval,
		streamCfg:    cfg.Stream,
	}, nil
}

// PrimaryHealth exposes the primary circuit breaker for observers.
func (c *Channel) PrimaryHealth() *provider.Health {
	return c.health
}

// Listen captures one user utterance. It resolves with the transcript, with
// provider.ErrTimeout when the ceiling passes with no speech, or with
// ErrDuplicate when the transcript repeats the previous one. The microphone
// is released on every exit path.
func (c *Channel) Listen(ctx context.Context) (convo.Utterance, error) {
	if !c.inFlight.CompareAndSwap(false, true) {
		return convo.Utterance{}, ErrBusy
	}
	defer c.inFlight.Store(false)

	ctx, cancel := context.WithTimeout(ctx, c.ceiling)
	defer cancel()

	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.cancel = nil
		c.mu.Unlock()
	}()

	if err := c.guard.Acquire(ctx); err != nil {
		return convo.Utterance{}, c.classifyCtx(ctx, err)
	}
	defer c.guard.Release()

	capture, err := c.mic.Acquire(ctx)
	if err != nil {
		// Permission and no-device failures pass through as terminal.
		return convo.Utterance{}, err
	}
	defer capture.Close()

	text, used, err := c.recognize(ctx, capture)
	if err != nil {
		return convo.Utterance{}, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return convo.Utterance{}, provider.ErrTimeout
	}
	if c.isDuplicate(trimmed) {
		c.logger.Debug("suppressed duplicate transcript", slog.String("text", trimmed))
		return convo.Utterance{}, ErrDuplicate
	}
	c.remember(trimmed)

	c.logger.Info("transcript finalized",
		slog.String("provider", used.String()),
		slog.Int("chars", len(trimmed)))
	return convo.NewUtterance(convo.SpeakerUser, trimmed), nil
}

// Cancel aborts the in-flight listen call, if any.
func (c *Channel) Cancel() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// recognize tries the primary strategy, then the fallback, within the one
// listen deadline. The caller should not notice the switch.
func (c *Channel) recognize(ctx context.Context, capture device.Capture) (string, provider.ID, error) {
	tracker := eou.NewSilenceTracker(0)

	if c.primary != nil && !c.health.Disabled() {
		text, err := c.runStream(ctx, provider.Primary, c.primary, capture, tracker)
		if err == nil {
			c.health.RecordSuccess()
			return text, provider.Primary, nil
		}
		if ctx.Err() != nil {
			return "", provider.Primary, c.classifyCtx(ctx, err)
		}
		c.health.RecordFailure()
		c.logger.Warn("primary recognizer failed, switching to fallback",
			slog.String("error", err.Error()))
	}

	text, err := c.runStream(ctx, provider.Fallback, c.fallback, capture, tracker)
	if err != nil {
		if ctx.Err() != nil {
			return "", provider.Fallback, c.classifyCtx(ctx, err)
		}
		return "", provider.Fallback, err
	}
	return text, provider.Fallback, nil
}

// runStream opens one recognition stream, feeds it capture frames and waits
// for a final transcript or an end-of-utterance decision.
func (c *Channel) runStream(ctx context.Context, id provider.ID, rec Recognizer, capture device.Capture, tracker *eou.SilenceTracker) (string, error) {
	stream, err := c.openStream(ctx, id, rec)
	if err != nil {
		return "", err
	}

	// The feeder stops when this call returns, whatever the path.
	feederCtx, stopFeeder := context.WithCancel(ctx)
	defer stopFeeder()

	go func() {
		for {
			select {
			case <-feederCtx.Done():
				return
			case frame, ok := <-capture.Frames():
				if !ok {
					return
				}
				tracker.Observe(frame)
				if err := stream.Push(frame); err != nil {
					return
				}
			}
		}
	}()

	ticker := time.NewTicker(c.evalInterval)
	defer ticker.Stop()

	var latest string
	closedSend := false
	defer func() {
		if !closedSend {
			stream.CloseSend()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-stream.Events():
			if !ok {
				// Stream drained without an explicit final; the last
				// interim is the best transcript we have.
				return latest, nil
			}
			switch ev.Kind {
			case EventFinal:
				return ev.Text, nil
			case EventInterim:
				latest = ev.Text
			case EventError:
				return "", provider.Unreachable(ev.Err, "recognizer stream error")
			}
		case <-ticker.C:
			if closedSend {
				continue
			}
			seg := eou.Segment{Transcript: latest, TrailingSilence: tracker.TrailingSilence()}
			score, serr := c.detector.Score(ctx, seg)
			if serr != nil {
				c.logger.Debug("end-of-utterance scoring failed", slog.String("error", serr.Error()))
				continue
			}
			if latest != "" && score >= c.detector.Threshold() {
				// Flush the final transcript; the stream will emit it
				// and close the event channel.
				closedSend = true
				stream.CloseSend()
			}
		}
	}
}

// openStream bounds primary connection setup by the connect grace window so
// a hung cloud handshake degrades to the fallback instead of eating the
// listen ceiling.
func (c *Channel) openStream(ctx context.Context, id provider.ID, rec Recognizer) (Stream, error) {
	type result struct {
		stream Stream
		err    error
	}
	results := make(chan result, 1)

	go func() {
		s, err := rec.NewStream(ctx, c.streamCfg)
		results <- result{s, err}
	}()

	graceCtx := ctx
	if id == provider.Primary {
		var cancel context.CancelFunc
		graceCtx, cancel = context.WithTimeout(ctx, c.connectGrace)
		defer cancel()
	}

	select {
	case r := <-results:
		if r.err != nil {
			return nil, provider.Unreachable(r.err, "recognizer connection failed")
		}
		return r.stream, nil
	case <-graceCtx.Done():
		// The late stream, if it ever arrives, must still be closed.
		go func() {
			if r := <-results; r.stream != nil {
				r.stream.CloseSend()
			}
		}()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.Unreachable(graceCtx.Err(), "recognizer connection grace expired")
	}
}

// classifyCtx maps a deadline hit to the timeout signal and passes
// cancellation through.
func (c *Channel) classifyCtx(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return provider.ErrTimeout
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Channel) isDuplicate(text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastFinal != "" && strings.EqualFold(text, c.lastFinal)
}

func (c *Channel) remember(text string) {
	c.mu.Lock()
	c.lastFinal = text
	c.mu.Unlock()
}
