// Package agent implements the turn-taking controller, the finite state
// machine that sequences Idle → Speaking → CountdownToListen → Listening →
// Processing and enforces mutual exclusion between microphone capture and
// audio playback.
package agent

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solacehealth/voiceloop/pkg/convo"
	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/synth"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

// State represents the current state of the controller.
type State int32

const (
	StateIdle State = iota
	StateSpeaking
	StateCountdown
	StateListening
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSpeaking:
		return "Speaking"
	case StateCountdown:
		return "CountdownToListen"
	case StateListening:
		return "Listening"
	case StateProcessing:
		return "Processing"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Defaults for the auto-listen countdown.
const (
	DefaultCountdownSeconds = 3
	DefaultCountdownTick    = time.Second
	DefaultRecentContext    = 6
)

// DefaultEmergencyKeywords are matched, case-insensitively and on word
// boundaries, against every finalized user utterance.
var DefaultEmergencyKeywords = []string{"help", "emergency", "unsafe", "scared"}

// fallbackReplies keep the conversation going when reply generation fails.
var fallbackReplies = []string{
	"I'm here with you. Take your time.",
	"Thank you for telling me that.",
	"I hear you. I'm listening whenever you're ready.",
}

// Metrics holds performance counters for the controller.
type Metrics struct {
	StateTransitions *expvar.Map
	Utterances       *expvar.Int
	Emergencies      *expvar.Int
}

func newMetrics() *Metrics {
	transitions := &expvar.Map{}
	transitions.Init()
	return &Metrics{
		StateTransitions: transitions,
		Utterances:       &expvar.Int{},
		Emergencies:      &expvar.Int{},
	}
}

// Config holds configuration for creating a Controller.
type Config struct {
	// Transcriber runs one listening attempt per call. Required.
	Transcriber Transcriber

	// Speak synthesizes and plays one agent text, typically
	// (*synth.Channel).Speak. Required.
	Speak func(ctx context.Context, text string) error

	// Replies generates agent replies to user utterances. Nil falls back
	// to static supportive lines.
	Replies ReplyGenerator

	// Emergency is notified when a user utterance matches a keyword.
	Emergency EmergencyNotifier

	// States receives UI state notifications.
	States StateListener

	// History records the conversation. Defaults to an in-memory history.
	History convo.History

	// AutoListen re-opens the microphone after the agent finishes
	// speaking, preceded by a countdown. Off by default.
	AutoListen bool

	// CountdownSeconds is the auto-listen countdown length. Default 3.
	CountdownSeconds int

	// CountdownTick is the interval between countdown decrements. Tests
	// shrink it; production leaves the one second default.
	CountdownTick time.Duration

	// EmergencyKeywords overrides DefaultEmergencyKeywords.
	EmergencyKeywords []string

	// RecentContext is how many history entries accompany each reply
	// generation call. Default 6.
	RecentContext int

	Logger *slog.Logger
}

// Controller drives the conversation turn cycle. All state transitions are
// serialized through a single event loop goroutine; the exported methods
// are safe for concurrent use.
type Controller struct {
	transcriber Transcriber
	speak       func(ctx context.Context, text string) error
	replies     ReplyGenerator
	emergency   EmergencyNotifier
	states      StateListener
	history     convo.History
	logger      *slog.Logger

	autoListen    bool
	countdownLen  int
	countdownTick time.Duration
	keywords      map[string]struct{}
	recentContext int

	state         atomic.Int32
	voiceDisabled atomic.Bool
	metrics       *Metrics
	queue         *synth.Queue

	events chan event
	done   chan struct{}
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	// listening gate for the speech queue, see waitNotListening
	mu          sync.Mutex
	listening   bool
	listenEnded chan struct{}

	// event loop state, touched only by run
	pendingListen   bool
	countdownCancel context.CancelFunc
	remaining       int
}

type eventKind int

const (
	evSpeakStart eventKind = iota
	evSpeakDone
	evQueueIdle
	evCountdownTick
	evManualListen
	evStopListen
	evListenDone
	evUserText
	evReplyReady
	evToggleVoice
)

type event struct {
	kind eventKind
	text string
	utt  convo.Utterance
	err  error
}

// NewController creates a turn-taking controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Transcriber == nil {
		return nil, fmt.Errorf("transcriber is required")
	}
	if cfg.Speak == nil {
		return nil, fmt.Errorf("speak function is required")
	}
	if cfg.History == nil {
		cfg.History = convo.NewMemoryHistory()
	}
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = DefaultCountdownSeconds
	}
	if cfg.CountdownTick <= 0 {
		cfg.CountdownTick = DefaultCountdownTick
	}
	if cfg.RecentContext <= 0 {
		cfg.RecentContext = DefaultRecentContext
	}
	if len(cfg.EmergencyKeywords) == 0 {
		cfg.EmergencyKeywords = DefaultEmergencyKeywords
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		transcriber:   cfg.Transcriber,
		speak:         cfg.Speak,
		replies:       cfg.Replies,
		emergency:     cfg.Emergency,
		states:        cfg.States,
		history:       cfg.History,
		logger:        cfg.Logger,
		autoListen:    cfg.AutoListen,
		countdownLen:  cfg.CountdownSeconds,
		countdownTick: cfg.CountdownTick,
		keywords:      keywordSet(cfg.EmergencyKeywords),
		recentContext: cfg.RecentContext,
		metrics:       newMetrics(),
		events:        make(chan event, 16),
		done:          make(chan struct{}),
	}

	c.queue = synth.NewQueue(c.speakGated, c.onSpeakStart, c.onSpeakDone, c.onQueueIdle)
	c.setState(StateIdle)
	return c, nil
}

// Start launches the event loop. The controller runs until ctx ends or
// EndSession is called.
func (c *Controller) Start(ctx context.Context) {
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.queue.Bind(c.ctx)
	go c.run()
}

// EndSession forcibly returns to Idle: it cancels the countdown, any
// in-flight listen, clears the speech queue and stops the event loop.
func (c *Controller) EndSession() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
	})
}

// State returns the controller's current state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Metrics exposes the controller's counters.
func (c *Controller) Metrics() *Metrics {
	return c.metrics
}

// EnqueueAgentText queues an agent line for speaking. Lines play strictly
// in enqueue order.
func (c *Controller) EnqueueAgentText(text string) {
	if text == "" {
		return
	}
	c.history.Append(convo.NewUtterance(convo.SpeakerAgent, text))
	if !c.voiceDisabled.Load() {
		c.queue.Enqueue(text)
	}
}

// ToggleVoice flips the voice path on or off. While off, agent replies are
// delivered through the conversation history only and the microphone never
// opens; the conversation continues as text turns.
func (c *Controller) ToggleVoice() {
	c.post(event{kind: evToggleVoice})
}

// VoiceEnabled reports whether the voice path is active.
func (c *Controller) VoiceEnabled() bool {
	return !c.voiceDisabled.Load()
}

// StartListening manually opens the microphone. It always wins over the
// automatic countdown; called while the agent is speaking, listening begins
// as soon as playback completes.
func (c *Controller) StartListening() {
	c.post(event{kind: evManualListen})
}

// StopListening cancels an in-flight listen or a pending countdown.
func (c *Controller) StopListening() {
	c.post(event{kind: evStopListen})
}

// HandleUserText feeds a typed user message through the same pipeline as a
// finalized voice utterance.
func (c *Controller) HandleUserText(text string) {
	if text == "" {
		return
	}
	c.post(event{kind: evUserText, text: text})
}

func (c *Controller) post(e event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}

// setState atomically updates the state and records the transition.
func (c *Controller) setState(next State) {
	prev := State(c.state.Swap(int32(next)))
	if prev == next {
		return
	}
	key := fmt.Sprintf("%s_to_%s", prev, next)
	if counter := c.metrics.StateTransitions.Get(key); counter != nil {
		counter.(*expvar.Int).Add(1)
	} else {
		n := &expvar.Int{}
		n.Set(1)
		c.metrics.StateTransitions.Set(key, n)
	}
}

func (c *Controller) notify(state string) {
	if c.states != nil {
		c.states.StateChanged(state)
	}
}

func (c *Controller) run() {
	defer c.forceIdle()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.done:
			return
		case e := <-c.events:
			c.handle(e)
		}
	}
}

func (c *Controller) handle(e event) {
	switch e.kind {
	case evSpeakStart:
		c.cancelCountdown()
		c.setState(StateSpeaking)
		c.notify("speaking")

	case evSpeakDone:
		if e.err != nil {
			c.logger.Warn("speech playback failed", slog.String("error", e.err.Error()))
			c.notify("error:speech failed")
		}

	case evQueueIdle:
		// The drain reports idle once, after the final line. A new enqueue
		// may have restarted it before this event ran.
		if c.State() != StateSpeaking || !c.queue.Idle() {
			return
		}
		switch {
		case c.pendingListen:
			c.pendingListen = false
			c.beginListening()
		case c.autoListen && !c.voiceDisabled.Load():
			c.beginCountdown()
		default:
			c.setState(StateIdle)
			c.notify("idle")
		}

	case evCountdownTick:
		if c.State() != StateCountdown {
			return
		}
		c.remaining--
		if c.remaining > 0 {
			c.notify(fmt.Sprintf("countdown:%d", c.remaining))
			return
		}
		c.cancelCountdown()
		c.beginListening()

	case evManualListen:
		if c.voiceDisabled.Load() {
			return
		}
		switch c.State() {
		case StateSpeaking:
			c.pendingListen = true
		case StateCountdown:
			c.cancelCountdown()
			c.beginListening()
		case StateListening:
			// already listening
		default:
			c.beginListening()
		}

	case evStopListen:
		c.pendingListen = false
		switch c.State() {
		case StateListening:
			c.transcriber.Cancel()
		case StateCountdown:
			c.cancelCountdown()
			c.setState(StateIdle)
			c.notify("idle")
		}

	case evListenDone:
		c.finishListening()
		if e.err != nil {
			c.handleListenError(e.err)
			return
		}
		c.handleUtterance(e.utt)

	case evUserText:
		c.handleUtterance(convo.NewUtterance(convo.SpeakerUser, e.text))

	case evReplyReady:
		if c.voiceDisabled.Load() {
			// text-only turn, the reply is already in the history
			c.setState(StateIdle)
			c.notify("idle")
			return
		}
		c.queue.Enqueue(e.text)

	case evToggleVoice:
		disabled := !c.voiceDisabled.Load()
		c.voiceDisabled.Store(disabled)
		if !disabled {
			c.notify("voice:on")
			return
		}
		c.notify("voice:off")
		c.pendingListen = false
		c.queue.Clear()
		switch c.State() {
		case StateListening:
			c.transcriber.Cancel()
		case StateCountdown:
			c.cancelCountdown()
			c.setState(StateIdle)
			c.notify("idle")
		}
	}
}

// beginCountdown starts the auto-listen countdown, cancelling any previous
// timer first.
func (c *Controller) beginCountdown() {
	c.cancelCountdown()
	c.remaining = c.countdownLen
	c.setState(StateCountdown)
	c.notify(fmt.Sprintf("countdown:%d", c.remaining))

	cctx, cancel := context.WithCancel(c.ctx)
	c.countdownCancel = cancel
	go func() {
		t := time.NewTicker(c.countdownTick)
		defer t.Stop()
		for {
			select {
			case <-cctx.Done():
				return
			case <-t.C:
				c.post(event{kind: evCountdownTick})
			}
		}
	}()
}

func (c *Controller) cancelCountdown() {
	if c.countdownCancel != nil {
		c.countdownCancel()
		c.countdownCancel = nil
	}
}

func (c *Controller) beginListening() {
	c.mu.Lock()
	c.listening = true
	c.listenEnded = make(chan struct{})
	c.mu.Unlock()

	c.setState(StateListening)
	c.notify("listening")

	go func() {
		utt, err := c.transcriber.Listen(c.ctx)
		c.post(event{kind: evListenDone, utt: utt, err: err})
	}()
}

func (c *Controller) finishListening() {
	c.mu.Lock()
	if c.listening {
		c.listening = false
		close(c.listenEnded)
	}
	c.mu.Unlock()
}

func (c *Controller) handleListenError(err error) {
	switch {
	case errors.Is(err, provider.ErrTimeout):
		// no input, not an error
	case errors.Is(err, transcribe.ErrDuplicate):
		c.logger.Debug("duplicate transcript suppressed")
	case errors.Is(err, context.Canceled):
		// manual stop or session end
	case errors.Is(err, provider.ErrPermissionDenied):
		c.notify("error:permission denied")
	case errors.Is(err, provider.ErrDeviceUnavailable):
		c.notify("error:device unavailable")
	default:
		c.logger.Warn("listening failed", slog.String("error", err.Error()))
		c.notify("error:listening failed")
	}
	c.setState(StateIdle)
	c.notify("idle")
}

// handleUtterance runs the shared finalized-utterance path: record it, scan
// for emergency keywords, then generate a reply off the event loop.
func (c *Controller) handleUtterance(utt convo.Utterance) {
	c.history.Append(utt)
	c.metrics.Utterances.Add(1)

	if matchKeyword(utt.Text, c.keywords) {
		c.metrics.Emergencies.Add(1)
		c.logger.Info("emergency keyword matched", slog.String("utterance_id", utt.ID))
		if c.emergency != nil {
			// out of band; the conversation continues normally
			c.emergency.NotifyEmergency()
		}
	}

	c.setState(StateProcessing)
	recent := c.history.Recent(c.recentContext)

	go func() {
		reply := c.generateReply(utt.Text, recent)
		c.history.Append(convo.NewUtterance(convo.SpeakerAgent, reply))
		c.post(event{kind: evReplyReady, text: reply})
	}()
}

func (c *Controller) generateReply(userText string, recent []convo.Utterance) string {
	if c.replies == nil {
		return fallbackReplies[rand.Intn(len(fallbackReplies))]
	}
	reply, err := c.replies.GenerateReply(c.ctx, userText, recent)
	if err != nil || reply == "" {
		if err != nil {
			c.logger.Warn("reply generation failed, using fallback line",
				slog.String("error", err.Error()))
		}
		return fallbackReplies[rand.Intn(len(fallbackReplies))]
	}
	return reply
}

// speakGated is the queue's speak function. Playback never overlaps an
// active listen; it waits for the microphone to close first.
func (c *Controller) speakGated(ctx context.Context, text string) error {
	if err := c.waitNotListening(ctx); err != nil {
		return err
	}
	if c.voiceDisabled.Load() {
		// voice was toggled off while this line waited its turn
		return nil
	}
	return c.speak(ctx, text)
}

func (c *Controller) waitNotListening(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.mu.Lock()
		if !c.listening {
			c.mu.Unlock()
			return nil
		}
		ended := c.listenEnded
		c.mu.Unlock()

		select {
		case <-ended:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) onSpeakStart(text string) {
	c.post(event{kind: evSpeakStart, text: text})
}

func (c *Controller) onSpeakDone(text string, err error) {
	c.post(event{kind: evSpeakDone, text: text, err: err})
}

func (c *Controller) onQueueIdle() {
	c.post(event{kind: evQueueIdle})
}

// forceIdle runs on loop exit: session end cancels timers, the in-flight
// listen and all queued speech.
func (c *Controller) forceIdle() {
	c.cancelCountdown()
	c.queue.Clear()
	c.transcriber.Cancel()
	c.finishListening()
	c.setState(StateIdle)
	c.notify("idle")
}
