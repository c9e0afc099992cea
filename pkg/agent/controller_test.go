package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solacehealth/voiceloop/pkg/convo"
	"github.com/solacehealth/voiceloop/pkg/provider"
)

// scriptTranscriber returns scripted results, one per Listen call. Calls
// past the script resolve as no-input.
type scriptTranscriber struct {
	Texts []string
	Errs  []error
	Block chan struct{} // when set, Listen waits for it

	mu     sync.Mutex
	calls  int
	cancel context.CancelFunc
}

func (f *scriptTranscriber) Listen(ctx context.Context) (convo.Utterance, error) {
	lctx, cancel := context.WithCancel(ctx)
	defer cancel()

	f.mu.Lock()
	idx := f.calls
	f.calls++
	f.cancel = cancel
	block := f.Block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-lctx.Done():
			return convo.Utterance{}, lctx.Err()
		}
	}
	if idx < len(f.Errs) && f.Errs[idx] != nil {
		return convo.Utterance{}, f.Errs[idx]
	}
	if idx < len(f.Texts) {
		return convo.NewUtterance(convo.SpeakerUser, f.Texts[idx]), nil
	}
	return convo.Utterance{}, provider.ErrTimeout
}

func (f *scriptTranscriber) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancel != nil {
		f.cancel()
	}
}

func (f *scriptTranscriber) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type stateRecorder struct {
	mu     sync.Mutex
	states []string
}

func (r *stateRecorder) StateChanged(state string) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) count(state string) int {
	n := 0
	for _, s := range r.snapshot() {
		if s == state {
			n++
		}
	}
	return n
}

type countNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countNotifier) NotifyEmergency() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type staticReplies struct{ reply string }

func (s staticReplies) GenerateReply(ctx context.Context, userText string, recent []convo.Utterance) (string, error) {
	return s.reply, nil
}

type speakRecorder struct {
	mu     sync.Mutex
	spoken []string
}

func (s *speakRecorder) speak(ctx context.Context, text string) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, text)
	s.mu.Unlock()
	return nil
}

func (s *speakRecorder) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.spoken))
	copy(out, s.spoken)
	return out
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// hasSubsequence reports whether want appears in got, in order, with other
// entries allowed in between.
func hasSubsequence(got, want []string) bool {
	i := 0
	for _, s := range got {
		if i < len(want) && s == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestSpeakThenIdleWithoutAutoListen(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}

	c, err := NewController(Config{
		Transcriber: &scriptTranscriber{},
		Speak:       speaker.speak,
		States:      states,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.EnqueueAgentText("how are you feeling today?")

	waitFor(t, 2*time.Second, func() bool { return c.State() == StateIdle && len(speaker.snapshot()) == 1 })

	if !hasSubsequence(states.snapshot(), []string{"speaking", "idle"}) {
		t.Fatalf("states = %v, want speaking then idle", states.snapshot())
	}
}

func TestAutoListenCountdownReachesListening(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}
	tr := &scriptTranscriber{Texts: []string{"doing okay"}}

	c, err := NewController(Config{
		Transcriber:   tr,
		Speak:         speaker.speak,
		Replies:       staticReplies{reply: "glad to hear it"},
		States:        states,
		AutoListen:    true,
		CountdownTick: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.EnqueueAgentText("How are you?")

	// Three ticks with no manual intervention reach Listening, the
	// transcription flows through Processing, and the reply is spoken.
	waitFor(t, 2*time.Second, func() bool { return len(speaker.snapshot()) == 2 })

	want := []string{"speaking", "countdown:3", "countdown:2", "countdown:1", "listening", "speaking"}
	if !hasSubsequence(states.snapshot(), want) {
		t.Fatalf("states = %v, want subsequence %v", states.snapshot(), want)
	}
	if got := speaker.snapshot()[1]; got != "glad to hear it" {
		t.Fatalf("second spoken line = %q, want the generated reply", got)
	}
}

func TestManualListenCancelsCountdownOnce(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}
	block := make(chan struct{})
	tr := &scriptTranscriber{Block: block}

	c, err := NewController(Config{
		Transcriber:   tr,
		Speak:         speaker.speak,
		States:        states,
		AutoListen:    true,
		CountdownTick: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.EnqueueAgentText("hello")
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateCountdown })

	c.StartListening()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateListening })

	// The countdown was cancelled exactly once: a second transition into
	// Listening would show up as a second Listen call or notification.
	time.Sleep(150 * time.Millisecond)
	if got := tr.Calls(); got != 1 {
		t.Fatalf("listen calls = %d, want 1", got)
	}
	if got := states.count("listening"); got != 1 {
		t.Fatalf("listening notifications = %d, want 1", got)
	}
	close(block)
}

func TestUtteranceReachesProcessingAndReply(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}
	tr := &scriptTranscriber{Texts: []string{"I feel anxious"}}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       speaker.speak,
		Replies:     staticReplies{reply: "that sounds hard, tell me more"},
		States:      states,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.StartListening()

	waitFor(t, 2*time.Second, func() bool { return len(speaker.snapshot()) == 1 })
	if got := speaker.snapshot()[0]; got != "that sounds hard, tell me more" {
		t.Fatalf("spoken = %q", got)
	}

	history := c.history.Recent(4)
	if len(history) < 2 || history[0].Speaker != convo.SpeakerUser || history[0].Text != "I feel anxious" {
		t.Fatalf("history = %+v, want user utterance recorded first", history)
	}
}

func TestEmergencyKeywordNotifiesOnceAndContinues(t *testing.T) {
	speaker := &speakRecorder{}
	notifier := &countNotifier{}
	tr := &scriptTranscriber{Texts: []string{"help me, I'm scared"}}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       speaker.speak,
		Replies:     staticReplies{reply: "I'm right here with you"},
		Emergency:   notifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.StartListening()

	// The notifier fires exactly once and the conversation still proceeds
	// through Processing to a spoken reply.
	waitFor(t, 2*time.Second, func() bool { return len(speaker.snapshot()) == 1 })
	if got := notifier.Count(); got != 1 {
		t.Fatalf("emergency notifications = %d, want 1", got)
	}
	if got := c.Metrics().Emergencies.Value(); got != 1 {
		t.Fatalf("emergency counter = %d, want 1", got)
	}
}

func TestTypedUserTextFollowsSamePath(t *testing.T) {
	speaker := &speakRecorder{}
	notifier := &countNotifier{}

	c, err := NewController(Config{
		Transcriber: &scriptTranscriber{},
		Speak:       speaker.speak,
		Replies:     staticReplies{reply: "understood"},
		Emergency:   notifier,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.HandleUserText("this feels unsafe")

	waitFor(t, 2*time.Second, func() bool { return len(speaker.snapshot()) == 1 })
	if got := notifier.Count(); got != 1 {
		t.Fatalf("emergency notifications = %d, want 1", got)
	}
}

func TestStopListeningCancelsInFlightListen(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}
	block := make(chan struct{})
	tr := &scriptTranscriber{Block: block}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       speaker.speak,
		States:      states,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.StartListening()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateListening })

	c.StopListening()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateIdle })

	if got := len(speaker.snapshot()); got != 0 {
		t.Fatalf("spoke %d lines after a cancelled listen, want 0", got)
	}
}

func TestListenTimeoutResolvesAsNoInput(t *testing.T) {
	states := &stateRecorder{}
	tr := &scriptTranscriber{Errs: []error{provider.ErrTimeout}}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       (&speakRecorder{}).speak,
		States:      states,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.StartListening()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateIdle })

	for _, s := range states.snapshot() {
		if len(s) >= 5 && s[:5] == "error" {
			t.Fatalf("timeout surfaced as %q, want silent return to idle", s)
		}
	}
}

func TestTerminalListenErrorSurfaces(t *testing.T) {
	states := &stateRecorder{}
	tr := &scriptTranscriber{Errs: []error{provider.ErrPermissionDenied}}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       (&speakRecorder{}).speak,
		States:      states,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.StartListening()
	waitFor(t, 2*time.Second, func() bool { return states.count("error:permission denied") == 1 })
}

func TestSpeakingWaitsForListenToEnd(t *testing.T) {
	speaker := &speakRecorder{}
	block := make(chan struct{})
	tr := &scriptTranscriber{Block: block, Texts: []string{"still here"}}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       speaker.speak,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.StartListening()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateListening })

	// A check-in line enqueued mid-listen must not start playback while
	// the microphone is open.
	c.EnqueueAgentText("just checking in")
	time.Sleep(100 * time.Millisecond)
	if got := len(speaker.snapshot()); got != 0 {
		t.Fatalf("spoke %d lines during active listen, want 0", got)
	}

	close(block)
	waitFor(t, 2*time.Second, func() bool { return len(speaker.snapshot()) >= 1 })
	if got := speaker.snapshot()[0]; got != "just checking in" {
		t.Fatalf("first spoken line = %q", got)
	}
}

func TestEndSessionForcesIdleAndClearsQueue(t *testing.T) {
	speaker := &speakRecorder{}
	block := make(chan struct{})
	defer close(block)
	tr := &scriptTranscriber{Block: block}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       speaker.speak,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())

	c.StartListening()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateListening })
	c.EnqueueAgentText("pending line one")
	c.EnqueueAgentText("pending line two")

	c.EndSession()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateIdle })

	time.Sleep(50 * time.Millisecond)
	if got := len(speaker.snapshot()); got != 0 {
		t.Fatalf("spoke %d queued lines after session end, want 0", got)
	}
}

func TestToggleVoiceDropsToTextOnly(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}
	tr := &scriptTranscriber{}

	c, err := NewController(Config{
		Transcriber: tr,
		Speak:       speaker.speak,
		Replies:     staticReplies{reply: "of course"},
		States:      states,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.ToggleVoice()
	waitFor(t, 2*time.Second, func() bool { return !c.VoiceEnabled() })

	// A typed turn still flows through reply generation, but the reply is
	// delivered through the history only.
	c.HandleUserText("are you there")
	waitFor(t, 2*time.Second, func() bool {
		recent := c.history.Recent(4)
		return len(recent) == 2 && c.State() == StateIdle
	})

	recent := c.history.Recent(4)
	if recent[1].Speaker != convo.SpeakerAgent || recent[1].Text != "of course" {
		t.Fatalf("history = %+v, want the agent reply recorded", recent)
	}
	if got := len(speaker.snapshot()); got != 0 {
		t.Fatalf("spoke %d lines with voice off, want 0", got)
	}
	if got := states.count("voice:off"); got != 1 {
		t.Fatalf("voice:off notifications = %d, want 1", got)
	}

	// Enqueued agent lines land in the history without playing, and the
	// microphone never opens.
	c.EnqueueAgentText("time for a check-in")
	c.StartListening()
	time.Sleep(100 * time.Millisecond)
	if got := len(speaker.snapshot()); got != 0 {
		t.Fatalf("spoke %d lines with voice off, want 0", got)
	}
	if got := tr.Calls(); got != 0 {
		t.Fatalf("listen calls with voice off = %d, want 0", got)
	}

	// Toggling back on restores the voice path.
	c.ToggleVoice()
	waitFor(t, 2*time.Second, func() bool { return c.VoiceEnabled() })
	c.HandleUserText("good morning")
	waitFor(t, 2*time.Second, func() bool { return len(speaker.snapshot()) == 1 })
}

func TestToggleVoiceCancelsCountdown(t *testing.T) {
	states := &stateRecorder{}
	speaker := &speakRecorder{}
	tr := &scriptTranscriber{}

	c, err := NewController(Config{
		Transcriber:   tr,
		Speak:         speaker.speak,
		States:        states,
		AutoListen:    true,
		CountdownTick: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	c.EnqueueAgentText("hello")
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateCountdown })

	c.ToggleVoice()
	waitFor(t, 2*time.Second, func() bool { return c.State() == StateIdle })

	time.Sleep(200 * time.Millisecond)
	if got := tr.Calls(); got != 0 {
		t.Fatalf("listen calls after voice off = %d, want 0", got)
	}
	if got := states.count("listening"); got != 0 {
		t.Fatalf("listening notifications = %d, want 0", got)
	}
}

func TestConsecutiveLinesDoNotFlashCountdown(t *testing.T) {
	states := &stateRecorder{}
	release := make(chan struct{})
	var mu sync.Mutex
	var spoken []string

	c, err := NewController(Config{
		Transcriber: &scriptTranscriber{},
		Speak: func(ctx context.Context, text string) error {
			<-release
			mu.Lock()
			spoken = append(spoken, text)
			mu.Unlock()
			return nil
		},
		States:        states,
		AutoListen:    true,
		CountdownTick: time.Minute,
	})
	if err != nil {
		t.Fatal(err)
	}
	c.Start(context.Background())
	defer c.EndSession()

	// Hold the first line mid-playback so the second is queued behind it,
	// then let both go.
	c.EnqueueAgentText("line one")
	c.EnqueueAgentText("line two")
	close(release)

	waitFor(t, 2*time.Second, func() bool { return c.State() == StateCountdown })

	mu.Lock()
	if len(spoken) != 2 || spoken[0] != "line one" || spoken[1] != "line two" {
		t.Fatalf("spoken = %v, want both lines in order", spoken)
	}
	mu.Unlock()

	// The countdown may only begin after the final queued line; between
	// consecutive lines no countdown notification may flash.
	got := states.snapshot()
	speakings, firstCountdown := 0, -1
	secondSpeaking := -1
	for i, s := range got {
		if s == "speaking" {
			speakings++
			if speakings == 2 {
				secondSpeaking = i
			}
		}
		if firstCountdown == -1 && len(s) >= 9 && s[:9] == "countdown" {
			firstCountdown = i
		}
	}
	if speakings != 2 || firstCountdown == -1 {
		t.Fatalf("states = %v, want two speaking notifications then a countdown", got)
	}
	if firstCountdown < secondSpeaking {
		t.Fatalf("states = %v, countdown flashed between queued lines", got)
	}
	if got := states.count("countdown:3"); got != 1 {
		t.Fatalf("countdown:3 notifications = %d, want 1", got)
	}
}

func TestMatchKeyword(t *testing.T) {
	keywords := keywordSet(DefaultEmergencyKeywords)

	tests := []struct {
		text string
		want bool
	}{
		{"help me, I'm scared", true},
		{"I need HELP right now", true},
		{"this neighborhood feels unsafe", true},
		{"the helper arrived", false},
		{"everything is fine", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := matchKeyword(tt.text, keywords); got != tt.want {
			t.Errorf("matchKeyword(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestControllerValidation(t *testing.T) {
	if _, err := NewController(Config{Speak: (&speakRecorder{}).speak}); err == nil {
		t.Fatal("expected error without transcriber")
	}
	if _, err := NewController(Config{Transcriber: &scriptTranscriber{}}); err == nil {
		t.Fatal("expected error without speak function")
	}
	if !errors.Is(provider.ErrTimeout, provider.ErrTimeout) {
		t.Fatal("sentinel identity")
	}
}
