package checkin

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/solacehealth/voiceloop/pkg/device"
	devfake "github.com/solacehealth/voiceloop/pkg/device/fake"
)

type recordingSafetyLog struct {
	mu        sync.Mutex
	snippets  [][]byte
	locations []Location
}

func (r *recordingSafetyLog) RecordSafetySnippet(ctx context.Context, wavAudio []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snippets = append(r.snippets, wavAudio)
	return nil
}

func (r *recordingSafetyLog) RecordLocation(ctx context.Context, loc Location) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations = append(r.locations, loc)
	return nil
}

func (r *recordingSafetyLog) Snippets() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snippets)
}

func (r *recordingSafetyLog) Locations() []Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Location, len(r.locations))
	copy(out, r.locations)
	return out
}

type fixedLocator struct{ loc Location }

func (f fixedLocator) Locate(ctx context.Context) (Location, error) {
	return f.loc, nil
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineRecorder) enqueue(text string) {
	l.mu.Lock()
	l.lines = append(l.lines, text)
	l.mu.Unlock()
}

func (l *lineRecorder) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines)
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

func TestSchedulerFiresOnCadence(t *testing.T) {
	lines := &lineRecorder{}

	s, err := NewScheduler(Config{
		Enqueue:    lines.enqueue,
		FirstDelay: 30 * time.Millisecond,
		Interval:   60 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	// Nothing before the first delay.
	time.Sleep(10 * time.Millisecond)
	if got := lines.count(); got != 0 {
		t.Fatalf("enqueued %d lines before first delay, want 0", got)
	}

	waitFor(t, time.Second, func() bool { return lines.count() >= 2 })

	// Exactly one line per fire.
	if got, fires := lines.count(), s.Fires(); got != fires {
		t.Fatalf("enqueued %d lines over %d fires", got, fires)
	}
}

func TestSchedulerStopHaltsFiring(t *testing.T) {
	lines := &lineRecorder{}

	s, err := NewScheduler(Config{
		Enqueue:    lines.enqueue,
		FirstDelay: 20 * time.Millisecond,
		Interval:   20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	waitFor(t, time.Second, func() bool { return lines.count() >= 1 })
	s.Stop()

	settled := lines.count()
	time.Sleep(100 * time.Millisecond)
	if got := lines.count(); got != settled {
		t.Fatalf("scheduler kept firing after stop: %d -> %d", settled, got)
	}
}

func TestSchedulerRecordsSnippetAndLocation(t *testing.T) {
	lines := &lineRecorder{}
	log := &recordingSafetyLog{}
	mic := devfake.NewFakeMicrophone()
	mic.FrameCount = 10

	want := Location{Latitude: 51.5, Longitude: -0.12, AccuracyMeters: 8, CapturedAt: time.Now()}

	s, err := NewScheduler(Config{
		Enqueue:         lines.enqueue,
		Mic:             mic,
		Guard:           device.NewGuard(),
		Safety:          log,
		Locator:         fixedLocator{loc: want},
		FirstDelay:      10 * time.Millisecond,
		Interval:        time.Minute,
		CaptureDuration: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, 2*time.Second, func() bool { return log.Snippets() == 1 && len(log.Locations()) == 1 })

	log.mu.Lock()
	blob := log.snippets[0]
	log.mu.Unlock()
	if !bytes.HasPrefix(blob, []byte("RIFF")) {
		t.Fatal("safety snippet is not a wav blob")
	}

	if got := log.Locations()[0]; got != want {
		t.Fatalf("location = %+v, want %+v", got, want)
	}
	if mic.OpenCaptures() != 0 {
		t.Fatal("microphone capture leaked")
	}
}

func TestSnippetWaitsForDeviceGuard(t *testing.T) {
	lines := &lineRecorder{}
	log := &recordingSafetyLog{}
	mic := devfake.NewFakeMicrophone()
	mic.FrameCount = 5
	guard := device.NewGuard()

	// Simulate an active listening session holding the device.
	if !guard.TryAcquire() {
		t.Fatal("fresh guard should be free")
	}

	s, err := NewScheduler(Config{
		Enqueue:         lines.enqueue,
		Mic:             mic,
		Guard:           guard,
		Safety:          log,
		FirstDelay:      10 * time.Millisecond,
		Interval:        time.Minute,
		CaptureDuration: 30 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	waitFor(t, time.Second, func() bool { return lines.count() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := mic.AcquireCount(); got != 0 {
		t.Fatalf("capture opened the device while the guard was held (%d acquires)", got)
	}

	guard.Release()
	waitFor(t, 2*time.Second, func() bool { return log.Snippets() == 1 })
}
