// Package fake provides scripted synthesizers and players for channel,
// queue and controller tests.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/synth"
)

// FakeSynthesizer produces tiny silent clips and records every request.
type FakeSynthesizer struct {
	// Err makes every Synthesize call fail.
	Err error

	// ClipMillis is the duration of produced clips. Default 20ms.
	ClipMillis int

	mu    sync.Mutex
	seen  []string
	calls int
}

func NewFakeSynthesizer() *FakeSynthesizer {
	return &FakeSynthesizer{}
}

// NewFailing creates a synthesizer whose calls always fail with err.
func NewFailing(err error) *FakeSynthesizer {
	return &FakeSynthesizer{Err: err}
}

func (f *FakeSynthesizer) Synthesize(ctx context.Context, req synth.Request) (*synth.Clip, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	ms := f.ClipMillis
	if ms <= 0 {
		ms = 20
	}
	sampleRate := 16000
	pcm := make([]byte, sampleRate*ms/1000*2)

	f.mu.Lock()
	f.seen = append(f.seen, req.Text)
	f.mu.Unlock()

	return &synth.Clip{
		Text:        req.Text,
		PCM:         pcm,
		SampleRate:  sampleRate,
		NumChannels: 1,
	}, nil
}

func (f *FakeSynthesizer) Capabilities() synth.Capabilities {
	return synth.Capabilities{
		Streaming:          false,
		SupportedLanguages: []string{"en-US"},
		SupportedVoices:    []string{"fake-voice"},
		SampleRates:        []int{16000},
	}
}

// Synthesized returns the texts synthesized, in order.
func (f *FakeSynthesizer) Synthesized() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.seen))
	copy(out, f.seen)
	return out
}

// Calls returns how many Synthesize calls were made, including failures.
func (f *FakeSynthesizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakePlayer records played clips in order.
type FakePlayer struct {
	// Err makes every Play call fail.
	Err error

	// PlayDelay simulates playback time.
	PlayDelay time.Duration

	mu      sync.Mutex
	played  []string
	playing bool
	overlap bool
}

func NewFakePlayer() *FakePlayer {
	return &FakePlayer{}
}

func (p *FakePlayer) Play(ctx context.Context, clip *synth.Clip) error {
	p.mu.Lock()
	if p.playing {
		p.overlap = true
	}
	p.playing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
	}()

	if p.Err != nil {
		return p.Err
	}

	if p.PlayDelay > 0 {
		select {
		case <-time.After(p.PlayDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	p.mu.Lock()
	p.played = append(p.played, clip.Text)
	p.mu.Unlock()
	return nil
}

// Played returns clip texts in playback order.
func (p *FakePlayer) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.played))
	copy(out, p.played)
	return out
}

// Overlapped reports whether two plays ever ran concurrently.
func (p *FakePlayer) Overlapped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.overlap
}
