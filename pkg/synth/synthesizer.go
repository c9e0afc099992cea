// Package synth implements the speech synthesis channel: "speak this text"
// behind a single interface, with a cloud voice as the primary strategy and
// a local synthesizer as the fallback.
package synth

import (
	"context"
	"time"
)

// Request contains parameters for one synthesis call.
type Request struct {
	Text     string
	Voice    string
	Language string
	Speed    float32
}

// Clip is decoded, playable PCM audio for one utterance.
type Clip struct {
	Text        string
	PCM         []byte // 16-bit PCM, little-endian
	SampleRate  int
	NumChannels int
}

// Duration returns the playback duration of the clip.
func (c *Clip) Duration() time.Duration {
	if c.SampleRate <= 0 || c.NumChannels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.NumChannels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Capabilities describes a synthesizer.
type Capabilities struct {
	Streaming          bool
	SupportedLanguages []string
	SupportedVoices    []string
	SampleRates        []int
}

// Synthesizer is a text-to-speech strategy. Implementations map transport
// failures to provider.ErrProviderUnreachable and undecodable audio to
// provider.ErrDecodeFailure.
type Synthesizer interface {
	// Synthesize produces a decodable, playable clip for the text.
	Synthesize(ctx context.Context, req Request) (*Clip, error)

	// Capabilities returns the synthesizer's capabilities.
	Capabilities() Capabilities
}

// Player renders a clip on the audio output device. Play blocks until the
// clip finishes or the context ends.
type Player interface {
	Play(ctx context.Context, clip *Clip) error
}
