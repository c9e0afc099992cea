package eou

import (
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
)

// DefaultVoiceRMS is the energy level above which a frame counts as voice.
// Tuned conservatively for 16-bit PCM captured at normal speaking volume.
const DefaultVoiceRMS = 250.0

// SilenceTracker watches capture frames and reports how long the user has
// been silent. Safe for concurrent use.
type SilenceTracker struct {
	mu        sync.Mutex
	voiceRMS  float64
	lastVoice time.Time
}

// NewSilenceTracker creates a tracker. A voiceRMS <= 0 uses DefaultVoiceRMS.
func NewSilenceTracker(voiceRMS float64) *SilenceTracker {
	if voiceRMS <= 0 {
		voiceRMS = DefaultVoiceRMS
	}
	return &SilenceTracker{voiceRMS: voiceRMS, lastVoice: time.Now()}
}

// Observe feeds one capture frame.
func (t *SilenceTracker) Observe(f audio.Frame) {
	if audio.RMS(f.Data) < t.voiceRMS {
		return
	}
	t.mu.Lock()
	t.lastVoice = time.Now()
	t.mu.Unlock()
}

// TrailingSilence returns the time since voice was last observed.
func (t *SilenceTracker) TrailingSilence() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Since(t.lastVoice)
}

// Reset restarts the silence window, as when a new listening session opens.
func (t *SilenceTracker) Reset() {
	t.mu.Lock()
	t.lastVoice = time.Now()
	t.mu.Unlock()
}
