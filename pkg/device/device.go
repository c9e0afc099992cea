// Package device abstracts the microphone so the engine can be tested with
// scripted capture sources and so the single physical device can be
// serialized between the transcription channel and the check-in recorder.
package device

import (
	"context"

	"github.com/solacehealth/voiceloop/pkg/audio"
)

// Capture is one exclusive hold on the microphone. Close must release every
// underlying track; callers guarantee Close on all exit paths.
type Capture interface {
	// Frames delivers 10ms capture frames. The channel closes when the
	// capture is closed or the device fails.
	Frames() <-chan audio.Frame

	// Close releases the device. Idempotent.
	Close() error
}

// Microphone acquires captures. Implementations map acquisition failures to
// the provider error taxonomy (ErrPermissionDenied, ErrDeviceUnavailable).
type Microphone interface {
	Acquire(ctx context.Context) (Capture, error)
}
