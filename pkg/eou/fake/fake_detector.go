// Package fake provides a scripted end-of-utterance detector for tests.
package fake

import (
	"context"

	"github.com/solacehealth/voiceloop/pkg/eou"
)

// FakeDetector returns a fixed score.
type FakeDetector struct {
	score     float64
	threshold float64
}

// NewFakeDetector creates a detector that always reports end-of-utterance.
func NewFakeDetector() *FakeDetector {
	return &FakeDetector{score: 0.9, threshold: 0.75}
}

// NewFakeDetectorWithValues creates a detector with explicit values.
func NewFakeDetectorWithValues(score, threshold float64) *FakeDetector {
	return &FakeDetector{score: score, threshold: threshold}
}

func (f *FakeDetector) Score(_ context.Context, _ eou.Segment) (float64, error) {
	return f.score, nil
}

func (f *FakeDetector) Threshold() float64 {
	return f.threshold
}
