// Package eou provides end-of-utterance detection for the transcription
// channel: deciding, from the running transcript and trailing silence,
// whether the user has finished speaking.
package eou

import (
	"context"
	"time"
)

// DefaultThreshold is the score above which an utterance is treated as
// complete.
const DefaultThreshold = 0.75

// Segment describes the state of one in-progress utterance.
type Segment struct {
	// Transcript is the latest running transcript text.
	Transcript string

	// TrailingSilence is how long since voice energy was last observed.
	TrailingSilence time.Duration
}

// Detector scores how likely the user is done speaking.
type Detector interface {
	// Score returns a probability (0-1) that the utterance is complete.
	Score(ctx context.Context, seg Segment) (float64, error)

	// Threshold returns the score at or above which the utterance should
	// be finalized.
	Threshold() float64
}
