package eou

import (
	"context"
	"strings"
	"time"
	"unicode"
)

// Silence windows for the heuristic detector. The base window is extended
// when the last word suggests the speaker is mid-sentence ("and", "if", ...)
// so we don't cut the user off.
const (
	DefaultSilenceWindow         = 700 * time.Millisecond
	DefaultContinuationExtension = 1200 * time.Millisecond
)

// Heuristic is the default end-of-utterance detector: trailing silence
// scaled against a window that stretches for continuation-like endings.
// It needs no model files and no network.
type Heuristic struct {
	silenceWindow         time.Duration
	continuationExtension time.Duration
	threshold             float64
}

// NewHeuristic creates a heuristic detector with default windows.
func NewHeuristic() *Heuristic {
	return &Heuristic{
		silenceWindow:         DefaultSilenceWindow,
		continuationExtension: DefaultContinuationExtension,
		threshold:             DefaultThreshold,
	}
}

// NewHeuristicWithWindows creates a detector with explicit windows; tests
// use millisecond values.
func NewHeuristicWithWindows(silence, extension time.Duration) *Heuristic {
	return &Heuristic{
		silenceWindow:         silence,
		continuationExtension: extension,
		threshold:             DefaultThreshold,
	}
}

// Score maps trailing silence onto [0, 1]: zero silence scores 0, silence
// equal to the (possibly extended) window scores 1.
func (h *Heuristic) Score(_ context.Context, seg Segment) (float64, error) {
	window := h.silenceWindow
	if isContinuationLikely(seg.Transcript) {
		window += h.continuationExtension
	}

	if seg.TrailingSilence <= 0 {
		return 0, nil
	}
	score := float64(seg.TrailingSilence) / float64(window)
	if score > 1 {
		score = 1
	}
	return score, nil
}

func (h *Heuristic) Threshold() float64 {
	return h.threshold
}

// isContinuationLikely returns true if the last meaningful word indicates
// the speaker is likely to continue (conjunctions, prepositions, fillers).
func isContinuationLikely(text string) bool {
	w := lastWord(text)
	if w == "" {
		return false
	}
	_, ok := continuationWords[w]
	return ok
}

func lastWord(text string) string {
	trim := strings.TrimSpace(text)
	if trim == "" {
		return ""
	}
	fields := strings.FieldsFunc(trim, func(r rune) bool { return !unicode.IsLetter(r) })
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[len(fields)-1])
}

var continuationWords = map[string]struct{}{
	"and": {}, "or": {}, "but": {}, "nor": {}, "yet": {}, "so": {},
	"if": {}, "when": {}, "while": {}, "though": {}, "although": {},
	"because": {}, "since": {}, "unless": {}, "until": {}, "whereas": {},
	"also": {}, "plus": {}, "um": {}, "uh": {}, "like": {},
	"about": {}, "with": {}, "to": {}, "of": {}, "for": {}, "on": {}, "in": {}, "at": {},
}
