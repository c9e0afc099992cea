// Package provider defines the provider identity, error taxonomy and
// circuit-breaker health policy shared by the transcription and speech
// synthesis channels.
package provider

import "errors"

// Sentinel errors classifying every failure the voice channels can hit.
// Callers match with errors.Is.
var (
	// ErrPermissionDenied indicates the user denied microphone access.
	// Terminal for the call: reported, never retried.
	ErrPermissionDenied = errors.New("microphone permission denied")

	// ErrDeviceUnavailable indicates no capture device was found.
	// Terminal for the call.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrProviderUnreachable indicates a network or socket failure on a
	// provider. Triggers a same-call fallback switch and counts against
	// the provider's health.
	ErrProviderUnreachable = errors.New("provider unreachable")

	// ErrProviderDisabled indicates the circuit breaker is open for a
	// provider. Callers skip straight to the fallback without retrying.
	ErrProviderDisabled = errors.New("provider disabled for session")

	// ErrTimeout indicates a listen call exceeded its ceiling with no
	// final transcript. Resolves as no-input, not a failure.
	ErrTimeout = errors.New("listen timed out")

	// ErrDecodeFailure indicates synthesized audio could not be decoded
	// into a playable clip. Triggers fallback synthesis.
	ErrDecodeFailure = errors.New("audio decode failure")
)

// IsTerminal reports whether an error should surface to the UI instead of
// being recovered by a strategy switch.
func IsTerminal(err error) bool {
	return errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrDeviceUnavailable)
}

// IsRecoverable reports whether an error should be recovered in-call by
// switching to the fallback strategy.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrProviderUnreachable) ||
		errors.Is(err, ErrProviderDisabled) ||
		errors.Is(err, ErrDecodeFailure)
}

// Error wraps an underlying provider failure with its classification so
// transport details survive errors.Is matching.
type Error struct {
	Underlying error
	Class      error // one of the sentinels above
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Underlying != nil {
		return e.Underlying.Error()
	}
	return e.Class.Error()
}

func (e *Error) Unwrap() error {
	return e.Class
}

// Unreachable wraps a transport failure as ErrProviderUnreachable.
func Unreachable(underlying error, message string) error {
	return &Error{Underlying: underlying, Class: ErrProviderUnreachable, Message: message}
}

// Undecodable wraps a decode failure as ErrDecodeFailure.
func Undecodable(underlying error, message string) error {
	return &Error{Underlying: underlying, Class: ErrDecodeFailure, Message: message}
}
