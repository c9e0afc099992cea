package device

import "context"

// Guard serializes acquisition of the one physical microphone. The
// transcription channel and the check-in safety recorder both go through
// the same Guard rather than relying on platform-level device arbitration.
type Guard struct {
	sem chan struct{}
}

// NewGuard creates a guard for a single device.
func NewGuard() *Guard {
	return &Guard{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the device is free or the context ends.
func (g *Guard) Acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire grabs the device without blocking. Returns false if held.
func (g *Guard) TryAcquire() bool {
	select {
	case g.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees the device for the next holder. Must follow a successful
// Acquire or TryAcquire.
func (g *Guard) Release() {
	select {
	case <-g.sem:
	default:
		panic("device: Release without Acquire")
	}
}
