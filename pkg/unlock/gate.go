// Package unlock models platforms that suspend audio output until an
// explicit user gesture. Playback requests made before the gesture are
// queued, not dropped, and flush in original order once the user confirms.
package unlock

import (
	"sync"
	"sync/atomic"
)

// Gate holds playback work until the audio subsystem is unlocked. Once
// unlocked it never re-locks for the life of the session.
type Gate struct {
	unlocked atomic.Bool

	mu      sync.Mutex
	pending []func()

	// onBlocked signals the UI collaborator to prompt for the gesture.
	onBlocked func()
}

// NewGate creates a locked gate. onBlocked, if non-nil, is invoked the
// first time a playback request has to be queued.
func NewGate(onBlocked func()) *Gate {
	return &Gate{onBlocked: onBlocked}
}

// NewUnlockedGate creates a gate for platforms with no gesture requirement.
func NewUnlockedGate() *Gate {
	g := &Gate{}
	g.unlocked.Store(true)
	return g
}

// Unlocked reports whether playback may proceed immediately.
func (g *Gate) Unlocked() bool {
	return g.unlocked.Load()
}

// Submit runs play immediately when unlocked, otherwise queues it. Queued
// work runs, in submission order, on the goroutine that calls Resume.
func (g *Gate) Submit(play func()) {
	if g.unlocked.Load() {
		play()
		return
	}

	g.mu.Lock()
	// Re-check under the lock so a concurrent Resume can't strand work.
	if g.unlocked.Load() {
		g.mu.Unlock()
		play()
		return
	}
	first := len(g.pending) == 0
	g.pending = append(g.pending, play)
	g.mu.Unlock()

	if first && g.onBlocked != nil {
		g.onBlocked()
	}
}

// Resume unlocks the gate on the user's confirming gesture and flushes the
// queue in original order. Safe to call more than once.
func (g *Gate) Resume() {
	g.mu.Lock()
	if g.unlocked.Load() {
		g.mu.Unlock()
		return
	}
	g.unlocked.Store(true)
	queued := g.pending
	g.pending = nil
	g.mu.Unlock()

	for _, play := range queued {
		play()
	}
}

// Pending returns how many playback requests are waiting on the gesture.
func (g *Gate) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}
