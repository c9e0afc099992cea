package unlock

import (
	"testing"

	"github.com/matryer/is"
)

func TestGate_QueuesUntilResume(t *testing.T) {
	is := is.New(t)

	prompted := 0
	g := NewGate(func() { prompted++ })

	var played []int
	g.Submit(func() { played = append(played, 1) })
	g.Submit(func() { played = append(played, 2) })
	g.Submit(func() { played = append(played, 3) })

	is.Equal(len(played), 0)  // nothing plays before the gesture
	is.Equal(g.Pending(), 3)
	is.Equal(prompted, 1) // UI prompted exactly once

	g.Resume()

	is.Equal(played, []int{1, 2, 3}) // flushed in original order
	is.Equal(g.Pending(), 0)
	is.True(g.Unlocked())
}

func TestGate_UnlockedRunsImmediately(t *testing.T) {
	is := is.New(t)

	g := NewGate(nil)
	g.Resume()

	ran := false
	g.Submit(func() { ran = true })
	is.True(ran)
}

func TestGate_NeverRelocks(t *testing.T) {
	is := is.New(t)

	g := NewGate(nil)
	g.Resume()
	g.Resume() // idempotent

	ran := false
	g.Submit(func() { ran = true })
	is.True(ran)
	is.True(g.Unlocked())
}

func TestNewUnlockedGate(t *testing.T) {
	is := is.New(t)

	g := NewUnlockedGate()
	is.True(g.Unlocked())

	ran := false
	g.Submit(func() { ran = true })
	is.True(ran)
}
