// Package fake provides a scripted microphone for tests. It records every
// acquire and close so resource-release properties are observable.
package fake

import (
	"context"
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/device"
	"github.com/solacehealth/voiceloop/pkg/provider"
)

// FakeMicrophone hands out scripted captures. If AcquireErr is set every
// acquisition fails with it.
type FakeMicrophone struct {
	mu         sync.Mutex
	AcquireErr error
	FrameCount int           // frames each capture emits; 0 means silent open capture
	FrameDelay time.Duration // optional pacing between frames

	captures []*FakeCapture
}

func NewFakeMicrophone() *FakeMicrophone {
	return &FakeMicrophone{}
}

// Denied returns a microphone whose acquisition fails with permission denied.
func Denied() *FakeMicrophone {
	return &FakeMicrophone{AcquireErr: provider.ErrPermissionDenied}
}

// Missing returns a microphone whose acquisition fails with no-device-found.
func Missing() *FakeMicrophone {
	return &FakeMicrophone{AcquireErr: provider.ErrDeviceUnavailable}
}

func (m *FakeMicrophone) Acquire(ctx context.Context) (device.Capture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AcquireErr != nil {
		return nil, m.AcquireErr
	}

	c := &FakeCapture{frames: make(chan audio.Frame, m.FrameCount+1)}
	m.captures = append(m.captures, c)

	go c.emit(ctx, m.FrameCount, m.FrameDelay)
	return c, nil
}

// OpenCaptures returns how many handed-out captures have not been closed.
func (m *FakeMicrophone) OpenCaptures() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	open := 0
	for _, c := range m.captures {
		if !c.Closed() {
			open++
		}
	}
	return open
}

// AcquireCount returns how many captures were handed out.
func (m *FakeMicrophone) AcquireCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

// FakeCapture is a scripted capture emitting silent 16kHz mono frames.
type FakeCapture struct {
	frames chan audio.Frame
	mu     sync.Mutex
	closed bool
}

func (c *FakeCapture) emit(ctx context.Context, count int, delay time.Duration) {
	for i := 0; i < count; i++ {
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		frame, _ := audio.NewFrame(make([]byte, 320), 16000, 1, time.Duration(i)*10*time.Millisecond)

		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		select {
		case c.frames <- *frame:
		case <-ctx.Done():
			return
		}
	}
}

func (c *FakeCapture) Frames() <-chan audio.Frame {
	return c.frames
}

func (c *FakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return nil
}

func (c *FakeCapture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
