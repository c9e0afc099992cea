// Package shell implements microphone capture and clip playback on top of
// the host's command line audio tools (arecord/aplay on Linux, sox's rec
// and play elsewhere). It keeps the engine free of CGo audio bindings.
package shell

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/solacehealth/voiceloop/pkg/audio"
	"github.com/solacehealth/voiceloop/pkg/device"
	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/synth"
)

// DefaultRecordCommand captures raw 16-bit mono PCM at 16kHz on stdout.
var DefaultRecordCommand = []string{
	"arecord", "-q", "-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "raw",
}

// DefaultPlayCommand consumes raw PCM on stdin; sample rate and channel
// count are appended as -r and -c arguments per clip.
var DefaultPlayCommand = []string{
	"aplay", "-q", "-f", "S16_LE", "-t", "raw",
}

// Microphone implements device.Microphone over a capture command.
type Microphone struct {
	command    []string
	sampleRate int
}

// NewMicrophone creates a command-backed microphone. An empty command uses
// DefaultRecordCommand.
func NewMicrophone(command ...string) *Microphone {
	if len(command) == 0 {
		command = DefaultRecordCommand
	}
	return &Microphone{command: command, sampleRate: 16000}
}

// Acquire starts the capture process. Close kills it and releases the
// device.
func (m *Microphone) Acquire(ctx context.Context) (device.Capture, error) {
	if _, err := exec.LookPath(m.command[0]); err != nil {
		return nil, fmt.Errorf("%w: capture command %q not installed", provider.ErrDeviceUnavailable, m.command[0])
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, m.command[0], m.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %v", provider.ErrDeviceUnavailable, err)
	}

	c := &capture{
		cancel: cancel,
		cmd:    cmd,
		frames: make(chan audio.Frame, 16),
		done:   make(chan struct{}),
	}
	go c.read(stdout, m.sampleRate)
	return c, nil
}

type capture struct {
	cancel context.CancelFunc
	cmd    *exec.Cmd
	frames chan audio.Frame
	done   chan struct{}

	closeOnce sync.Once
}

// read slices the process stdout into 10ms frames.
func (c *capture) read(r io.Reader, sampleRate int) {
	defer close(c.frames)

	frameBytes := sampleRate / 100 * 2
	buf := make([]byte, frameBytes)
	var index int

	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		frame, err := audio.NewFrame(
			append([]byte(nil), buf...),
			sampleRate, 1,
			time.Duration(index)*10*time.Millisecond,
		)
		if err != nil {
			return
		}
		index++
		select {
		case c.frames <- *frame:
		case <-c.done:
			return
		}
	}
}

func (c *capture) Frames() <-chan audio.Frame {
	return c.frames
}

func (c *capture) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.cancel()
		c.cmd.Wait()
	})
	return nil
}

// Player implements synth.Player over a playback command.
type Player struct {
	command []string
}

// NewPlayer creates a command-backed player. An empty command uses
// DefaultPlayCommand.
func NewPlayer(command ...string) *Player {
	if len(command) == 0 {
		command = DefaultPlayCommand
	}
	return &Player{command: command}
}

// Play pipes the clip's PCM into the playback command and blocks until it
// finishes or ctx ends.
func (p *Player) Play(ctx context.Context, clip *synth.Clip) error {
	if _, err := exec.LookPath(p.command[0]); err != nil {
		return fmt.Errorf("%w: playback command %q not installed", provider.ErrDeviceUnavailable, p.command[0])
	}

	args := append(append([]string(nil), p.command[1:]...),
		"-r", strconv.Itoa(clip.SampleRate),
		"-c", strconv.Itoa(clip.NumChannels),
	)
	cmd := exec.CommandContext(ctx, p.command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	if _, err := stdin.Write(clip.PCM); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return fmt.Errorf("playback write failed: %w", err)
	}
	stdin.Close()
	return cmd.Wait()
}
