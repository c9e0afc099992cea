package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solacehealth/voiceloop/pkg/convo"
	devfake "github.com/solacehealth/voiceloop/pkg/device/fake"
	"github.com/solacehealth/voiceloop/pkg/session"
	"github.com/solacehealth/voiceloop/pkg/synth"
	synthfake "github.com/solacehealth/voiceloop/pkg/synth/fake"
	trfake "github.com/solacehealth/voiceloop/pkg/transcribe/fake"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Exercise the engine on stdin/stdout with scripted strategies",
	Long: `console runs a full session against scripted audio strategies. Typed
lines become user utterances; /listen runs a scripted voice turn.

Commands: /listen, /stop, /voice, /unlock, /say <transcript>, /quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		serveMetrics(metricsAddr, logger)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		recognizer := trfake.NewFakeRecognizer("I could use some company today")

		mic := devfake.NewFakeMicrophone()
		mic.FrameCount = 20

		s, err := session.New(session.Config{
			Mic:                 mic,
			Player:              &printPlayer{},
			FallbackRecognizer:  recognizer,
			FallbackSynthesizer: synthfake.NewFakeSynthesizer(),
			States:              printStates{},
			Greeting:            "Hello. I'm here with you. How are you feeling?",
			CheckInFirstDelay:   30 * time.Second,
			Logger:              logger,
		})
		if err != nil {
			return err
		}

		s.Start(ctx)
		defer s.Stop()

		fmt.Println("voiceloop console. Type to talk; /listen for a voice turn; /quit to exit.")
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			switch {
			case line == "":
			case line == "/quit":
				return nil
			case line == "/listen":
				s.StartListening()
			case line == "/stop":
				s.StopListening()
			case line == "/unlock":
				s.ConfirmAudioUnlock()
			case line == "/voice":
				s.ToggleVoice()
			case strings.HasPrefix(line, "/say "):
				// Script what the next voice turn will hear.
				recognizer.SetTranscript(strings.TrimPrefix(line, "/say "))
				fmt.Println("next /listen will hear that")
			default:
				s.HandleUserText(line)
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return scanner.Err()
	},
}

func init() {
	consoleCmd.Flags().String("metrics-addr", "", "serve expvar metrics on this address")
}

// printPlayer renders agent speech as console text.
type printPlayer struct{}

func (p *printPlayer) Play(ctx context.Context, clip *synth.Clip) error {
	fmt.Printf("[%s] %s\n", convo.SpeakerAgent, clip.Text)
	return nil
}

// printStates renders engine state notifications.
type printStates struct{}

func (printStates) StateChanged(state string) {
	fmt.Printf("(%s)\n", state)
}
