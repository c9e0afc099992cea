package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/solacehealth/voiceloop/internal/config"
	"github.com/solacehealth/voiceloop/pkg/agent"
	"github.com/solacehealth/voiceloop/pkg/checkin"
	"github.com/solacehealth/voiceloop/pkg/device/shell"
	"github.com/solacehealth/voiceloop/pkg/eou"
	"github.com/solacehealth/voiceloop/pkg/local"
	"github.com/solacehealth/voiceloop/pkg/plugin/assembly"
	"github.com/solacehealth/voiceloop/pkg/plugin/openai"
	"github.com/solacehealth/voiceloop/pkg/session"
	"github.com/solacehealth/voiceloop/pkg/synth"
	"github.com/solacehealth/voiceloop/pkg/transcribe"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a live session on the host audio devices",
	Long: `run starts a session against the host microphone and speaker. Cloud
strategies activate when ASSEMBLYAI_API_KEY and OPENAI_API_KEY are set;
without them the engine runs on the local command-line tools.

Commands: /listen, /stop, /voice, /say <text>, /quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		recordingsDir, _ := cmd.Flags().GetString("recordings")
		serveMetrics(metricsAddr, logger)

		cfg := config.Load()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		var primarySTT transcribe.Recognizer
		if cfg.HasCloudSTT() {
			rec, err := assembly.NewRecognizer(assembly.Config{
				APIKey: cfg.AssemblyAIKey,
				Logger: logger,
			})
			if err != nil {
				return err
			}
			primarySTT = rec
		}

		var (
			primaryTTS synth.Synthesizer
			replies    agent.ReplyGenerator
		)
		if cfg.HasCloudTTS() {
			oc := openai.Config{APIKey: cfg.OpenAIKey, Voice: cfg.Voice}
			syn, err := openai.NewSynthesizer(oc)
			if err != nil {
				return err
			}
			primaryTTS = syn
			gen, err := openai.NewReplyGenerator(oc)
			if err != nil {
				return err
			}
			replies = gen
		}

		safety, err := newFileSafetyLog(recordingsDir, logger)
		if err != nil {
			return err
		}

		// Use the model-backed end-of-utterance detector when its files
		// have been downloaded; otherwise the silence heuristic applies.
		var detector eou.Detector
		if d := eou.NewDownloader(""); d.Ready() {
			det, err := eou.NewOnnx(d.ModelPath())
			if err != nil {
				return err
			}
			detector = det
			logger.Info("end-of-utterance model loaded", slog.String("path", d.ModelPath()))
		}

		s, err := session.New(session.Config{
			Mic:                 shell.NewMicrophone(),
			Player:              shell.NewPlayer(),
			PrimaryRecognizer:   primarySTT,
			FallbackRecognizer:  local.NewRecognizer(),
			PrimarySynthesizer:  primaryTTS,
			FallbackSynthesizer: local.NewSynthesizer(),
			Replies:             replies,
			States:              printStates{},
			Safety:              safety,
			Detector:            detector,
			Greeting:            "Hello. I'm here with you. How are you feeling?",
			AutoListen:          cfg.AutoListen,
			CountdownSeconds:    cfg.CountdownSeconds,
			ListenCeiling:       cfg.ListenTimeout,
			CheckInFirstDelay:   cfg.CheckInFirstDelay,
			CheckInInterval:     cfg.CheckInInterval,
			CheckInCapture:      cfg.CheckInCapture,
			EmergencyKeywords:   cfg.EmergencyKeywords,
			Voice:               cfg.Voice,
			Language:            cfg.Language,
			Logger:              logger,
		})
		if err != nil {
			return err
		}

		s.Start(ctx)
		defer s.Stop()

		fmt.Println("voiceloop running. /listen to talk, /quit to exit.")
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
			case line == "/voice":
				s.ToggleVoice()
			case strings.HasPrefix(line, "/say "):
				s.Say(strings.TrimPrefix(line, "/say "))
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
	runCmd.Flags().String("metrics-addr", "", "serve expvar metrics on this address")
	runCmd.Flags().String("recordings", "recordings", "directory for safety snippets and locations")
}

// fileSafetyLog persists check-in artifacts on disk: one WAV file per
// safety snippet plus an append-only locations.jsonl.
type fileSafetyLog struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

func newFileSafetyLog(dir string, logger *slog.Logger) (*fileSafetyLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recordings dir: %w", err)
	}
	return &fileSafetyLog{dir: dir, logger: logger}, nil
}

func (f *fileSafetyLog) RecordSafetySnippet(ctx context.Context, wavAudio []byte) error {
	name := fmt.Sprintf("snippet-%s.wav", time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(f.dir, name)
	if err := os.WriteFile(path, wavAudio, 0o644); err != nil {
		return fmt.Errorf("write safety snippet: %w", err)
	}
	f.logger.Info("safety snippet recorded", slog.String("path", path))
	return nil
}

func (f *fileSafetyLog) RecordLocation(ctx context.Context, loc checkin.Location) error {
	entry, err := json.Marshal(struct {
		Latitude       float64   `json:"latitude"`
		Longitude      float64   `json:"longitude"`
		AccuracyMeters float64   `json:"accuracy_meters"`
		CapturedAt     time.Time `json:"captured_at"`
	}{loc.Latitude, loc.Longitude, loc.AccuracyMeters, loc.CapturedAt})
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	file, err := os.OpenFile(filepath.Join(f.dir, "locations.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open location log: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(entry, '\n')); err != nil {
		return fmt.Errorf("append location: %w", err)
	}
	return nil
}
