// Package config reads engine configuration from the environment, with an
// optional .env file for development.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds engine configuration. Durations are fixed once a session
// starts; nothing here is adjustable mid-flight.
type Config struct {
	AutoListen       bool
	CountdownSeconds int
	ListenTimeout    time.Duration

	CheckInFirstDelay time.Duration
	CheckInInterval   time.Duration
	CheckInCapture    time.Duration

	EmergencyKeywords []string

	AssemblyAIKey string
	OpenAIKey     string

	Voice    string
	Language string
}

// HasCloudSTT reports whether a cloud transcription credential is present.
// Without one the engine runs local-only from session start.
func (c Config) HasCloudSTT() bool {
	return c.AssemblyAIKey != ""
}

// HasCloudTTS reports whether a cloud synthesis credential is present.
func (c Config) HasCloudTTS() bool {
	return c.OpenAIKey != ""
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded")
	}

	cfg := Config{
		AutoListen:        envBool("AUTO_LISTEN", false),
		CountdownSeconds:  envInt("AUTO_LISTEN_COUNTDOWN_SECONDS", 3),
		ListenTimeout:     envMillis("LISTEN_TIMEOUT_MS", 10000),
		CheckInFirstDelay: envMillis("CHECKIN_FIRST_DELAY_MS", 30000),
		CheckInInterval:   envMillis("CHECKIN_INTERVAL_MS", 120000),
		CheckInCapture:    envMillis("CHECKIN_CAPTURE_MS", 6000),
		EmergencyKeywords: envList("EMERGENCY_KEYWORDS"),
		AssemblyAIKey:     os.Getenv("ASSEMBLYAI_API_KEY"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		Voice:             envOr("VOICE", "alloy"),
		Language:          envOr("LANGUAGE", "en-US"),
	}

	if cfg.AssemblyAIKey == "" {
		slog.Info("ASSEMBLYAI_API_KEY not set, transcription runs local-only")
	}
	if cfg.OpenAIKey == "" {
		slog.Info("OPENAI_API_KEY not set, synthesis and replies run local-only")
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer in environment", slog.String("key", key), slog.String("value", v))
		return fallback
	}
	return n
}

func envMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(envInt(key, fallbackMs)) * time.Millisecond
}

// envList parses a comma-separated list, trimming whitespace and dropping
// empty entries. Returns nil when the variable is unset.
func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
