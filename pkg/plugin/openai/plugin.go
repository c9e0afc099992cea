// Package openai provides OpenAI-backed strategies: Whisper batch
// transcription, text-to-speech synthesis and chat-based reply generation.
package openai

import (
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds shared configuration for the OpenAI strategies.
type Config struct {
	// APIKey authenticates every call. Required.
	APIKey string

	// BaseURL overrides the API endpoint, for tests.
	BaseURL string

	// WhisperModel defaults to whisper-1.
	WhisperModel string

	// SpeechModel defaults to tts-1.
	SpeechModel string

	// ChatModel defaults to gpt-4o-mini.
	ChatModel string

	// Voice defaults to alloy.
	Voice string
}

func (c *Config) client() (*openai.Client, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	cfg := openai.DefaultConfig(c.APIKey)
	if c.BaseURL != "" {
		cfg.BaseURL = c.BaseURL
	}
	return openai.NewClientWithConfig(cfg), nil
}
