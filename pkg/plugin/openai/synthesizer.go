package openai

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/solacehealth/voiceloop/pkg/provider"
	"github.com/solacehealth/voiceloop/pkg/synth"
)

// The speech endpoint returns raw 16-bit PCM at 24kHz mono when asked for
// the pcm response format.
const speechSampleRate = 24000

// Synthesizer implements synth.Synthesizer using the OpenAI speech API.
type Synthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

// NewSynthesizer creates a cloud text-to-speech synthesizer.
func NewSynthesizer(cfg Config) (*Synthesizer, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	model := cfg.SpeechModel
	if model == "" {
		model = string(openai.TTSModel1)
	}
	voice := cfg.Voice
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &Synthesizer{client: client, model: model, voice: voice}, nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, req synth.Request) (*synth.Clip, error) {
	voice := s.voice
	if req.Voice != "" {
		voice = req.Voice
	}

	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	}
	if req.Speed > 0 {
		speechReq.Speed = float64(req.Speed)
	}

	resp, err := s.client.CreateSpeech(ctx, speechReq)
	if err != nil {
		return nil, provider.Unreachable(err, "speech request failed")
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, provider.Unreachable(err, "speech response read failed")
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return nil, provider.Undecodable(nil, "speech response is not 16-bit pcm")
	}

	return &synth.Clip{
		Text:        req.Text,
		PCM:         pcm,
		SampleRate:  speechSampleRate,
		NumChannels: 1,
	}, nil
}

func (s *Synthesizer) Capabilities() synth.Capabilities {
	return synth.Capabilities{
		Streaming:          false,
		SupportedLanguages: []string{"en", "es", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		SupportedVoices:    []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"},
		SampleRates:        []int{speechSampleRate},
	}
}
