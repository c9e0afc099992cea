package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/solacehealth/voiceloop/pkg/convo"
)

const systemPrompt = "You are a calm, supportive wellness companion on a " +
	"voice call. Keep replies short and spoken-word friendly, one or two " +
	"sentences. Never give medical advice."

// ReplyGenerator implements agent.ReplyGenerator using chat completions.
type ReplyGenerator struct {
	client *openai.Client
	model  string
}

// NewReplyGenerator creates a chat-backed reply generator.
func NewReplyGenerator(cfg Config) (*ReplyGenerator, error) {
	client, err := cfg.client()
	if err != nil {
		return nil, err
	}
	model := cfg.ChatModel
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &ReplyGenerator{client: client, model: model}, nil
}

// GenerateReply maps the recent conversation into a chat completion. The
// recent slice already ends with the current user utterance.
func (g *ReplyGenerator) GenerateReply(ctx context.Context, userText string, recent []convo.Utterance) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(recent)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})

	sawCurrent := false
	for _, u := range recent {
		role := openai.ChatMessageRoleAssistant
		if u.Speaker == convo.SpeakerUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: u.Text})
		if u.Speaker == convo.SpeakerUser && u.Text == userText {
			sawCurrent = true
		}
	}
	if !sawCurrent {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: userText,
		})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     g.model,
		Messages:  messages,
		MaxTokens: 120,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
