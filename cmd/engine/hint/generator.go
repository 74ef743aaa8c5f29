package hint

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

const systemPrompt = "You generate concise answer hints for live meetings. " +
	"Reply with practical speaking suggestions as short Markdown bullets."

// Profile is the meeting context assembled into the hint prompt.
type Profile struct {
	Name        string
	MeetingType string
	Domain      string
	Language    string
	SelfIntro   string
	Notes       string
}

// Context renders the profile into the prompt preamble.
func (p Profile) Context() string {
	return fmt.Sprintf("Name: %s\nType: %s\nDomain: %s\nLanguage: %s\nSelf Intro: %s\nNotes: %s",
		p.Name, p.MeetingType, p.Domain, p.Language, p.SelfIntro, p.Notes)
}

// Generator produces answer hints through an OpenAI-compatible chat
// completion endpoint. A custom BaseURL supports self-hosted gateways and
// compatible providers.
type Generator struct {
	client *openai.Client
	model  string
}

// GeneratorConfig configures the completion backend.
type GeneratorConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

func NewGenerator(cfg GeneratorConfig) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("hint API key is missing")
	}
	if cfg.Model == "" {
		return nil, errors.New("hint model is missing")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Generator{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}, nil
}

func userPrompt(profileContext, question string) string {
	return fmt.Sprintf("Meeting context:\n%s\n\nDetected question:\n%s\n\nProvide a concise answer suggestion.",
		profileContext, question)
}

// SuggestStream streams hint text deltas into onDelta as they arrive,
// returning once the stream completes or the context is cancelled.
func (g *Generator) SuggestStream(ctx context.Context, profileContext, question string, onDelta func(delta string)) error {
	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.2,
		Stream:      true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(profileContext, question)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to open hint stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("hint stream failed: %w", err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		if delta := resp.Choices[0].Delta.Content; delta != "" {
			onDelta(delta)
		}
	}
}
