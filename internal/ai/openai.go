package ai

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// minTemperature stands in for 0: the client omits a zero temperature and
// the server would then apply its own default.
const minTemperature = 1e-6

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider for the OpenAI API or a compatible
// endpoint when baseURL is set.
func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT3Dot5Turbo
	}
	return &OpenAIProvider{
		name:   "openai",
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Generate sends the prompt as a single user message.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = minTemperature
	}
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		return "", classify(ctx, p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s: %w: no choices in response", p.name, ErrUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Close is a no-op; the HTTP client holds no dedicated resources.
func (p *OpenAIProvider) Close() error { return nil }
