package ai

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

// NewOllamaProvider uses Ollama's OpenAI-compatible API under /v1.
func NewOllamaProvider(baseURL, model string) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	config := openai.DefaultConfig("ollama")
	config.BaseURL = strings.TrimRight(baseURL, "/") + "/v1"
	return &OpenAIProvider{
		name:   "ollama",
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}
