package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/formscan/permit-ocr-service/internal/models"
)

var (
	// ErrUnavailable means the backend could not produce a response.
	ErrUnavailable = errors.New("model backend unavailable")
	// ErrTimeout means the backend did not answer within the deadline.
	ErrTimeout = errors.New("model backend timeout")
)

// Options are per-call generation settings.
type Options struct {
	Temperature float32
	MaxTokens   int
}

// Provider is a generative model backend. Implementations are created once
// at startup and closed on shutdown.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Close() error
}

// NewProvider creates the provider named by providerName using cfg.
// modelName overrides the configured model when set.
func NewProvider(ctx context.Context, cfg models.AIConfig, providerName, modelName string) (Provider, error) {
	var p Provider
	switch providerName {
	case "openai":
		model := modelName
		if model == "" {
			model = cfg.OpenAI.Model
		}
		p = NewOpenAIProvider(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, model)

	case "gemini":
		model := modelName
		if model == "" {
			model = cfg.Gemini.Model
		}
		g, err := NewGeminiProvider(ctx, cfg.Gemini.APIKey, model)
		if err != nil {
			return nil, err
		}
		p = g

	case "ollama":
		model := modelName
		if model == "" {
			model = cfg.Ollama.Model
		}
		p = NewOllamaProvider(cfg.Ollama.BaseURL, model)

	default:
		return nil, fmt.Errorf("unsupported AI provider: %s", providerName)
	}

	return Throttle(p, cfg.RequestsPerMinute), nil
}

// classify wraps a backend error with ErrTimeout or ErrUnavailable.
func classify(ctx context.Context, name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", name, ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s: %w: %w", name, ErrTimeout, err)
	}
	return fmt.Errorf("%s: %w: %w", name, ErrUnavailable, err)
}

// NewProviders creates every provider with credentials in cfg, plus the
// default provider. Providers already created are closed on error.
func NewProviders(ctx context.Context, cfg models.AIConfig) (map[string]Provider, error) {
	wanted := map[string]bool{}
	if cfg.OpenAI.APIKey != "" || cfg.OpenAI.BaseURL != "" {
		wanted["openai"] = true
	}
	if cfg.Gemini.APIKey != "" {
		wanted["gemini"] = true
	}
	if cfg.DefaultProvider != "" {
		wanted[cfg.DefaultProvider] = true
	}

	providers := make(map[string]Provider, len(wanted))
	for name := range wanted {
		p, err := NewProvider(ctx, cfg, name, "")
		if err != nil {
			CloseAll(providers)
			return nil, err
		}
		providers[name] = p
	}
	return providers, nil
}

// CloseAll closes every provider and joins the errors.
func CloseAll(providers map[string]Provider) error {
	var errs []error
	for name, p := range providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
