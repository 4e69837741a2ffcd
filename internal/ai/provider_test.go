package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formscan/permit-ocr-service/internal/models"
)

type stubProvider struct {
	calls int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Generate(context.Context, string, Options) (string, error) {
	s.calls++
	return "{}", nil
}

func (s *stubProvider) Close() error { return nil }

func chatServer(t *testing.T, path string, status int, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		if assert.Len(t, req.Messages, 1) {
			assert.Equal(t, "extract this", req.Messages[0].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			w.Write([]byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := chatServer(t, "/chat/completions", http.StatusOK, `{"Age": "30"}`)
	p := NewOpenAIProvider("sk-test", srv.URL, "test-model")

	out, err := p.Generate(context.Background(), "extract this", Options{MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, `{"Age": "30"}`, out)
	assert.Equal(t, "openai", p.Name())
	assert.NoError(t, p.Close())
}

func TestOpenAIProviderServerError(t *testing.T) {
	srv := chatServer(t, "/chat/completions", http.StatusInternalServerError, "")
	p := NewOpenAIProvider("sk-test", srv.URL, "test-model")

	_, err := p.Generate(context.Background(), "extract this", Options{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestOllamaProviderUsesV1(t *testing.T) {
	srv := chatServer(t, "/v1/chat/completions", http.StatusOK, "done")
	p := NewOllamaProvider(srv.URL+"/", "test-model")

	out, err := p.Generate(context.Background(), "extract this", Options{})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, "ollama", p.Name())
}

func TestClassify(t *testing.T) {
	expired, cancel := context.WithTimeout(context.Background(), -time.Second)
	defer cancel()

	tests := []struct {
		name string
		ctx  context.Context
		err  error
		want error
	}{
		{name: "deadline", ctx: context.Background(), err: context.DeadlineExceeded, want: ErrTimeout},
		{name: "expired context", ctx: expired, err: errors.New("request failed"), want: ErrTimeout},
		{name: "other", ctx: context.Background(), err: errors.New("connection refused"), want: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.ctx, "x", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestThrottle(t *testing.T) {
	stub := &stubProvider{}
	assert.Same(t, Provider(stub), Throttle(stub, 0))

	p := Throttle(stub, 1)
	assert.Equal(t, "stub", p.Name())

	_, err := p.Generate(context.Background(), "", Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = p.Generate(ctx, "", Options{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, stub.calls)
}

func TestNewProvider(t *testing.T) {
	_, err := NewProvider(context.Background(), models.AIConfig{}, "claude", "")
	assert.ErrorContains(t, err, "unsupported AI provider")

	_, err = NewProvider(context.Background(), models.AIConfig{}, "gemini", "")
	assert.ErrorContains(t, err, "api key is required")

	p, err := NewProvider(context.Background(), models.AIConfig{}, "ollama", "llama3")
	require.NoError(t, err)
	assert.Equal(t, "ollama", p.Name())
}

func TestNewProviders(t *testing.T) {
	providers, err := NewProviders(context.Background(), models.AIConfig{})
	require.NoError(t, err)
	assert.Empty(t, providers)

	cfg := models.AIConfig{DefaultProvider: "ollama"}
	cfg.OpenAI.BaseURL = "http://localhost:1"
	providers, err = NewProviders(context.Background(), cfg)
	require.NoError(t, err)
	assert.Len(t, providers, 2)
	assert.Contains(t, providers, "openai")
	assert.Contains(t, providers, "ollama")
	assert.NoError(t, CloseAll(providers))

	_, err = NewProviders(context.Background(), models.AIConfig{DefaultProvider: "gemini"})
	assert.Error(t, err)
}
