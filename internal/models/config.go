package models

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/formscan/permit-ocr-service/internal/normalize"
)

// Config represents the service configuration
type Config struct {
	// Server config
	Port        int             `yaml:"port"`
	Host        string          `yaml:"host"`
	UploadDir   string          `yaml:"upload_dir"`
	MaxUploadMB int64           `yaml:"max_upload_mb"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`

	// OCR config
	OCR OCRConfig `yaml:"ocr"`

	// AI config
	AI AIConfig `yaml:"ai"`

	// Extraction pipeline
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Optional YAML field schema; empty uses the built-in permit schema
	SchemaFile string `yaml:"schema_file"`

	// Optional PostgreSQL audit log
	DatabaseURL string `yaml:"database_url"`
}

// RateLimitConfig is the per-client-IP limit on upload endpoints
type RateLimitConfig struct {
	Every time.Duration `yaml:"every"` // one token per interval
	Burst int           `yaml:"burst"`
}

// OCRConfig represents OCR-specific configuration
type OCRConfig struct {
	Engine        string        `yaml:"engine"`   // only "tesseract"
	Binary        string        `yaml:"binary"`   // path to the tesseract executable
	Language      string        `yaml:"language"` // default "ara+eng"
	MaxConcurrent int64         `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama (local)
	Ollama OllamaConfig `yaml:"ollama"`

	// Default provider: "openai", "gemini", "ollama" or "" for none
	DefaultProvider string `yaml:"default_provider"`

	Temperature       float32 `yaml:"temperature"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerMinute int     `yaml:"requests_per_minute"` // 0 disables throttling
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-3.5-turbo"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434"
	Model   string `yaml:"model"`    // e.g., "mistral", "llama3"
}

// PipelineConfig selects the extraction strategy and its limits
type PipelineConfig struct {
	Mode         string            `yaml:"mode"` // "pattern", "model", "model_with_fallback"
	ModelTimeout time.Duration     `yaml:"model_timeout"`
	Reconcile    bool              `yaml:"reconcile"` // fill unknown model fields from the pattern result
	Normalize    normalize.Options `yaml:"normalize"`
}

// LoadConfig reads the YAML file (if path is not empty), applies environment
// overrides and fills defaults.
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		// Read config file
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		// Parse YAML
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Override with environment variables if present
	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT %q: %w", port, err)
		}
		config.Port = p
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.AI.Ollama.BaseURL = baseURL
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		config.AI.DefaultProvider = provider
	}
	if mode := os.Getenv("PIPELINE_MODE"); mode != "" {
		config.Pipeline.Mode = mode
	}
	if lang := os.Getenv("OCR_LANGUAGE"); lang != "" {
		config.OCR.Language = lang
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.DatabaseURL = dbURL
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.UploadDir == "" {
		c.UploadDir = os.TempDir()
	}
	if c.MaxUploadMB <= 0 {
		c.MaxUploadMB = 10
	}
	if c.RateLimit.Every <= 0 {
		c.RateLimit.Every = 600 * time.Millisecond
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	if c.OCR.Engine == "" {
		c.OCR.Engine = "tesseract"
	}
	if c.OCR.Binary == "" {
		c.OCR.Binary = "tesseract"
	}
	if c.OCR.Language == "" {
		c.OCR.Language = "ara+eng"
	}
	if c.OCR.MaxConcurrent <= 0 {
		c.OCR.MaxConcurrent = 4
	}
	if c.OCR.Timeout <= 0 {
		c.OCR.Timeout = 60 * time.Second
	}
	if c.AI.OpenAI.Model == "" {
		c.AI.OpenAI.Model = "gpt-3.5-turbo"
	}
	if c.AI.Gemini.Model == "" {
		c.AI.Gemini.Model = "gemini-1.5-flash"
	}
	if c.AI.Ollama.BaseURL == "" {
		c.AI.Ollama.BaseURL = "http://localhost:11434"
	}
	if c.AI.Ollama.Model == "" {
		c.AI.Ollama.Model = "llama3"
	}
	if c.AI.MaxTokens <= 0 {
		c.AI.MaxTokens = 1024
	}
	if c.Pipeline.Mode == "" {
		if c.AI.DefaultProvider == "" {
			c.Pipeline.Mode = "pattern"
		} else {
			c.Pipeline.Mode = "model_with_fallback"
		}
	}
	if c.Pipeline.ModelTimeout <= 0 {
		c.Pipeline.ModelTimeout = 30 * time.Second
	}
}
