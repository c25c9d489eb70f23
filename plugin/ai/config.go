package ai

import (
	"fmt"
	"time"

	"github.com/hrygo/pandemonium/internal/profile"
)

// Default endpoints of the OpenAI-compatible backends.
const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com"
	DefaultOllamaBaseURL   = "http://localhost:11434/v1"
)

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Provider       string // openai, deepseek, ollama, mock
	Model          string
	APIKey         string
	BaseURL        string
	MaxConcurrency int           // upstream calls in flight across all rounds (default: 8)
	MaxRetries     int           // attempts per completion (default: 1)
	Timeout        time.Duration // per attempt
}

// NewConfigFromProfile creates LLM config from profile.
func NewConfigFromProfile(p *profile.Profile) *LLMConfig {
	cfg := &LLMConfig{
		Provider:       p.LLMProvider,
		Model:          p.LLMModel,
		APIKey:         p.LLMAPIKey,
		BaseURL:        p.LLMBaseURL,
		MaxConcurrency: p.LLMMaxConcurrency,
		MaxRetries:     p.LLMMaxRetries,
	}
	cfg.applyDefaults()
	return cfg
}

func (c *LLMConfig) applyDefaults() {
	if c.BaseURL == "" {
		switch c.Provider {
		case "openai":
			c.BaseURL = DefaultOpenAIBaseURL
		case "deepseek":
			c.BaseURL = DefaultDeepSeekBaseURL
		case "ollama":
			c.BaseURL = DefaultOllamaBaseURL
		}
	}
	if c.Model == "" {
		switch c.Provider {
		case "deepseek":
			c.Model = "deepseek-chat"
		case "ollama":
			c.Model = "qwen2.5"
		default:
			c.Model = "gpt-4o-mini"
		}
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 8
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 1
	}
}

// Validate validates the configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "openai", "deepseek":
		if c.APIKey == "" {
			return fmt.Errorf("LLM API key is required for provider %s", c.Provider)
		}
	case "ollama", "mock":
	case "":
		return fmt.Errorf("LLM provider is required")
	default:
		return fmt.Errorf("unsupported LLM provider: %s", c.Provider)
	}
	return nil
}

// NewCompletionProvider builds the provider selected by the configuration.
func NewCompletionProvider(cfg *LLMConfig) (CompletionProvider, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Provider == "mock" {
		return NewMockCompletionProvider(), nil
	}
	return NewOpenAIProvider(cfg), nil
}
