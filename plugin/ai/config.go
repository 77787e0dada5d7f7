package ai

import (
	"errors"
	"time"

	"github.com/hrygo/brandpulse/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	Embedding EmbeddingConfig
	LLM       LLMConfig
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Model      string // text-embedding-3-small
	Dimensions int    // 1536
	APIKey     string
	BaseURL    string
}

// LLMConfig represents LLM configuration.
type LLMConfig struct {
	Model       string // gpt-4o-mini
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 2048
	Temperature float32 // default: 0
	MaxRetries  int     // default: 3
	// RetryBackoff is the first backoff step; it doubles on every attempt.
	RetryBackoff time.Duration // default: 1s
	Timeout      time.Duration // default: 60s
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Model:      p.EmbeddingModel,
			Dimensions: p.EmbeddingDimensions,
			APIKey:     p.OpenAIAPIKey,
			BaseURL:    p.OpenAIBaseURL,
		},
		LLM: LLMConfig{
			Model:        p.ChatModel,
			APIKey:       p.OpenAIAPIKey,
			BaseURL:      p.OpenAIBaseURL,
			MaxTokens:    2048,
			Temperature:  0,
			MaxRetries:   3,
			RetryBackoff: time.Second,
			Timeout:      60 * time.Second,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return errors.New("LLM model is required")
	}
	if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return errors.New("LLM API key is required")
	}
	if c.Embedding.Model == "" {
		return errors.New("embedding model is required")
	}
	return nil
}

func (c *LLMConfig) applyDefaults() {
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2048
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
}
