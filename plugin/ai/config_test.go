package ai

import (
	"testing"
	"time"

	"github.com/hrygo/brandpulse/internal/profile"
)

// TestNewConfigFromProfile tests profile mapping.
func TestNewConfigFromProfile(t *testing.T) {
	prof := &profile.Profile{
		OpenAIAPIKey:        "sk-test",
		OpenAIBaseURL:       "https://api.openai.com/v1",
		ChatModel:           "gpt-4o-mini",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
	}

	cfg := NewConfigFromProfile(prof)

	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("Expected LLM.Model=gpt-4o-mini, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "sk-test" {
		t.Errorf("Expected LLM.APIKey=sk-test, got %s", cfg.LLM.APIKey)
	}
	if cfg.LLM.Temperature != 0 {
		t.Errorf("Expected LLM.Temperature=0, got %f", cfg.LLM.Temperature)
	}
	if cfg.LLM.MaxRetries != 3 {
		t.Errorf("Expected LLM.MaxRetries=3, got %d", cfg.LLM.MaxRetries)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("Expected Embedding.Dimensions=1536, got %d", cfg.Embedding.Dimensions)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

// TestConfig_Validate tests validation failures.
func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid",
			cfg: Config{
				LLM:       LLMConfig{Model: "gpt-4o-mini", APIKey: "k"},
				Embedding: EmbeddingConfig{Model: "text-embedding-3-small"},
			},
		},
		{
			name: "missing model",
			cfg: Config{
				LLM:       LLMConfig{APIKey: "k"},
				Embedding: EmbeddingConfig{Model: "text-embedding-3-small"},
			},
			wantErr: true,
		},
		{
			name: "missing credentials",
			cfg: Config{
				LLM:       LLMConfig{Model: "gpt-4o-mini"},
				Embedding: EmbeddingConfig{Model: "text-embedding-3-small"},
			},
			wantErr: true,
		},
		{
			name: "missing embedding model",
			cfg: Config{
				LLM: LLMConfig{Model: "gpt-4o-mini", APIKey: "k"},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLLMConfig_ApplyDefaults(t *testing.T) {
	cfg := LLMConfig{}
	cfg.applyDefaults()
	if cfg.MaxTokens != 2048 || cfg.MaxRetries != 3 || cfg.RetryBackoff != time.Second || cfg.Timeout != 60*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
