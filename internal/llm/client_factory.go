package llm

import (
	"context"
	"fmt"

	"webforge/internal/config"
)

// NewClient builds a provider client from configuration, wrapped with the
// hard per-request timeout.
func NewClient(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	var (
		client Client
		err    error
	)

	switch cfg.Provider {
	case "openai", "":
		client = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "gemini":
		client, err = NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s", cfg.Provider)
	}

	return WithTimeout(client, cfg.Timeout), nil
}
