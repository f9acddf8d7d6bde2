package llm

import (
	"context"
	"fmt"

	"teampulse/internal/config"
)

// NewFromConfig builds a client for the configured provider. An empty API
// key returns ErrNotConfigured; callers treat that as "degraded to the
// deterministic path", not as a startup failure.
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}

	switch cfg.Provider {
	case "", "gemini":
		gc := DefaultGeminiConfig(cfg.APIKey)
		if cfg.Model != "" {
			gc.Model = cfg.Model
		}
		return NewGeminiClientWithConfig(ctx, gc)
	case "openai":
		oc := DefaultOpenAIConfig(cfg.APIKey)
		if cfg.Model != "" {
			oc.Model = cfg.Model
		}
		if cfg.BaseURL != "" {
			oc.BaseURL = cfg.BaseURL
		}
		if d := config.Duration(cfg.Timeout, 0); d > 0 {
			oc.Timeout = d
		}
		return NewOpenAIClientWithConfig(oc), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
