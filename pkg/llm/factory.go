package llm

import (
	"fmt"

	"go.uber.org/zap"
)

// Supported chat providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// defaultOpenAIEndpoint is used when no base URL is configured for an
// OpenAI-compatible client.
const defaultOpenAIEndpoint = "https://api.openai.com/v1"

// NewChatClient creates the extraction chat client for the configured
// provider. Returns LLMClient to enable dependency injection of mocks.
func NewChatClient(provider string, cfg *Config, logger *zap.Logger) (LLMClient, error) {
	switch provider {
	case ProviderOpenAI, "":
		resolved := *cfg
		if resolved.Endpoint == "" {
			resolved.Endpoint = defaultOpenAIEndpoint
		}
		client, err := NewClient(&resolved, logger)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return client, nil
	case ProviderAnthropic:
		client, err := NewAnthropicClient(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create anthropic client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", provider)
	}
}

// NewEmbeddingClient creates the vector embedding client. Embeddings are
// always served by an OpenAI-compatible endpoint regardless of the chat
// provider; Anthropic does not expose an embeddings API.
func NewEmbeddingClient(cfg *Config, logger *zap.Logger) (LLMClient, error) {
	resolved := *cfg
	if resolved.Endpoint == "" {
		resolved.Endpoint = defaultOpenAIEndpoint
	}
	client, err := NewClient(&resolved, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	return client, nil
}
