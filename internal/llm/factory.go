package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "google", "gemini":
		return NewGoogleProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		// No provider configured - return nil (LLM disabled)
		return nil, nil

	default:
		return nil, &model.ConfigError{
			Field:  "generation.provider",
			Reason: fmt.Sprintf("unknown LLM provider: %s (supported: openai, anthropic, google, ollama)", config.Provider),
		}
	}
}

// NewEmbedder creates an embedding provider based on configuration
func NewEmbedder(config Config) (Embedder, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "google", "gemini":
		return NewGoogleProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	default:
		return nil, &model.ConfigError{
			Field:  "retrieval.embedding_provider",
			Reason: fmt.Sprintf("unknown embedding provider: %s (supported: openai, google, ollama)", config.Provider),
		}
	}
}

// ConfigFromModel builds a provider configuration for the named provider
// from the run configuration. The API key falls back to the provider's
// environment variable.
func ConfigFromModel(provider, modelName string, gen model.GenerationConfig, prov model.ProviderConfig) Config {
	apiKey := prov.APIKey
	if apiKey == "" {
		apiKey = APIKeyFromEnv(provider)
	}
	return Config{
		Provider:    provider,
		Model:       modelName,
		APIKey:      apiKey,
		BaseURL:     prov.BaseURL,
		Timeout:     prov.Timeout,
		MaxTokens:   gen.MaxTokens,
		Temperature: gen.Temperature,
		HTTPProxy:   prov.HTTPProxy,
		HTTPSProxy:  prov.HTTPSProxy,
		NoProxy:     prov.NoProxy,
	}
}

// APIKeyFromEnv reads the conventional API key variable for a provider
func APIKeyFromEnv(provider string) string {
	switch strings.ToLower(provider) {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic", "claude":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "google", "gemini":
		if k := os.Getenv("GOOGLE_API_KEY"); k != "" {
			return k
		}
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}
