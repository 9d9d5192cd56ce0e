// Package llm wraps text generation and embedding providers behind two
// small interfaces used for answer generation, LLM-backed entailment
// scoring and dense retrieval.
package llm

import (
	"context"
	"time"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete generates one completion for the request
	Complete(ctx context.Context, req Request) (*Response, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// Embedder turns texts into dense vectors
type Embedder interface {
	// Name returns the provider name
	Name() string

	// Embed returns one vector per input text, in input order
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Request is a single completion request
type Request struct {
	// System is an optional system instruction
	System string

	// Prompt is the user message
	Prompt string

	// Model overrides the configured model when set
	Model string

	// MaxTokens limits the response length (0 uses the configured value)
	MaxTokens int

	// Temperature controls sampling. Nil uses the configured value.
	Temperature *float64

	// JSON asks the provider for a JSON object when it supports that
	JSON bool
}

// Response contains the provider output
type Response struct {
	// Text is the generated text, trimmed
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "google", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// EmbeddingModel is used by Embedder implementations
	EmbeddingModel string

	// APIKey for OpenAI/Anthropic/Google
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, test servers)
	BaseURL string

	// Timeout for API requests
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Temperature for response generation
	Temperature float64

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // Disabled by default
		Timeout:     30 * time.Second,
		MaxTokens:   64,
		Temperature: 0.8,
	}
}

// Temperature returns a pointer to t, for Request.Temperature
func Temperature(t float64) *float64 {
	return &t
}

func (c Config) resolve(req Request, fallbackModel string) (model string, maxTokens int, temperature float64) {
	model = req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = fallbackModel
	}

	maxTokens = req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 64
	}

	temperature = c.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	return model, maxTokens, temperature
}
