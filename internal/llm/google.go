package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	googleoption "google.golang.org/api/option"

	"github.com/ppiankov/ragtrust/internal/logger"
)

const (
	defaultGoogleModel          = "gemini-1.5-flash"
	defaultGoogleEmbeddingModel = "text-embedding-004"
)

// GoogleProvider implements Provider and Embedder using the Google
// Generative AI SDK. A genai.Client is created per call so that the
// caller's context governs the connection and the client is always closed.
type GoogleProvider struct {
	config Config
}

// NewGoogleProvider creates a new Google provider
func NewGoogleProvider(config Config) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required (set GOOGLE_API_KEY)")
	}
	return &GoogleProvider{config: config}, nil
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

func (p *GoogleProvider) newClient(ctx context.Context) (*genai.Client, error) {
	opts := []googleoption.ClientOption{googleoption.WithAPIKey(p.config.APIKey)}
	if p.config.BaseURL != "" {
		opts = append(opts, googleoption.WithEndpoint(p.config.BaseURL))
	}
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return client, nil
}

// IsAvailable checks if the provider is properly configured with a minimal call
func (p *GoogleProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.Complete(ctx, Request{Prompt: "Hi", MaxTokens: 5})
	if err != nil {
		logger.Warn("Google API check failed: %v", err)
		return false
	}
	return true
}

// Complete generates content with a Gemini model
func (p *GoogleProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	modelName, maxTokens, temperature := p.config.resolve(req, defaultGoogleModel)

	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	m := client.GenerativeModel(modelName)
	if req.System != "" {
		m.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	maxOut := int32(maxTokens)
	m.MaxOutputTokens = &maxOut
	temp32 := float32(temperature)
	m.Temperature = &temp32
	if req.JSON {
		m.ResponseMIMEType = "application/json"
	}

	resp, err := m.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, fmt.Errorf("Google API error: %w", err)
	}

	var parts []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				parts = append(parts, string(t))
			}
		}
		// First candidate only
		break
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no text content in Google response")
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &Response{
		Text:       strings.TrimSpace(strings.Join(parts, "")),
		Model:      modelName,
		TokensUsed: tokens,
	}, nil
}

// Embed returns one embedding per text
func (p *GoogleProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	client, err := p.newClient(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	name := p.config.EmbeddingModel
	if name == "" {
		name = defaultGoogleEmbeddingModel
	}
	em := client.EmbeddingModel(name)

	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		res, err := em.EmbedContent(ctx, genai.Text(text))
		if err != nil {
			return nil, fmt.Errorf("Google embeddings error: %w", err)
		}
		if res.Embedding == nil {
			return nil, fmt.Errorf("no embedding values in Google response")
		}
		out = append(out, res.Embedding.Values)
	}
	return out, nil
}
