package nli

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/model"
)

const llmSystemPrompt = `You are a natural language inference classifier.
Given a PREMISE and a HYPOTHESIS, estimate the probability that the premise
entails, contradicts, or is neutral toward the hypothesis.
Respond with a single JSON object and nothing else:
{"entailment": <0..1>, "contradiction": <0..1>, "neutral": <0..1>}`

// LLMScorer asks a generation provider for relation probabilities.
// Outputs are rescaled to sum to 1.
type LLMScorer struct {
	provider llm.Provider
	model    string
}

// NewLLMScorer creates an LLM-backed scorer. modelName overrides the
// provider's configured model when set.
func NewLLMScorer(provider llm.Provider, modelName string) (*LLMScorer, error) {
	if provider == nil {
		return nil, &model.ConfigError{Field: "verification.scorer", Reason: "llm scorer requires a generation provider"}
	}
	return &LLMScorer{provider: provider, model: modelName}, nil
}

// Score prompts the provider at temperature 0 and parses its JSON answer
func (s *LLMScorer) Score(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
	resp, err := s.provider.Complete(ctx, llm.Request{
		System:      llmSystemPrompt,
		Prompt:      fmt.Sprintf("PREMISE: %s\nHYPOTHESIS: %s", premise, hypothesis),
		Model:       s.model,
		MaxTokens:   100,
		Temperature: llm.Temperature(0),
		JSON:        true,
	})
	if err != nil {
		return model.NLIScores{}, err
	}
	return parseLLMScores(resp.Text)
}

func parseLLMScores(raw string) (model.NLIScores, error) {
	var pairs map[string]float64
	if err := json.Unmarshal([]byte(stripMarkdownFences(raw)), &pairs); err != nil {
		return model.NLIScores{}, fmt.Errorf("parse scorer output %.200q: %w", raw, err)
	}
	scores, err := fromLabels(pairs)
	if err != nil {
		return scores, err
	}
	return normalize(scores)
}

var (
	fenceRe     = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")
	openFenceRe = regexp.MustCompile("^(?:`{3}|~{3})[^\\n]*\\n")
)

// stripMarkdownFences removes a ```json fence wrapped around model output.
// A lone opening fence (truncated output) is stripped too.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if loc := openFenceRe.FindStringIndex(s); loc != nil {
		return strings.TrimSpace(s[loc[1]:])
	}
	return s
}
