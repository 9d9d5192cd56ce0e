package nli

import (
	"os"

	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/model"
)

// FromConfig builds the configured scorer. provider is only used by the
// llm kind. The returned scope identifies the scorer for caching.
func FromConfig(v model.VerificationConfig, p model.ProviderConfig, provider llm.Provider) (Scorer, string, error) {
	kind, err := ParseKind(v.Scorer)
	if err != nil {
		return nil, "", err
	}

	switch kind {
	case KindLLM:
		s, err := NewLLMScorer(provider, v.ScorerModel)
		if err != nil {
			return nil, "", err
		}
		return s, kind + ":" + provider.Name() + ":" + v.ScorerModel, nil

	default:
		apiKey := os.Getenv("RAGTRUST_NLI_API_KEY")
		if apiKey == "" && kind == KindHF {
			apiKey = os.Getenv("HF_API_TOKEN")
		}
		s, err := NewHTTPScorer(HTTPOptions{
			URL:        v.ScorerURL,
			Model:      v.ScorerModel,
			APIKey:     apiKey,
			HF:         kind == KindHF,
			Timeout:    p.Timeout,
			HTTPProxy:  p.HTTPProxy,
			HTTPSProxy: p.HTTPSProxy,
			NoProxy:    p.NoProxy,
		})
		if err != nil {
			return nil, "", err
		}
		return s, kind + ":" + v.ScorerURL + ":" + v.ScorerModel, nil
	}
}
