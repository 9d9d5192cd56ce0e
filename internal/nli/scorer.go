// Package nli adapts external entailment models to a single scoring
// interface: score(premise, hypothesis) -> {entailment, contradiction, neutral}.
package nli

import (
	"context"
	"fmt"
	"strings"

	"github.com/ppiankov/ragtrust/internal/cache"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/worker"
)

// Scorer scores how a premise (evidence) relates to a hypothesis (claim)
type Scorer interface {
	Score(ctx context.Context, premise, hypothesis string) (model.NLIScores, error)
}

// ScorerFunc adapts a function to Scorer
type ScorerFunc func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error)

// Score calls f
func (f ScorerFunc) Score(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
	return f(ctx, premise, hypothesis)
}

// Scorer kinds accepted by verification.scorer
const (
	KindHTTP = "http" // {"premise","hypothesis"} JSON endpoint
	KindHF   = "hf"   // Hugging Face inference style endpoint
	KindLLM  = "llm"  // generation provider asked for probabilities
)

// Kinds lists the supported scorer kinds
func Kinds() []string {
	return []string{KindHTTP, KindHF, KindLLM}
}

// ParseKind validates a scorer kind
func ParseKind(s string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", &model.ConfigError{
		Field:  "verification.scorer",
		Reason: fmt.Sprintf("unknown scorer %q (supported: %s)", s, strings.Join(Kinds(), ", ")),
	}
}

type cached struct {
	next  Scorer
	cache cache.Cache
	scope string
}

// Cached wraps s with a read-through cache. scope separates scorers whose
// outputs differ (endpoint or model name). Failures are never cached.
func Cached(s Scorer, c cache.Cache, scope string) Scorer {
	if c == nil {
		return s
	}
	return &cached{next: s, cache: c, scope: scope}
}

func (c *cached) Score(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
	key := cache.Key("nli", c.scope, premise, hypothesis)

	var scores model.NLIScores
	if cache.GetJSON(c.cache, key, &scores) {
		return scores, nil
	}

	scores, err := c.next.Score(ctx, premise, hypothesis)
	if err != nil {
		return scores, err
	}
	_ = cache.SetJSON(c.cache, key, scores, 0)
	return scores, nil
}

type guarded struct {
	next  Scorer
	name  string
	guard worker.Guard
}

// Guarded bounds every scoring call with the guard's rate limit and
// timeout. Errors surface as provider errors named after the scorer.
func Guarded(s Scorer, name string, g worker.Guard) Scorer {
	return &guarded{next: s, name: name, guard: g}
}

func (g *guarded) Score(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
	return worker.Do(ctx, g.guard, g.name, "score", func(ctx context.Context) (model.NLIScores, error) {
		return g.next.Score(ctx, premise, hypothesis)
	})
}

// normalizeLabel maps model label spellings onto the three relations
func normalizeLabel(label string) string {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "entailment", "entail", "entails", "supports":
		return "entailment"
	case "contradiction", "contradict", "contradicts", "refutes":
		return "contradiction"
	case "neutral", "not enough info", "nei":
		return "neutral"
	}
	return ""
}

// fromLabels builds scores from label/score pairs; unknown labels are ignored
func fromLabels(pairs map[string]float64) (model.NLIScores, error) {
	var s model.NLIScores
	found := 0
	for label, v := range pairs {
		switch normalizeLabel(label) {
		case "entailment":
			s.Entailment = v
		case "contradiction":
			s.Contradiction = v
		case "neutral":
			s.Neutral = v
		default:
			continue
		}
		found++
	}
	if found == 0 {
		return s, fmt.Errorf("no entailment labels in response")
	}
	if s.Entailment < 0 || s.Contradiction < 0 || s.Neutral < 0 {
		return s, fmt.Errorf("negative probability in response: %+v", s)
	}
	return s, nil
}

// normalize rescales the three values to sum to 1
func normalize(s model.NLIScores) (model.NLIScores, error) {
	total := s.Entailment + s.Contradiction + s.Neutral
	if total <= 0 {
		return s, fmt.Errorf("probabilities sum to %v", total)
	}
	return model.NLIScores{
		Entailment:    s.Entailment / total,
		Contradiction: s.Contradiction / total,
		Neutral:       s.Neutral / total,
	}, nil
}
