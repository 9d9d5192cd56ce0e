package llm

import (
	"context"
	"fmt"

	"github.com/ppiankov/ragtrust/internal/worker"
)

// Generator draws repeated samples from a provider. Each call goes
// through the guard, so sampling honours the provider rate limit and
// per-call timeout.
type Generator struct {
	provider Provider
	guard    worker.Guard
	samples  int
}

// NewGenerator creates a generator producing samples completions per prompt
func NewGenerator(provider Provider, guard worker.Guard, samples int) (*Generator, error) {
	if provider == nil {
		return nil, fmt.Errorf("generator requires a provider")
	}
	if samples < 1 {
		samples = 1
	}
	return &Generator{provider: provider, guard: guard, samples: samples}, nil
}

// Samples returns the number of completions per prompt
func (g *Generator) Samples() int {
	return g.samples
}

// Generate returns one trimmed completion per sample, in sampling order.
// The first failure aborts the remaining samples.
func (g *Generator) Generate(ctx context.Context, prompt string) ([]string, error) {
	out := make([]string, 0, g.samples)
	for i := 0; i < g.samples; i++ {
		resp, err := worker.Do(ctx, g.guard, g.provider.Name(), "generate", func(ctx context.Context) (*Response, error) {
			return g.provider.Complete(ctx, Request{Prompt: prompt})
		})
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i+1, err)
		}
		out = append(out, resp.Text)
	}
	return out, nil
}
