// Package poison corrupts a deterministic subset of passages to simulate
// adversarial evidence.
package poison

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

// DocIDSuffix marks the doc_id of a corrupted passage
const DocIDSuffix = "__POISON"

var strategies = map[string]func(string) string{
	model.StrategyContradictoryPassage: Contradict,
}

// Strategies lists the supported corruption strategies
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Poisoner applies one corruption strategy at a fixed rate
type Poisoner struct {
	strategy  string
	transform func(string) string
	rate      float64
	sampler   *Sampler
}

// New validates the strategy and rate. An unknown strategy is a
// configuration error, never a silent pass-through.
func New(strategy string, rate float64, sampler *Sampler) (*Poisoner, error) {
	transform, ok := strategies[strategy]
	if !ok {
		return nil, &model.ConfigError{
			Field:  "poisoning.strategy",
			Reason: fmt.Sprintf("unknown strategy %q (supported: %s)", strategy, strings.Join(Strategies(), ", ")),
		}
	}
	if math.IsNaN(rate) || rate < 0 || rate > 1 {
		return nil, &model.ConfigError{Field: "poisoning.rate", Reason: fmt.Sprintf("%v outside [0,1]", rate)}
	}
	if sampler == nil {
		return nil, &model.ConfigError{Field: "poisoning", Reason: "sampler is required"}
	}
	return &Poisoner{strategy: strategy, transform: transform, rate: rate, sampler: sampler}, nil
}

// Rate returns the configured poison rate
func (p *Poisoner) Rate() float64 { return p.rate }

// Strategy returns the configured strategy name
func (p *Poisoner) Strategy() string { return p.strategy }

// Count returns how many of total passages a call would corrupt
func (p *Poisoner) Count(total int) int {
	if p.rate <= 0 || total <= 0 {
		return 0
	}
	n := max(1, int(math.Round(p.rate*float64(total))))
	return min(n, total)
}

// Apply returns a new slice with a deterministic subset corrupted. With a
// zero rate the input slice itself is returned. The input is never modified.
func (p *Poisoner) Apply(passages []model.Passage) []model.Passage {
	if p.rate <= 0 {
		return passages
	}

	out := model.ClonePassages(passages)
	for _, i := range p.sampler.Sample(len(out), p.Count(len(out))) {
		out[i].Text = p.transform(out[i].Text)
		out[i].IsPoison = true
		out[i].Source = model.SourcePoison
		out[i].DocID += DocIDSuffix
	}
	return out
}

// ApplyToCorpus corrupts the corpus itself, once, before indexing
func (p *Poisoner) ApplyToCorpus(corpus []model.Passage) []model.Passage {
	return p.Apply(corpus)
}

// Indices returns the positions of corrupted passages
func Indices(passages []model.Passage) []int {
	var idx []int
	for i, p := range passages {
		if p.IsPoison {
			idx = append(idx, i)
		}
	}
	return idx
}
