// Package metrics scores individual predictions and averages per-example
// outcomes into batch summaries.
package metrics

import (
	"sort"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

// HallucinationThreshold is the contradiction strength at or above which
// an answer counts as a likely hallucination. It is deliberately not tied
// to the decision engine's min_strength.
const HallucinationThreshold = 0.4

// Tracked metric names, in report order
const (
	MetricAcc             = "acc"
	MetricHallucination   = "hallucination"
	MetricSelfConsistency = "self_consistency"
)

// Names lists the tracked metrics in report order
func Names() []string {
	return []string{MetricAcc, MetricHallucination, MetricSelfConsistency}
}

// Aggregate averages each tracked metric over the rows that carry it.
// Failed rows are skipped. A metric no row carries is absent from the map.
func Aggregate(rows []model.BatchRow) map[string]float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)

	add := func(name string, v *float64) {
		if v == nil {
			return
		}
		sums[name] += *v
		counts[name]++
	}
	for _, r := range rows {
		if r.Failed() {
			continue
		}
		add(MetricAcc, r.Acc)
		add(MetricHallucination, r.Hallucination)
		add(MetricSelfConsistency, r.SelfConsistency)
	}

	out := make(map[string]float64, len(sums))
	for name, sum := range sums {
		out[name] = sum / float64(counts[name])
	}
	return out
}

// Summary is a batch's averaged metrics together with its failure counts
type Summary struct {
	Metrics   map[string]float64 `json:"metrics" yaml:"metrics"`
	Total     int                `json:"total" yaml:"total"`
	Succeeded int                `json:"succeeded" yaml:"succeeded"`
	Failed    int                `json:"failed" yaml:"failed"`
	Skipped   int                `json:"skipped" yaml:"skipped"` // failed rows that never ran
}

// Summarize aggregates rows and counts failures, so an all-failing batch
// is distinguishable from an empty one
func Summarize(rows []model.BatchRow) Summary {
	s := Summary{Metrics: Aggregate(rows), Total: len(rows)}
	for _, r := range rows {
		if r.Failed() {
			s.Failed++
			if r.Skipped {
				s.Skipped++
			}
		} else {
			s.Succeeded++
		}
	}
	return s
}

// Get returns a metric and whether it was computed
func (s Summary) Get(name string) (float64, bool) {
	v, ok := s.Metrics[name]
	return v, ok
}

// HallucinationProxy is 1 when contradiction strength reaches
// HallucinationThreshold, else 0
func HallucinationProxy(v model.VerificationResult) float64 {
	if v.ContradictionStrength >= HallucinationThreshold {
		return 1
	}
	return 0
}

// FeverAccuracy is 1 when the predicted label equals the gold label
func FeverAccuracy(pred, gold model.Label) float64 {
	if pred == gold {
		return 1
	}
	return 0
}

// HotpotExactMatch compares answers ignoring case and surrounding whitespace
func HotpotExactMatch(pred, gold string) float64 {
	if normalizeAnswer(pred) == normalizeAnswer(gold) {
		return 1
	}
	return 0
}

// SelfConsistency is the share of samples agreeing with the most common
// normalized answer. No samples scores 0.
func SelfConsistency(samples []string) float64 {
	if len(samples) == 0 {
		return 0
	}
	_, top := majority(samples)
	return float64(top) / float64(len(samples))
}

// MajorityAnswer returns the most common normalized answer. Ties go to
// the answer seen first. No samples returns "".
func MajorityAnswer(samples []string) string {
	answer, _ := majority(samples)
	return answer
}

func majority(samples []string) (string, int) {
	counts := make(map[string]int, len(samples))
	first := make(map[string]int, len(samples))
	for i, s := range samples {
		n := normalizeAnswer(s)
		if _, seen := first[n]; !seen {
			first[n] = i
		}
		counts[n]++
	}

	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return first[keys[i]] < first[keys[j]]
	})
	if len(keys) == 0 {
		return "", 0
	}
	return keys[0], counts[keys[0]]
}

func normalizeAnswer(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
