// Package verify scores retrieved evidence against a claim and aggregates
// per-passage entailment votes into support and contradiction strengths.
package verify

import (
	"context"
	"fmt"
	"math"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/nli"
)

// Verifier turns (claim, passages) into a VerificationResult
type Verifier struct {
	scorer    nli.Scorer
	thrCon    float64 // contradiction vote threshold
	thrEnt    float64 // entailment vote threshold
	topNMulti int     // passages concatenated in multi mode
	workers   int     // concurrent scoring calls in single mode
}

// New creates a verifier. Thresholds must lie in [0,1] and topNMulti must
// be positive. workers < 1 scores sequentially.
func New(scorer nli.Scorer, thrCon, thrEnt float64, topNMulti, workers int) (*Verifier, error) {
	if scorer == nil {
		return nil, &model.ConfigError{Field: "verification.scorer", Reason: "scorer is required"}
	}
	if math.IsNaN(thrCon) || thrCon < 0 || thrCon > 1 {
		return nil, &model.ConfigError{Field: "verification.contradiction_threshold", Reason: fmt.Sprintf("%v outside [0,1]", thrCon)}
	}
	if math.IsNaN(thrEnt) || thrEnt < 0 || thrEnt > 1 {
		return nil, &model.ConfigError{Field: "verification.entailment_threshold", Reason: fmt.Sprintf("%v outside [0,1]", thrEnt)}
	}
	if topNMulti < 1 {
		return nil, &model.ConfigError{Field: "verification.top_n_multi", Reason: fmt.Sprintf("must be >= 1, got %d", topNMulti)}
	}
	if workers < 1 {
		workers = 1
	}
	return &Verifier{scorer: scorer, thrCon: thrCon, thrEnt: thrEnt, topNMulti: topNMulti, workers: workers}, nil
}

// FromConfig creates a verifier from the verification section
func FromConfig(scorer nli.Scorer, v model.VerificationConfig) (*Verifier, error) {
	return New(scorer, v.ContradictionThreshold, v.EntailmentThreshold, v.TopNMulti, v.Workers)
}

// ParseMode validates a verification mode name
func ParseMode(s string) (model.VerifyMode, error) {
	switch m := model.VerifyMode(strings.ToLower(strings.TrimSpace(s))); m {
	case model.ModeSingle, model.ModeMulti:
		return m, nil
	}
	return "", &model.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown verification mode %q (supported: single, multi)", s)}
}

// Vote classifies one score triple. Contradiction is checked first; a side
// must reach its threshold and strictly beat the other side.
func (v *Verifier) Vote(s model.NLIScores) model.Vote {
	if s.Contradiction >= v.thrCon && s.Contradiction > s.Entailment {
		return model.VoteContradict
	}
	if s.Entailment >= v.thrEnt && s.Entailment > s.Contradiction {
		return model.VoteEntail
	}
	return model.VoteNeutral
}

// Analyze scores passages against the claim.
//
// In single mode every passage is scored on its own and casts one vote;
// strengths are vote fractions over max(1, len(passages)). In multi mode
// the non-empty texts of the first topNMulti passages are joined and scored
// once, so exactly one vote is cast and the strengths are 0 or 1. Multi-mode
// strengths are therefore not comparable to single-mode fractions.
//
// A scorer failure aborts the analysis with a provider error; it is never
// turned into a neutral vote.
func (v *Verifier) Analyze(ctx context.Context, claim string, passages []model.Passage, mode model.VerifyMode) (model.VerificationResult, error) {
	switch mode {
	case model.ModeSingle:
		return v.analyzeSingle(ctx, claim, passages)
	case model.ModeMulti:
		return v.analyzeMulti(ctx, claim, passages)
	}
	return model.VerificationResult{}, &model.ConfigError{Field: "mode", Reason: fmt.Sprintf("unknown verification mode %q", mode)}
}

func (v *Verifier) analyzeSingle(ctx context.Context, claim string, passages []model.Passage) (model.VerificationResult, error) {
	details := make([]model.Detail, len(passages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i, p := range passages {
		g.Go(func() error {
			scores, err := v.scorer.Score(gctx, p.Text, claim)
			if err != nil {
				return fmt.Errorf("passage %d (%s): %w", i, p.DocID, model.NewProviderError("nli", "score", err))
			}
			details[i] = model.Detail{
				Mode:     model.ModeSingle,
				Title:    p.Title,
				SentID:   p.SentID,
				Text:     p.Text,
				Scores:   scores,
				Vote:     v.Vote(scores),
				IsPoison: p.IsPoison,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.VerificationResult{}, fmt.Errorf("verify: %w", err)
	}

	var votes model.Votes
	for _, d := range details {
		votes.Add(d.Vote)
	}
	denom := float64(max(1, len(passages)))

	return model.VerificationResult{
		Mode:                  model.ModeSingle,
		Votes:                 votes,
		Conflict:              votes.Entail > 0 && votes.Contradict > 0,
		SupportStrength:       float64(votes.Entail) / denom,
		ContradictionStrength: float64(votes.Contradict) / denom,
		Details:               details,
	}, nil
}

func (v *Verifier) analyzeMulti(ctx context.Context, claim string, passages []model.Passage) (model.VerificationResult, error) {
	used := passages[:min(v.topNMulti, len(passages))]

	texts := make([]string, 0, len(used))
	poisoned := false
	for _, p := range used {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
		poisoned = poisoned || p.IsPoison
	}
	premise := strings.Join(texts, " ")

	// An empty premise is still scored so multi mode always casts one vote
	scores, err := v.scorer.Score(ctx, premise, claim)
	if err != nil {
		return model.VerificationResult{}, fmt.Errorf("verify: %w", model.NewProviderError("nli", "score", err))
	}

	vote := v.Vote(scores)
	var votes model.Votes
	votes.Add(vote)

	result := model.VerificationResult{
		Mode:  model.ModeMulti,
		Votes: votes,
		Details: []model.Detail{{
			Mode:     model.ModeMulti,
			Text:     premise,
			Scores:   scores,
			Vote:     vote,
			IsPoison: poisoned,
		}},
	}
	switch vote {
	case model.VoteEntail:
		result.SupportStrength = 1
	case model.VoteContradict:
		result.ContradictionStrength = 1
	}
	return result, nil
}
