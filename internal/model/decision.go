package model

import (
	"fmt"
	"math"
)

// Label is the final trinary verdict for a claim
type Label string

const (
	LabelSupports      Label = "SUPPORTS"
	LabelRefutes       Label = "REFUTES"
	LabelNotEnoughInfo Label = "NOT ENOUGH INFO"
)

// DecisionParams configures label resolution. It is a value type: a variant
// is a new value, never an edit of an existing one.
type DecisionParams struct {
	minStrength float64
	margin      float64
	conflictNEI bool
}

// NewDecisionParams validates and builds decision parameters
func NewDecisionParams(minStrength, margin float64, conflictNEI bool) (DecisionParams, error) {
	if !inUnit(minStrength) {
		return DecisionParams{}, &ConfigError{Field: "decision.min_strength", Reason: fmt.Sprintf("%v outside [0,1]", minStrength)}
	}
	if math.IsNaN(margin) || margin < 0 || margin >= 1 {
		return DecisionParams{}, &ConfigError{Field: "decision.margin", Reason: fmt.Sprintf("%v outside [0,1)", margin)}
	}
	return DecisionParams{minStrength: minStrength, margin: margin, conflictNEI: conflictNEI}, nil
}

// inUnit reports whether x lies in [0,1]. NaN does not.
func inUnit(x float64) bool {
	return !math.IsNaN(x) && x >= 0 && x <= 1
}

// MinStrength is the minimum strength needed to commit to a label
func (p DecisionParams) MinStrength() float64 { return p.minStrength }

// Margin is the lead one side must have over the other
func (p DecisionParams) Margin() float64 { return p.margin }

// ConflictNEI forces NOT ENOUGH INFO whenever evidence conflicts
func (p DecisionParams) ConflictNEI() bool { return p.conflictNEI }

func (p DecisionParams) String() string {
	return fmt.Sprintf("min_strength=%.2f margin=%.2f conflict_nei=%t", p.minStrength, p.margin, p.conflictNEI)
}

// AblationVariant is a named set of verifier vote threshold overrides
type AblationVariant struct {
	Name                   string  `json:"name" toml:"-"`
	EntailmentThreshold    float64 `json:"entailment_threshold" toml:"entailment_threshold"`
	ContradictionThreshold float64 `json:"contradiction_threshold" toml:"contradiction_threshold"`
}

// DefaultDecisionParams returns {min_strength 0.3, margin 0.10, conflict_nei true}.
// Only configuration building uses it; the engine never falls back to it.
func DefaultDecisionParams() DecisionParams {
	return DecisionParams{minStrength: 0.3, margin: 0.10, conflictNEI: true}
}
