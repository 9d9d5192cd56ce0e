// Package decide resolves a verification result into a final label
package decide

import "github.com/ppiankov/ragtrust/internal/model"

// Engine applies decision parameters to verification results. It holds
// no mutable state and is safe for concurrent use.
type Engine struct {
	params model.DecisionParams
}

// New creates an engine. Parameters are always explicit.
func New(params model.DecisionParams) *Engine {
	return &Engine{params: params}
}

// Params returns the engine's decision parameters
func (e *Engine) Params() model.DecisionParams {
	return e.params
}

// Decide maps a verification result to a label. Rules apply in order:
// conflict (when conflict_nei is set) forces NOT ENOUGH INFO; then
// contradiction wins if it reaches min_strength and leads support by more
// than margin; then support under the same test; otherwise NOT ENOUGH INFO.
func (e *Engine) Decide(v model.VerificationResult) model.Label {
	p := e.params
	sup, con := v.SupportStrength, v.ContradictionStrength

	switch {
	case v.Conflict && p.ConflictNEI():
		return model.LabelNotEnoughInfo
	case con >= p.MinStrength() && con-sup > p.Margin():
		return model.LabelRefutes
	case sup >= p.MinStrength() && sup-con > p.Margin():
		return model.LabelSupports
	default:
		return model.LabelNotEnoughInfo
	}
}

// YesNo maps a label onto a yes/no answer for boolean questions
func YesNo(label model.Label) string {
	switch label {
	case model.LabelSupports:
		return "yes"
	case model.LabelRefutes:
		return "no"
	default:
		return "unknown"
	}
}
