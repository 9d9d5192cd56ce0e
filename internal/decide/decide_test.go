package decide

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/ragtrust/internal/model"
)

func params(t *testing.T, minStrength, margin float64, conflictNEI bool) model.DecisionParams {
	t.Helper()
	p, err := model.NewDecisionParams(minStrength, margin, conflictNEI)
	require.NoError(t, err)
	return p
}

func TestDecide(t *testing.T) {
	defaults := params(t, 0.3, 0.10, true)

	tests := []struct {
		name   string
		params model.DecisionParams
		result model.VerificationResult
		want   model.Label
	}{
		{
			name:   "strong support",
			params: defaults,
			result: model.VerificationResult{SupportStrength: 0.6, ContradictionStrength: 0.1},
			want:   model.LabelSupports,
		},
		{
			name:   "strong contradiction",
			params: defaults,
			result: model.VerificationResult{SupportStrength: 0.1, ContradictionStrength: 0.6},
			want:   model.LabelRefutes,
		},
		{
			name:   "conflict forces NEI",
			params: defaults,
			result: model.VerificationResult{Conflict: true, SupportStrength: 0.8, ContradictionStrength: 0.2},
			want:   model.LabelNotEnoughInfo,
		},
		{
			name:   "conflict ignored when disabled",
			params: params(t, 0.3, 0.10, false),
			result: model.VerificationResult{Conflict: true, SupportStrength: 0.8, ContradictionStrength: 0.2},
			want:   model.LabelSupports,
		},
		{
			name:   "margin not exceeded",
			params: defaults,
			result: model.VerificationResult{SupportStrength: 0.4, ContradictionStrength: 0.35},
			want:   model.LabelNotEnoughInfo,
		},
		{
			name:   "margin must be strictly exceeded",
			params: params(t, 0.3, 0.25, true),
			result: model.VerificationResult{SupportStrength: 0.75, ContradictionStrength: 0.5},
			want:   model.LabelNotEnoughInfo,
		},
		{
			name:   "below min strength",
			params: defaults,
			result: model.VerificationResult{SupportStrength: 0.2},
			want:   model.LabelNotEnoughInfo,
		},
		{
			name:   "min strength is inclusive",
			params: defaults,
			result: model.VerificationResult{ContradictionStrength: 0.3},
			want:   model.LabelRefutes,
		},
		{
			name:   "no evidence",
			params: defaults,
			result: model.VerificationResult{},
			want:   model.LabelNotEnoughInfo,
		},
		{
			name:   "multi mode entail",
			params: defaults,
			result: model.VerificationResult{Mode: model.ModeMulti, SupportStrength: 1},
			want:   model.LabelSupports,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, New(tt.params).Decide(tt.result))
		})
	}
}

func TestDecide_Pure(t *testing.T) {
	e := New(params(t, 0.3, 0.10, true))
	r := model.VerificationResult{SupportStrength: 0.6}
	first := e.Decide(r)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, e.Decide(r))
	}
}

func TestYesNo(t *testing.T) {
	assert.Equal(t, "yes", YesNo(model.LabelSupports))
	assert.Equal(t, "no", YesNo(model.LabelRefutes))
	assert.Equal(t, "unknown", YesNo(model.LabelNotEnoughInfo))
}

func TestNewDecisionParams_Rejects(t *testing.T) {
	tests := []struct {
		name                string
		minStrength, margin float64
	}{
		{"min strength above 1", 1.5, 0.1},
		{"min strength NaN", math.NaN(), 0.1},
		{"negative margin", 0.3, -0.1},
		{"margin of 1", 0.3, 1},
		{"margin NaN", 0.3, math.NaN()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := model.NewDecisionParams(tt.minStrength, tt.margin, true)
			assert.ErrorIs(t, err, model.ErrConfiguration)
		})
	}
}
