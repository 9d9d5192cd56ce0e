package nli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/ragtrust/internal/cache"
	"github.com/ppiankov/ragtrust/internal/llm"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/worker"
)

func TestHTTPScorer_PlainShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req plainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Paris is the capital of France.", req.Premise)
		assert.Equal(t, "Paris is in France.", req.Hypothesis)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"entailment":0.9,"contradiction":0.02,"neutral":0.08}`))
	}))
	defer server.Close()

	s, err := NewHTTPScorer(HTTPOptions{URL: server.URL, APIKey: "secret"})
	require.NoError(t, err)

	scores, err := s.Score(context.Background(), "Paris is the capital of France.", "Paris is in France.")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, scores.Entailment, 1e-9)
	assert.InDelta(t, 0.02, scores.Contradiction, 1e-9)
	assert.InDelta(t, 0.08, scores.Neutral, 1e-9)
}

func TestHTTPScorer_HFShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req hfRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "premise", req.Inputs.Text)
		assert.Equal(t, "claim", req.Inputs.TextPair)
		_, _ = w.Write([]byte(`[[{"label":"CONTRADICTION","score":0.7},{"label":"NEUTRAL","score":0.2},{"label":"ENTAILMENT","score":0.1}]]`))
	}))
	defer server.Close()

	s, err := NewHTTPScorer(HTTPOptions{URL: server.URL, HF: true})
	require.NoError(t, err)

	scores, err := s.Score(context.Background(), "premise", "claim")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, scores.Contradiction, 1e-9)
	assert.InDelta(t, 0.1, scores.Entailment, 1e-9)
}

func TestHTTPScorer_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s, err := NewHTTPScorer(HTTPOptions{URL: server.URL})
	require.NoError(t, err)

	_, err = s.Score(context.Background(), "p", "h")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API error (503)")
}

func TestNewHTTPScorer_RequiresURL(t *testing.T) {
	_, err := NewHTTPScorer(HTTPOptions{})
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    model.NLIScores
		wantErr bool
	}{
		{"flat", `{"entailment":0.5,"contradiction":0.3,"neutral":0.2}`, model.NLIScores{Entailment: 0.5, Contradiction: 0.3, Neutral: 0.2}, false},
		{"list", `[{"label":"entailment","score":0.6},{"label":"neutral","score":0.4}]`, model.NLIScores{Entailment: 0.6, Neutral: 0.4}, false},
		{"nested", `[[{"label":"contradiction","score":1}]]`, model.NLIScores{Contradiction: 1}, false},
		{"aliases", `{"supports":0.8,"refutes":0.1,"nei":0.1}`, model.NLIScores{Entailment: 0.8, Contradiction: 0.1, Neutral: 0.1}, false},
		{"no labels", `{"foo":1}`, model.NLIScores{}, true},
		{"negative", `{"entailment":-0.1,"neutral":1}`, model.NLIScores{}, true},
		{"garbage", `not json`, model.NLIScores{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" HF ")
	require.NoError(t, err)
	assert.Equal(t, KindHF, k)

	_, err = ParseKind("bert")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestCached_ReadThrough(t *testing.T) {
	var calls atomic.Int32
	inner := ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		calls.Add(1)
		return model.NLIScores{Entailment: 1}, nil
	})

	s := Cached(inner, cache.NewMemoryCache(time.Minute, time.Minute), "test")
	for i := 0; i < 3; i++ {
		got, err := s.Score(context.Background(), "p", "h")
		require.NoError(t, err)
		assert.Equal(t, 1.0, got.Entailment)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, err := s.Score(context.Background(), "p2", "h")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCached_FailuresNotCached(t *testing.T) {
	var calls atomic.Int32
	inner := ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		if calls.Add(1) == 1 {
			return model.NLIScores{}, errors.New("transient")
		}
		return model.NLIScores{Neutral: 1}, nil
	})

	s := Cached(inner, cache.NewMemoryCache(time.Minute, time.Minute), "test")
	_, err := s.Score(context.Background(), "p", "h")
	require.Error(t, err)

	got, err := s.Score(context.Background(), "p", "h")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Neutral)
}

func TestCached_NilCachePassesThrough(t *testing.T) {
	inner := ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		return model.NLIScores{}, nil
	})
	assert.NotNil(t, Cached(inner, nil, "x"))
}

func TestGuarded_Timeout(t *testing.T) {
	slow := ScorerFunc(func(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
		<-ctx.Done()
		return model.NLIScores{}, ctx.Err()
	})

	s := Guarded(slow, "nli", worker.Guard{Timeout: 10 * time.Millisecond})
	_, err := s.Score(context.Background(), "p", "h")

	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.ErrorIs(t, err, model.ErrExternalProvider)
	var pe *model.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "nli", pe.Provider)
	assert.Equal(t, "score", pe.Op)
}

type fakeProvider struct {
	text string
	last llm.Request
}

func (f *fakeProvider) Name() string                       { return "fake" }
func (f *fakeProvider) IsAvailable(_ context.Context) bool { return true }
func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.last = req
	return &llm.Response{Text: f.text}, nil
}

func TestLLMScorer(t *testing.T) {
	p := &fakeProvider{text: "```json\n{\"entailment\": 2, \"contradiction\": 1, \"neutral\": 1}\n```"}
	s, err := NewLLMScorer(p, "judge")
	require.NoError(t, err)

	scores, err := s.Score(context.Background(), "premise", "claim")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, scores.Entailment, 1e-9)
	assert.InDelta(t, 0.25, scores.Contradiction, 1e-9)
	assert.InDelta(t, 0.25, scores.Neutral, 1e-9)

	assert.Equal(t, "judge", p.last.Model)
	assert.True(t, p.last.JSON)
	require.NotNil(t, p.last.Temperature)
	assert.Equal(t, 0.0, *p.last.Temperature)
	assert.Contains(t, p.last.Prompt, "PREMISE: premise")
}

func TestLLMScorer_BadOutput(t *testing.T) {
	s, err := NewLLMScorer(&fakeProvider{text: "I think it entails."}, "")
	require.NoError(t, err)

	_, err = s.Score(context.Background(), "p", "h")
	assert.Error(t, err)

	_, err = NewLLMScorer(nil, "")
	assert.ErrorIs(t, err, model.ErrConfiguration)
}

func TestFromConfig(t *testing.T) {
	v := model.DefaultConfig().Verification
	s, scope, err := FromConfig(v, model.ProviderConfig{}, nil)
	require.NoError(t, err)
	assert.IsType(t, &HTTPScorer{}, s)
	assert.Contains(t, scope, v.ScorerURL)

	v.Scorer = KindLLM
	_, _, err = FromConfig(v, model.ProviderConfig{}, nil)
	assert.ErrorIs(t, err, model.ErrConfiguration)

	s, _, err = FromConfig(v, model.ProviderConfig{}, &fakeProvider{})
	require.NoError(t, err)
	assert.IsType(t, &LLMScorer{}, s)
}
