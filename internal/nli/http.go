package nli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/util"
)

// HTTPOptions configures an HTTP entailment scorer
type HTTPOptions struct {
	URL        string
	Model      string // forwarded to plain endpoints, empty to omit
	APIKey     string // sent as a bearer token when set
	HF         bool   // use the Hugging Face inference request shape
	Timeout    time.Duration
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// HTTPScorer calls an NLI inference server over HTTP.
//
// Requests are {"premise","hypothesis"} or, in HF mode,
// {"inputs":{"text","text_pair"}}. Responses may be a flat object
// {"entailment":..,"contradiction":..,"neutral":..}, a list of
// {"label","score"} pairs, or that list nested once.
type HTTPScorer struct {
	opts       HTTPOptions
	httpClient *http.Client
}

type plainRequest struct {
	Premise    string `json:"premise"`
	Hypothesis string `json:"hypothesis"`
	Model      string `json:"model,omitempty"`
}

type hfInputs struct {
	Text     string `json:"text"`
	TextPair string `json:"text_pair"`
}

type hfRequest struct {
	Inputs hfInputs `json:"inputs"`
}

type labelScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NewHTTPScorer creates an HTTP scorer
func NewHTTPScorer(opts HTTPOptions) (*HTTPScorer, error) {
	if opts.URL == "" {
		return nil, &model.ConfigError{Field: "verification.scorer_url", Reason: "required for http scorers"}
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &HTTPScorer{
		opts: opts,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: util.NewProxyFunc(opts.HTTPProxy, opts.HTTPSProxy, opts.NoProxy),
			},
		},
	}, nil
}

// Score posts the pair and parses the returned probabilities
func (s *HTTPScorer) Score(ctx context.Context, premise, hypothesis string) (model.NLIScores, error) {
	var payload any = plainRequest{Premise: premise, Hypothesis: hypothesis, Model: s.opts.Model}
	if s.opts.HF {
		payload = hfRequest{Inputs: hfInputs{Text: premise, TextPair: hypothesis}}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return model.NLIScores{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.URL, bytes.NewReader(body))
	if err != nil {
		return model.NLIScores{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.APIKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return model.NLIScores{}, fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.NLIScores{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return model.NLIScores{}, fmt.Errorf("API error (%d): %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}

	scores, err := ParseResponse(respBody)
	if err != nil {
		return model.NLIScores{}, fmt.Errorf("parse response: %w", err)
	}
	return scores, nil
}

// ParseResponse decodes any of the supported response shapes
func ParseResponse(data []byte) (model.NLIScores, error) {
	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err == nil {
		return fromLabels(flat)
	}

	var list []labelScore
	if err := json.Unmarshal(data, &list); err == nil {
		return fromLabels(pairsToMap(list))
	}

	var nested [][]labelScore
	if err := json.Unmarshal(data, &nested); err == nil && len(nested) > 0 {
		return fromLabels(pairsToMap(nested[0]))
	}

	return model.NLIScores{}, fmt.Errorf("unrecognized response: %.200s", data)
}

func pairsToMap(list []labelScore) map[string]float64 {
	m := make(map[string]float64, len(list))
	for _, ls := range list {
		m[ls.Label] = ls.Score
	}
	return m
}
