package model

import (
	"fmt"
	"time"
)

// Config is the fully resolved run configuration. It is a plain value:
// copying it copies every section, and the With* helpers return modified
// copies instead of editing in place.
type Config struct {
	Seed         uint64             `yaml:"seed" mapstructure:"seed"`
	Data         DataConfig         `yaml:"data" mapstructure:"data"`
	Retrieval    RetrievalConfig    `yaml:"retrieval" mapstructure:"retrieval"`
	Poisoning    PoisonConfig       `yaml:"poisoning" mapstructure:"poisoning"`
	Verification VerificationConfig `yaml:"verification" mapstructure:"verification"`
	Decision     DecisionConfig     `yaml:"decision" mapstructure:"decision"`
	Generation   GenerationConfig   `yaml:"generation" mapstructure:"generation"`
	Evaluation   EvalConfig         `yaml:"evaluation" mapstructure:"evaluation"`
	Ablation     AblationConfig     `yaml:"ablation" mapstructure:"ablation"`
	Providers    ProviderConfig     `yaml:"providers" mapstructure:"providers"`
	Cache        CacheConfig        `yaml:"cache" mapstructure:"cache"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Output       OutputConfig       `yaml:"output" mapstructure:"output"`
}

// DataConfig points at the datasets to evaluate
type DataConfig struct {
	Fever              FeverConfig  `yaml:"fever" mapstructure:"fever"`
	HotpotQA           HotpotConfig `yaml:"hotpotqa" mapstructure:"hotpotqa"`
	MaxCorpusSentences int          `yaml:"max_corpus_sentences" mapstructure:"max_corpus_sentences"`
}

// FeverConfig locates FEVER claims and the wiki-pages dump
type FeverConfig struct {
	Enabled      bool   `yaml:"enabled" mapstructure:"enabled"`
	TrainJSONL   string `yaml:"train_jsonl" mapstructure:"train_jsonl"`
	WikiPagesDir string `yaml:"wiki_pages_dir" mapstructure:"wiki_pages_dir"`
	MaxExamples  int    `yaml:"max_examples" mapstructure:"max_examples"`
}

// HotpotConfig locates HotpotQA questions
type HotpotConfig struct {
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
	TrainJSON   string `yaml:"train_json" mapstructure:"train_json"`
	MaxExamples int    `yaml:"max_examples" mapstructure:"max_examples"`
}

// RetrievalConfig configures the retrieval sources and fusion limit
type RetrievalConfig struct {
	K                 int    `yaml:"k" mapstructure:"k"`
	UseLexical        bool   `yaml:"use_lexical" mapstructure:"use_lexical"`
	UseDense          bool   `yaml:"use_dense" mapstructure:"use_dense"`
	LexicalTokenizer  string `yaml:"lexical_tokenizer" mapstructure:"lexical_tokenizer"`   // simple, whitespace
	DenseModel        string `yaml:"dense_model" mapstructure:"dense_model"`               // embedding model name
	EmbeddingProvider string `yaml:"embedding_provider" mapstructure:"embedding_provider"` // openai, ollama
}

// PoisonConfig configures adversarial corruption of evidence
type PoisonConfig struct {
	Enabled  bool    `yaml:"enabled" mapstructure:"enabled"`
	Rate     float64 `yaml:"rate" mapstructure:"rate"`
	Strategy string  `yaml:"strategy" mapstructure:"strategy"`
	Target   string  `yaml:"target" mapstructure:"target"` // retrieval_set, corpus
}

// Poisoning targets
const (
	TargetRetrievalSet = "retrieval_set"
	TargetCorpus       = "corpus"
)

// StrategyContradictoryPassage negates the text of selected passages
const StrategyContradictoryPassage = "contradictory_passage"

// EffectiveRate returns the rate actually applied (0 when disabled)
func (p PoisonConfig) EffectiveRate() float64 {
	if !p.Enabled {
		return 0
	}
	return p.Rate
}

// VerificationConfig configures the entailment scorer and vote thresholds
type VerificationConfig struct {
	Scorer                 string  `yaml:"scorer" mapstructure:"scorer"` // http, hf, llm
	ScorerURL              string  `yaml:"scorer_url" mapstructure:"scorer_url"`
	ScorerModel            string  `yaml:"scorer_model" mapstructure:"scorer_model"`
	EntailmentThreshold    float64 `yaml:"entailment_threshold" mapstructure:"entailment_threshold"`
	ContradictionThreshold float64 `yaml:"contradiction_threshold" mapstructure:"contradiction_threshold"`
	TopNVerify             int     `yaml:"top_n_verify" mapstructure:"top_n_verify"`
	TopNMulti              int     `yaml:"top_n_multi" mapstructure:"top_n_multi"`
	Workers                int     `yaml:"workers" mapstructure:"workers"`
	RequireEvidence        bool    `yaml:"require_evidence" mapstructure:"require_evidence"`
}

// DecisionConfig holds the raw decision parameters
type DecisionConfig struct {
	MinStrength float64 `yaml:"min_strength" mapstructure:"min_strength"`
	Margin      float64 `yaml:"margin" mapstructure:"margin"`
	ConflictNEI bool    `yaml:"conflict_nei" mapstructure:"conflict_nei"`
}

// Params validates the section into immutable DecisionParams
func (d DecisionConfig) Params() (DecisionParams, error) {
	return NewDecisionParams(d.MinStrength, d.Margin, d.ConflictNEI)
}

// GenerationConfig configures optional answer generation
type GenerationConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Provider    string  `yaml:"provider" mapstructure:"provider"` // openai, anthropic, google, ollama
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	NumSamples  int     `yaml:"num_samples" mapstructure:"num_samples"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
}

// EvalConfig configures batch evaluation
type EvalConfig struct {
	ComputeSelfConsistency bool `yaml:"compute_self_consistency" mapstructure:"compute_self_consistency"`
	Workers                int  `yaml:"workers" mapstructure:"workers"`
	RecallK                int  `yaml:"recall_k" mapstructure:"recall_k"`
}

// AblationConfig configures the threshold ablation
type AblationConfig struct {
	Subset    int    `yaml:"subset" mapstructure:"subset"`
	RulesFile string `yaml:"rules_file" mapstructure:"rules_file"`
}

// ProviderConfig configures access to external model services
type ProviderConfig struct {
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	APIKey            string        `yaml:"api_key,omitempty" mapstructure:"api_key"`
	BaseURL           string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	HTTPProxy         string        `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy        string        `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy           string        `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// CacheConfig configures score and embedding caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	DiskDir   string        `yaml:"disk_dir" mapstructure:"disk_dir"` // shared by every pipeline and run; empty keeps each pipeline's cache private
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// StoreConfig configures run persistence
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"` // sqlite file; empty disables
}

// OutputConfig configures reports
type OutputConfig struct {
	Dir     string `yaml:"dir" mapstructure:"dir"`
	Verbose bool   `yaml:"verbose" mapstructure:"verbose"`
}

// DefaultConfig returns the baseline configuration
func DefaultConfig() Config {
	return Config{
		Seed: 42,
		Data: DataConfig{
			Fever:              FeverConfig{Enabled: true, MaxExamples: 500},
			HotpotQA:           HotpotConfig{Enabled: true, MaxExamples: 500},
			MaxCorpusSentences: 200_000,
		},
		Retrieval: RetrievalConfig{
			K:                 10,
			UseLexical:        true,
			UseDense:          true,
			LexicalTokenizer:  "simple",
			DenseModel:        "text-embedding-3-small",
			EmbeddingProvider: "openai",
		},
		Poisoning: PoisonConfig{
			Enabled:  true,
			Rate:     0.2,
			Strategy: StrategyContradictoryPassage,
			Target:   TargetRetrievalSet,
		},
		Verification: VerificationConfig{
			Scorer:                 "http",
			ScorerURL:              "http://localhost:8080/nli",
			EntailmentThreshold:    0.55,
			ContradictionThreshold: 0.55,
			TopNVerify:             5,
			TopNMulti:              5,
			Workers:                4,
		},
		Decision: DecisionConfig{
			MinStrength: 0.3,
			Margin:      0.10,
			ConflictNEI: true,
		},
		Generation: GenerationConfig{
			Enabled:     false,
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   64,
			NumSamples:  5,
			Temperature: 0.8,
		},
		Evaluation: EvalConfig{
			ComputeSelfConsistency: true,
			Workers:                4,
			RecallK:                10,
		},
		Ablation: AblationConfig{
			Subset: 200,
		},
		Providers: ProviderConfig{
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: time.Hour,
			DiskTTL:   7 * 24 * time.Hour,
		},
		Output: OutputConfig{
			Dir: "./ragtrust-reports",
		},
	}
}

// Validate checks every range and enum eagerly
func (c Config) Validate() error {
	if c.Retrieval.K < 1 {
		return &ConfigError{Field: "retrieval.k", Reason: fmt.Sprintf("must be >= 1, got %d", c.Retrieval.K)}
	}
	if !c.Retrieval.UseLexical && !c.Retrieval.UseDense {
		return &ConfigError{Field: "retrieval", Reason: "at least one of use_lexical, use_dense must be enabled"}
	}
	switch c.Retrieval.LexicalTokenizer {
	case "", "simple", "whitespace":
	default:
		return &ConfigError{Field: "retrieval.lexical_tokenizer", Reason: fmt.Sprintf("unknown tokenizer %q", c.Retrieval.LexicalTokenizer)}
	}

	if !inUnit(c.Poisoning.Rate) {
		return &ConfigError{Field: "poisoning.rate", Reason: fmt.Sprintf("%v outside [0,1]", c.Poisoning.Rate)}
	}
	if c.Poisoning.Strategy != StrategyContradictoryPassage {
		return &ConfigError{Field: "poisoning.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Poisoning.Strategy)}
	}
	if c.Poisoning.Target != TargetRetrievalSet && c.Poisoning.Target != TargetCorpus {
		return &ConfigError{Field: "poisoning.target", Reason: fmt.Sprintf("unknown target %q (supported: %s, %s)", c.Poisoning.Target, TargetRetrievalSet, TargetCorpus)}
	}

	v := c.Verification
	switch v.Scorer {
	case "http", "hf":
		if v.ScorerURL == "" {
			return &ConfigError{Field: "verification.scorer_url", Reason: "required for scorer " + v.Scorer}
		}
	case "llm":
	default:
		return &ConfigError{Field: "verification.scorer", Reason: fmt.Sprintf("unknown scorer %q (supported: http, hf, llm)", v.Scorer)}
	}
	if !inUnit(v.EntailmentThreshold) {
		return &ConfigError{Field: "verification.entailment_threshold", Reason: fmt.Sprintf("%v outside [0,1]", v.EntailmentThreshold)}
	}
	if !inUnit(v.ContradictionThreshold) {
		return &ConfigError{Field: "verification.contradiction_threshold", Reason: fmt.Sprintf("%v outside [0,1]", v.ContradictionThreshold)}
	}
	if v.TopNVerify < 1 {
		return &ConfigError{Field: "verification.top_n_verify", Reason: fmt.Sprintf("must be >= 1, got %d", v.TopNVerify)}
	}
	if v.TopNMulti < 1 {
		return &ConfigError{Field: "verification.top_n_multi", Reason: fmt.Sprintf("must be >= 1, got %d", v.TopNMulti)}
	}

	if _, err := c.Decision.Params(); err != nil {
		return err
	}

	if c.Generation.Enabled && c.Generation.NumSamples < 1 {
		return &ConfigError{Field: "generation.num_samples", Reason: "must be >= 1 when generation is enabled"}
	}
	if c.Providers.RequestsPerSecond < 0 {
		return &ConfigError{Field: "providers.requests_per_second", Reason: "must not be negative"}
	}

	return nil
}

// WithVerificationThresholds returns a copy with new vote thresholds.
// Nothing else changes, decision parameters included.
func (c Config) WithVerificationThresholds(entailment, contradiction float64) Config {
	c.Verification.EntailmentThreshold = entailment
	c.Verification.ContradictionThreshold = contradiction
	return c
}

// WithPoisonRate returns a copy with a different poisoning rate
func (c Config) WithPoisonRate(rate float64) Config {
	c.Poisoning.Rate = rate
	return c
}

// WithDecision returns a copy with different decision parameters
func (c Config) WithDecision(d DecisionConfig) Config {
	c.Decision = d
	return c
}
