package model

// FeverExample is one claim from the FEVER dataset
type FeverExample struct {
	ID       int64     `json:"id"`
	Claim    string    `json:"claim"`
	Label    Label     `json:"label"`
	Evidence [][][]any `json:"evidence,omitempty"` // [set][item][ann_id, ev_id, wiki_title, sent_id]
}

// SupportingFact points at one gold sentence of a HotpotQA example
type SupportingFact struct {
	Title    string `json:"title"`
	Sentence int    `json:"sentence"` // -1 when the index was not numeric
}

// ContextParagraph is one titled paragraph shipped with a HotpotQA example
type ContextParagraph struct {
	Title     string   `json:"title"`
	Sentences []string `json:"sentences"`
}

// HotpotExample is one multi-hop question from the HotpotQA dataset
type HotpotExample struct {
	ID              string             `json:"id"`
	Question        string             `json:"question"`
	Answer          string             `json:"answer"`
	Type            string             `json:"type,omitempty"`
	SupportingFacts []SupportingFact   `json:"supporting_facts,omitempty"`
	Context         []ContextParagraph `json:"context,omitempty"`
}

// Query is the dataset-agnostic unit the batch runners evaluate
type Query struct {
	ID   string
	Text string // claim or question
	Gold string // gold label or answer
}

// BatchRow is the per-example evaluation record. Optional metrics are nil
// when not computed; Err is set when the example failed.
type BatchRow struct {
	ID              string   `json:"id"`
	Pred            string   `json:"pred"`
	Gold            string   `json:"gold"`
	Acc             *float64 `json:"acc,omitempty"`
	Hallucination   *float64 `json:"hallucination,omitempty"`
	SelfConsistency *float64 `json:"self_consistency,omitempty"`
	Err             string   `json:"error,omitempty"`
	Skipped         bool     `json:"skipped,omitempty"` // never evaluated; Err holds the cause
}

// Failed reports whether the example could not be evaluated
func (r BatchRow) Failed() bool {
	return r.Err != ""
}

// Float returns a pointer to v, for optional metric fields
func Float(v float64) *float64 {
	return &v
}

// QueryResult is the output of running one claim through the pipeline
type QueryResult struct {
	Claim        string             `json:"claim"`
	Retrieved    []Passage          `json:"retrieved"`    // Fused passages before poisoning
	Poisoned     []Passage          `json:"poisoned"`     // Passages after poisoning
	Verified     []Passage          `json:"verified"`     // Top-N passages fed to the verifier
	Verification VerificationResult `json:"verification"`
	Label        Label              `json:"label"`
	Generations  []string           `json:"generations"`
}

// InjectedCount returns how many poisoned passages reached the query
func (r QueryResult) InjectedCount() int {
	n := 0
	for _, p := range r.Poisoned {
		if p.IsPoison {
			n++
		}
	}
	return n
}
