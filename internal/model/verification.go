package model

// Vote is the outcome of scoring one premise against the claim
type Vote string

const (
	VoteEntail     Vote = "entail"
	VoteContradict Vote = "contradict"
	VoteNeutral    Vote = "neutral"
)

// Votes counts votes per outcome
type Votes struct {
	Entail     int `json:"entail"`
	Contradict int `json:"contradict"`
	Neutral    int `json:"neutral"`
}

// Add records one vote
func (v *Votes) Add(vote Vote) {
	switch vote {
	case VoteEntail:
		v.Entail++
	case VoteContradict:
		v.Contradict++
	default:
		v.Neutral++
	}
}

// Total returns the number of recorded votes
func (v Votes) Total() int {
	return v.Entail + v.Contradict + v.Neutral
}

// NLIScores are the three relation probabilities from an entailment scorer
type NLIScores struct {
	Entailment    float64 `json:"entailment"`
	Contradiction float64 `json:"contradiction"`
	Neutral       float64 `json:"neutral"`
}

// VerifyMode selects how evidence is scored against a claim
type VerifyMode string

const (
	ModeSingle VerifyMode = "single" // One scoring call per passage
	ModeMulti  VerifyMode = "multi"  // Top passages concatenated, scored once
)

// Detail is the per-unit scoring record of a verification
type Detail struct {
	Mode     VerifyMode `json:"mode"`
	Title    string     `json:"title,omitempty"`
	SentID   string     `json:"sent_id,omitempty"`
	Text     string     `json:"text"`
	Scores   NLIScores  `json:"nli"`
	Vote     Vote       `json:"vote"`
	IsPoison bool       `json:"is_poison"`
}

// VerificationResult aggregates entailment signals for one claim.
//
// In single mode the strengths are fractions of passages; in multi mode a
// single observation is made and the strengths are exactly 0 or 1.
type VerificationResult struct {
	Mode                  VerifyMode `json:"mode"`
	Votes                 Votes      `json:"votes"`
	Conflict              bool       `json:"conflict"`
	SupportStrength       float64    `json:"support_strength"`
	ContradictionStrength float64    `json:"contradiction_strength"`
	Details               []Detail   `json:"details"`
}
