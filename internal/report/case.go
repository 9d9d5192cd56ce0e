package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

const (
	caseDetails     = 3
	caseTextLimit   = 400
	caseGenerations = 2
	caseGenLimit    = 300
)

// CaseStudy prints one query for qualitative inspection: the votes, the
// first few scored evidence units and the first generations
func CaseStudy(w io.Writer, res model.QueryResult) error {
	var b strings.Builder
	ver := res.Verification

	b.WriteString(strings.Repeat("=", 80) + "\n")
	b.WriteString("QUERY:\n" + res.Claim + "\n")
	b.WriteString(strings.Repeat("-", 80) + "\n")
	fmt.Fprintf(&b, "VERIFICATION VOTES: entail=%d contradict=%d neutral=%d\n", ver.Votes.Entail, ver.Votes.Contradict, ver.Votes.Neutral)
	fmt.Fprintf(&b, "CONFLICT: %t\n", ver.Conflict)
	fmt.Fprintf(&b, "LABEL: %s\n\n", res.Label)

	b.WriteString("TOP EVIDENCE(S):\n")
	for _, d := range ver.Details[:min(caseDetails, len(ver.Details))] {
		b.WriteString(strings.Repeat("-", 40) + "\n")
		fmt.Fprintf(&b, "MODE: %s\n", d.Mode)
		fmt.Fprintf(&b, "VOTE: %s\n", d.Vote)
		if d.Title != "" {
			fmt.Fprintf(&b, "TITLE: %s\n", d.Title)
		}
		if d.IsPoison {
			b.WriteString("POISONED: true\n")
		}
		fmt.Fprintf(&b, "TEXT: %s\n", truncate(d.Text, caseTextLimit))
	}

	if len(res.Generations) > 0 {
		fmt.Fprintf(&b, "\nGENERATED ANSWERS (first %d):\n", caseGenerations)
		for _, g := range res.Generations[:min(caseGenerations, len(res.Generations))] {
			fmt.Fprintf(&b, "- %s\n", truncate(strings.TrimSpace(g), caseGenLimit))
		}
	}
	b.WriteString(strings.Repeat("=", 80) + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
