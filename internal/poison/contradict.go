package poison

import (
	"regexp"
	"strings"
)

var negation = regexp.MustCompile(`(?i) not `)

// Contradict produces a naive contradiction of text. An explicit " not " is
// removed when present; otherwise a generic negation is prefixed.
func Contradict(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return "This statement is false."
	}
	if negation.MatchString(t) {
		return negation.ReplaceAllString(t, " ")
	}
	return "It is not true that: " + t
}
