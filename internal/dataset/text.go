// Package dataset loads FEVER and HotpotQA examples and builds the
// sentence-level passage corpora retrieval runs over.
package dataset

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"
)

var (
	sentenceEnd = regexp.MustCompile(`[.!?]\s+`)
	otherSpace  = regexp.MustCompile(`\s+`)
)

// NormTitle normalizes a page title the way FEVER evidence refers to it:
// trimmed, every space replaced by an underscore, and any remaining run
// of whitespace (tabs, newlines) collapsed into one underscore.
func NormTitle(t string) string {
	t = strings.TrimSpace(t)
	t = strings.ReplaceAll(t, " ", "_")
	return otherSpace.ReplaceAllString(t, "_")
}

// SplitSentences splits text after sentence-ending punctuation followed by
// whitespace. Empty pieces are dropped.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		// Split after the punctuation mark, drop the whitespace
		if s := strings.TrimSpace(text[start : loc[0]+1]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// maxLineBytes bounds one JSONL record; wiki-pages lines can be large
const maxLineBytes = 64 << 20

// eachLine calls fn for every non-blank line with its 1-based number
func eachLine(r io.Reader, fn func(n int, line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		if err := fn(n, line); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read line %d: %w", n+1, err)
	}
	return nil
}
