package dataset

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

// rawHotpot mirrors one HotpotQA record. context and supporting_facts are
// positional pairs: [title, [sentences]] and [title, sentence_index].
type rawHotpot struct {
	UID             string            `json:"_id"`
	ID              json.RawMessage   `json:"id"`
	Question        string            `json:"question"`
	Answer          string            `json:"answer"`
	Type            string            `json:"type"`
	SupportingFacts []json.RawMessage `json:"supporting_facts"`
	Context         []json.RawMessage `json:"context"`
}

// LoadHotpot reads up to maxExamples questions from a HotpotQA file. Both
// a JSON array and JSON lines are accepted; a .jsonl extension or a first
// line holding a complete object followed by more lines selects JSON lines.
// maxExamples <= 0 reads everything.
func LoadHotpot(path string, maxExamples int) ([]model.HotpotExample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open hotpot file: %w", err)
	}

	var raws []rawHotpot
	if isJSONLines(path, data) {
		err = eachLine(bytes.NewReader(data), func(n int, line []byte) error {
			var r rawHotpot
			if err := json.Unmarshal(line, &r); err != nil {
				return &model.DataError{Reason: fmt.Sprintf("%s:%d: %v", path, n, err)}
			}
			raws = append(raws, r)
			if maxExamples > 0 && len(raws) >= maxExamples {
				return errStop
			}
			return nil
		})
		if err != nil && !errors.Is(err, errStop) {
			return nil, err
		}
	} else {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, &model.DataError{Reason: fmt.Sprintf("%s: %v", path, err)}
		}
		if maxExamples > 0 && len(raws) > maxExamples {
			raws = raws[:maxExamples]
		}
	}

	out := make([]model.HotpotExample, 0, len(raws))
	for i, r := range raws {
		ex, err := r.toExample()
		if err != nil {
			return nil, &model.DataError{Reason: fmt.Sprintf("%s: example %d: %v", path, i, err)}
		}
		out = append(out, ex)
	}
	return out, nil
}

func isJSONLines(path string, data []byte) bool {
	if strings.HasSuffix(strings.ToLower(path), ".jsonl") {
		return true
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	var first, second string
	if sc.Scan() {
		first = strings.TrimSpace(sc.Text())
	}
	if sc.Scan() {
		second = strings.TrimSpace(sc.Text())
	}
	return strings.HasPrefix(first, "{") && strings.HasSuffix(first, "}") && second != ""
}

func (r rawHotpot) toExample() (model.HotpotExample, error) {
	ex := model.HotpotExample{
		ID:       r.UID,
		Question: r.Question,
		Answer:   r.Answer,
		Type:     r.Type,
	}
	if ex.ID == "" && len(r.ID) > 0 {
		ex.ID = strings.Trim(string(r.ID), `"`)
	}

	for _, c := range r.Context {
		var pair []json.RawMessage
		if err := json.Unmarshal(c, &pair); err != nil || len(pair) < 2 {
			return ex, fmt.Errorf("context entry %s is not a [title, sentences] pair", c)
		}
		var title string
		var sents []string
		if err := json.Unmarshal(pair[0], &title); err != nil {
			return ex, fmt.Errorf("context title: %w", err)
		}
		if err := json.Unmarshal(pair[1], &sents); err != nil {
			return ex, fmt.Errorf("context sentences: %w", err)
		}
		ex.Context = append(ex.Context, model.ContextParagraph{Title: NormTitle(title), Sentences: sents})
	}

	for _, sf := range r.SupportingFacts {
		var pair []json.RawMessage
		if err := json.Unmarshal(sf, &pair); err != nil || len(pair) < 2 {
			return ex, fmt.Errorf("supporting fact %s is not a [title, index] pair", sf)
		}
		var title string
		if err := json.Unmarshal(pair[0], &title); err != nil {
			return ex, fmt.Errorf("supporting fact title: %w", err)
		}
		ex.SupportingFacts = append(ex.SupportingFacts, model.SupportingFact{
			Title:    NormTitle(title),
			Sentence: sentenceIndex(pair[1]),
		})
	}
	return ex, nil
}

// sentenceIndex parses a non-negative integer index; anything else is -1
func sentenceIndex(raw json.RawMessage) int {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" {
		return -1
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return i
}

// BuildHotpotCorpus flattens every example's context paragraphs into one
// passage per sentence, identified as "<title>__<index>"
func BuildHotpotCorpus(examples []model.HotpotExample) []model.Passage {
	var corpus []model.Passage
	for _, ex := range examples {
		for _, para := range ex.Context {
			for i, sent := range para.Sentences {
				corpus = append(corpus, model.Passage{
					DocID:  fmt.Sprintf("%s__%d", para.Title, i),
					Title:  para.Title,
					SentID: strconv.Itoa(i),
					Text:   sent,
					Source: model.SourceCorpus,
				})
			}
		}
	}
	return corpus
}
