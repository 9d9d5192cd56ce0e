package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

// DefaultMaxSentences caps corpus size when no limit is configured
const DefaultMaxSentences = 200_000

// errStop ends a line walk early without reporting an error
var errStop = errors.New("stop")

// LoadFever reads up to maxExamples claims from a FEVER train.jsonl file.
// maxExamples <= 0 reads everything.
func LoadFever(path string, maxExamples int) ([]model.FeverExample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fever file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var out []model.FeverExample
	err = eachLine(f, func(n int, line []byte) error {
		var ex model.FeverExample
		if err := json.Unmarshal(line, &ex); err != nil {
			return &model.DataError{Reason: fmt.Sprintf("%s:%d: %v", path, n, err)}
		}
		out = append(out, ex)
		if maxExamples > 0 && len(out) >= maxExamples {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return nil, err
	}
	return out, nil
}

// GoldTitles collects the normalized page titles cited by a claim's evidence
func GoldTitles(ex model.FeverExample) map[string]struct{} {
	titles := make(map[string]struct{})
	for _, set := range ex.Evidence {
		for _, item := range set {
			if len(item) < 3 || item[2] == nil {
				continue
			}
			var title string
			switch v := item[2].(type) {
			case string:
				title = v
			default:
				title = fmt.Sprint(v)
			}
			if title == "" {
				continue
			}
			titles[NormTitle(title)] = struct{}{}
		}
	}
	return titles
}

// GoldTitleSet unions the gold titles of many claims
func GoldTitleSet(examples []model.FeverExample) map[string]struct{} {
	all := make(map[string]struct{})
	for _, ex := range examples {
		for t := range GoldTitles(ex) {
			all[t] = struct{}{}
		}
	}
	return all
}

// WikiPage is one record of the FEVER wiki-pages dump
type WikiPage struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Lines string `json:"lines"` // "sid\tsentence" rows separated by newlines
}

// BuildFeverCorpus turns the wiki-pages dump into one passage per sentence.
// Files are read in name order. When wanted is non-nil only those titles
// are kept. At most maxSentences passages are returned (<= 0 uses
// DefaultMaxSentences).
func BuildFeverCorpus(wikiDir string, wanted map[string]struct{}, maxSentences int) ([]model.Passage, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}

	files, err := filepath.Glob(filepath.Join(wikiDir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list wiki pages: %w", err)
	}
	sort.Strings(files)

	var corpus []model.Passage
	add := func(title, sid, text string) error {
		corpus = append(corpus, model.Passage{
			DocID:  title,
			Title:  title,
			SentID: sid,
			Text:   text,
			Source: model.SourceCorpus,
		})
		if len(corpus) >= maxSentences {
			return errStop
		}
		return nil
	}

	for _, file := range files {
		err := readWikiFile(file, func(page WikiPage) error {
			title := NormTitle(page.ID)
			if wanted != nil {
				if _, ok := wanted[title]; !ok {
					return nil
				}
			}
			return pageSentences(page, func(sid, text string) error {
				return add(title, sid, text)
			})
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return corpus, nil
}

func readWikiFile(path string, fn func(WikiPage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open wiki file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return eachLine(f, func(n int, line []byte) error {
		var page WikiPage
		if err := json.Unmarshal(line, &page); err != nil {
			return &model.DataError{Reason: fmt.Sprintf("%s:%d: %v", path, n, err)}
		}
		return fn(page)
	})
}

// pageSentences yields (sent_id, text) pairs. The tab-separated lines
// field wins when present; otherwise text is split into sentences.
func pageSentences(page WikiPage, fn func(sid, text string) error) error {
	if strings.TrimSpace(page.Lines) != "" {
		for _, row := range strings.Split(page.Lines, "\n") {
			row = strings.TrimSpace(row)
			if row == "" {
				continue
			}
			sid, sent := "0", row
			if before, after, ok := strings.Cut(row, "\t"); ok {
				sid, sent = before, after
			}
			if sent = strings.TrimSpace(sent); sent == "" {
				continue
			}
			if err := fn(sid, sent); err != nil {
				return err
			}
		}
		return nil
	}

	for i, sent := range SplitSentences(page.Text) {
		if err := fn(strconv.Itoa(i), sent); err != nil {
			return err
		}
	}
	return nil
}
