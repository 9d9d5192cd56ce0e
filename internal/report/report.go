// Package report renders evaluation results for files and the terminal
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/ragtrust/internal/ablation"
	"github.com/ppiankov/ragtrust/internal/eval"
	"github.com/ppiankov/ragtrust/internal/metrics"
	"github.com/ppiankov/ragtrust/internal/model"
	"github.com/ppiankov/ragtrust/internal/store"
)

// Format is an output encoding
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "md"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	}
	return "", &model.ConfigError{Field: "format", Reason: fmt.Sprintf("unknown format %q (supported: json, yaml, md)", s)}
}

// WriteJSON writes v as indented JSON
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteYAML writes v as YAML
func WriteYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Renderer writes report files into one directory
type Renderer struct {
	dir string
}

// NewRenderer creates a renderer for dir
func NewRenderer(dir string) *Renderer {
	return &Renderer{dir: dir}
}

// Write renders v to <dir>/<name>.<format> and returns the path. Markdown
// needs an eval.Result or ablation.Results.
func (r *Renderer) Write(name string, format Format, v any) (path string, err error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path = filepath.Join(r.dir, SanitizeFilename(name)+"."+string(format))

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close report: %w", closeErr)
		}
	}()

	switch format {
	case FormatJSON:
		err = WriteJSON(f, v)
	case FormatYAML:
		err = WriteYAML(f, v)
	case FormatMarkdown:
		switch res := v.(type) {
		case eval.Result:
			err = Markdown(f, res)
		case ablation.Results:
			err = AblationMarkdown(f, res)
		default:
			err = fmt.Errorf("no markdown rendering for %T", v)
		}
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	if err != nil {
		return "", fmt.Errorf("render %s: %w", format, err)
	}
	return path, nil
}

// Markdown renders a batch result: summary metrics followed by every row
func Markdown(w io.Writer, res eval.Result) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s evaluation\n\n", res.Task)
	fmt.Fprintf(&b, "Examples: %d (succeeded %d, failed %d, skipped %d)\n\n", res.Summary.Total, res.Summary.Succeeded, res.Summary.Failed, res.Summary.Skipped)

	b.WriteString("| metric | value |\n|---|---|\n")
	for _, name := range metrics.Names() {
		if v, ok := res.Summary.Get(name); ok {
			fmt.Fprintf(&b, "| %s | %.4f |\n", name, v)
		}
	}

	b.WriteString("\n## Rows\n\n| id | pred | gold | acc | hallucination | self_consistency | error |\n|---|---|---|---|---|---|---|\n")
	for _, r := range res.Rows {
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s |\n",
			escape(r.ID), escape(r.Pred), escape(r.Gold),
			formatOptional(r.Acc), formatOptional(r.Hallucination), formatOptional(r.SelfConsistency), escape(r.Err))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// AblationMarkdown renders the per-rule comparison table
func AblationMarkdown(w io.Writer, res ablation.Results) error {
	rows := res.Table()
	var b strings.Builder
	b.WriteString("# Decision rule ablation\n\n")
	for i, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
		if i == 0 {
			b.WriteString(strings.Repeat("|---", len(row)) + "|\n")
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func styled(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

// SummaryTable renders one line per batch result for the terminal
func SummaryTable(results ...eval.Result) string {
	headers := append([]string{"task"}, metrics.Names()...)
	headers = append(headers, "failed")

	rows := make([][]string, 0, len(results))
	for _, res := range results {
		row := []string{string(res.Task)}
		for _, name := range metrics.Names() {
			if v, ok := res.Summary.Get(name); ok {
				row = append(row, strconv.FormatFloat(v, 'f', 4, 64))
			} else {
				row = append(row, "-")
			}
		}
		row = append(row, fmt.Sprintf("%d/%d", res.Summary.Failed, res.Summary.Total))
		rows = append(rows, row)
	}
	return styled(headers, rows)
}

// AblationTable renders ablation results for the terminal
func AblationTable(res ablation.Results) string {
	rows := res.Table()
	return styled(rows[0], rows[1:])
}

// RunsTable renders stored runs in the order given
func RunsTable(runs []store.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			r.CreatedAt.Local().Format("2006-01-02 15:04"),
			r.Task,
			r.Name,
			MetricsLine(r.Summary.Metrics),
			fmt.Sprintf("%d/%d", r.Summary.Failed, r.Summary.Total),
		})
	}
	return styled([]string{"id", "created", "task", "name", "metrics", "failed"}, rows)
}

// MetricsLine formats a metrics map as "k=v" pairs in sorted order
func MetricsLine(m map[string]float64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4f", k, m[k])
	}
	return strings.Join(parts, " ")
}

// SanitizeFilename makes s safe to use as a file name
func SanitizeFilename(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		case ' ':
			return '-'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" {
		s = "report"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func escape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}
