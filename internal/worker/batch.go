package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/ragtrust/internal/model"
)

// Evaluator evaluates a single query into a batch row
type Evaluator interface {
	Evaluate(ctx context.Context, q model.Query) (model.BatchRow, error)
}

// EvaluatorFunc adapts a function to Evaluator
type EvaluatorFunc func(ctx context.Context, q model.Query) (model.BatchRow, error)

// Evaluate calls f
func (f EvaluatorFunc) Evaluate(ctx context.Context, q model.Query) (model.BatchRow, error) {
	return f(ctx, q)
}

// QueryJob represents one query evaluation
type QueryJob struct {
	Index     int
	Query     model.Query
	Evaluator Evaluator
}

// Execute evaluates the query. A failure is recorded on the row instead of
// aborting the batch.
func (j *QueryJob) Execute(ctx context.Context) Result {
	row, err := j.Evaluator.Evaluate(ctx, j.Query)
	if err != nil {
		return &QueryResult{
			Index: j.Index,
			Query: j.Query,
			Row:   model.BatchRow{ID: j.Query.ID, Gold: j.Query.Gold, Err: err.Error()},
			Error: err,
		}
	}
	return &QueryResult{Index: j.Index, Query: j.Query, Row: row}
}

// QueryResult represents the result of a query job
type QueryResult struct {
	Index int
	Query model.Query
	Row   model.BatchRow
	Error error
}

// GetError returns the error from the query result
func (r *QueryResult) GetError() error {
	return r.Error
}

// BatchProcessor evaluates many queries concurrently
type BatchProcessor struct {
	evaluator   Evaluator
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(evaluator Evaluator, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		evaluator:   evaluator,
		concurrency: concurrency,
	}
}

// ProcessQueries evaluates the queries and returns one result per query, in
// input order. Queries left unrun when ctx ends come back as skipped failures.
func (b *BatchProcessor) ProcessQueries(ctx context.Context, queries []model.Query) []*QueryResult {
	if len(queries) == 0 {
		return []*QueryResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, q := range queries {
		pool.Submit(&QueryJob{Index: i, Query: q, Evaluator: b.evaluator})
	}

	results := pool.Wait()

	out := make([]*QueryResult, len(queries))
	for _, result := range results {
		r := result.(*QueryResult)
		out[r.Index] = r
	}
	for i, r := range out {
		if r == nil {
			out[i] = skippedResult(ctx, i, queries[i])
		}
	}

	return out
}

// skippedResult records a query the pool never ran
func skippedResult(ctx context.Context, index int, q model.Query) *QueryResult {
	cause := ctx.Err()
	if cause == nil {
		cause = errors.New("not executed")
	}
	err := fmt.Errorf("skipped: %w", cause)
	return &QueryResult{
		Index: index,
		Query: q,
		Row:   model.BatchRow{ID: q.ID, Gold: q.Gold, Err: err.Error(), Skipped: true},
		Error: err,
	}
}

// ProcessFile reads queries from a file and evaluates them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*QueryResult, error) {
	queries, err := ReadQueriesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read queries: %w", err)
	}

	return b.ProcessQueries(ctx, queries), nil
}

// Rows extracts the batch rows from results
func Rows(results []*QueryResult) []model.BatchRow {
	rows := make([]model.BatchRow, len(results))
	for i, r := range results {
		rows[i] = r.Row
	}
	return rows
}

// ReadQueriesFromFile reads one claim per line. A line may carry a gold
// label after a tab ("claim<TAB>SUPPORTS"). Blank lines and # comments are
// skipped, duplicate claims are dropped.
func ReadQueriesFromFile(filePath string) ([]model.Query, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var queries []model.Query
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		text, gold, _ := strings.Cut(line, "\t")
		text = strings.TrimSpace(text)
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true

		queries = append(queries, model.Query{
			ID:   fmt.Sprintf("line-%d", lineNo),
			Text: text,
			Gold: strings.TrimSpace(gold),
		})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return queries, nil
}
