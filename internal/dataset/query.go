package dataset

import (
	"strconv"

	"github.com/ppiankov/ragtrust/internal/model"
)

// FeverQueries converts claims into batch queries, gold = label
func FeverQueries(examples []model.FeverExample) []model.Query {
	out := make([]model.Query, len(examples))
	for i, ex := range examples {
		out[i] = model.Query{ID: strconv.FormatInt(ex.ID, 10), Text: ex.Claim, Gold: string(ex.Label)}
	}
	return out
}

// HotpotQueries converts questions into batch queries, gold = answer
func HotpotQueries(examples []model.HotpotExample) []model.Query {
	out := make([]model.Query, len(examples))
	for i, ex := range examples {
		out[i] = model.Query{ID: ex.ID, Text: ex.Question, Gold: ex.Answer}
	}
	return out
}
