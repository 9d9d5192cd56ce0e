package ablation

import (
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"github.com/pelletier/go-toml/v2"

	"github.com/ppiankov/ragtrust/internal/model"
)

// DefaultRules returns the built-in threshold variants
func DefaultRules() []model.AblationVariant {
	return []model.AblationVariant{
		{Name: "strict", EntailmentThreshold: 0.40, ContradictionThreshold: 0.40},
		{Name: "balanced", EntailmentThreshold: 0.30, ContradictionThreshold: 0.30},
		{Name: "conservative", EntailmentThreshold: 0.40, ContradictionThreshold: 0.45},
	}
}

type rulesFile struct {
	Rules map[string]model.AblationVariant `toml:"rules"`
}

// LoadRules reads variants from a TOML file of [rules.<name>] tables
func LoadRules(path string) ([]model.AblationVariant, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file '%s': %w", path, err)
	}
	return ParseRules(data)
}

// ParseRules decodes [rules.<name>] tables. Each table must set both
// thresholds within [0,1].
func ParseRules(data []byte) ([]model.AblationVariant, error) {
	var f rulesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, &model.ConfigError{Field: "ablation.rules_file", Reason: fmt.Sprintf("parse TOML: %v", err)}
	}
	if len(f.Rules) == 0 {
		return nil, &model.ConfigError{Field: "ablation.rules_file", Reason: "no [rules.<name>] tables"}
	}

	// detect tables that omit a threshold
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, &model.ConfigError{Field: "ablation.rules_file", Reason: fmt.Sprintf("parse TOML: %v", err)}
	}
	tables, _ := raw["rules"].(map[string]any)

	rules := make([]model.AblationVariant, 0, len(f.Rules))
	for name, v := range f.Rules {
		table, _ := tables[name].(map[string]any)
		for _, key := range []string{"entailment_threshold", "contradiction_threshold"} {
			if _, ok := table[key]; !ok {
				return nil, &model.ConfigError{Field: "rules." + name, Reason: "missing " + key}
			}
		}
		v.Name = name
		if err := validateVariant(v); err != nil {
			return nil, err
		}
		rules = append(rules, v)
	}
	sortByName(rules)
	return rules, nil
}

// EncodeRules writes variants as [rules.<name>] tables
func EncodeRules(w io.Writer, rules []model.AblationVariant) error {
	f := rulesFile{Rules: make(map[string]model.AblationVariant, len(rules))}
	for _, r := range rules {
		f.Rules[r.Name] = r
	}
	return toml.NewEncoder(w).Encode(f)
}

func validateVariant(v model.AblationVariant) error {
	if v.Name == "" {
		return &model.ConfigError{Field: "rules", Reason: "variant without a name"}
	}
	check := func(field string, x float64) error {
		if math.IsNaN(x) || x < 0 || x > 1 {
			return &model.ConfigError{Field: "rules." + v.Name + "." + field, Reason: fmt.Sprintf("%v outside [0,1]", x)}
		}
		return nil
	}
	if err := check("entailment_threshold", v.EntailmentThreshold); err != nil {
		return err
	}
	return check("contradiction_threshold", v.ContradictionThreshold)
}

func sortByName(rules []model.AblationVariant) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].Name < rules[j].Name })
}
