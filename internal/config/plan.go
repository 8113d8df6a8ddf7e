package config

import (
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Plan narrows a run to a subset of collections and names the tables whose failure aborts it.
//
//	only: [orders, users]
//	skip: [audit]
//	required: [orders, orders__items]
type Plan struct {
	// Only lists the top-level collections to migrate. Empty means all.
	Only []string `yaml:"only" validate:"dive,required"`

	// Skip lists top-level collections to leave out. It wins over Only.
	Skip []string `yaml:"skip" validate:"dive,required"`

	// Required lists tables whose provisioning failure aborts the run.
	Required []string `yaml:"required" validate:"dive,required"`
}

// LoadPlan reads a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan parses YAML plan data.
func ParsePlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return &p, nil
}

// Include reports whether the top-level collection name is part of the run.
func (p Plan) Include(name string) bool {
	if slices.Contains(p.Skip, name) {
		return false
	}
	return len(p.Only) == 0 || slices.Contains(p.Only, name)
}

// IsRequired reports whether table is listed as required.
func (p Plan) IsRequired(table string) bool {
	return slices.Contains(p.Required, table)
}

// Merge returns a plan with the entries of other appended.
func (p Plan) Merge(other Plan) Plan {
	return Plan{
		Only:     appendUnique(p.Only, other.Only),
		Skip:     appendUnique(p.Skip, other.Skip),
		Required: appendUnique(p.Required, other.Required),
	}
}

func appendUnique(dst, src []string) []string {
	out := slices.Clone(dst)
	for _, s := range src {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}
