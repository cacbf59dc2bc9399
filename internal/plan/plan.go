// Package plan loads and validates build plan files: TOML documents
// describing the ordered steps of one project build.
package plan

import (
	"strings"

	"github.com/jberon/kiln/internal/models"
)

// Categories a plan step may declare. An empty category is legal; the
// pipeline carries it as free-form text either way.
const (
	CategoryScaffold = "scaffold"
	CategoryLogic    = "logic"
	CategoryWiring   = "wiring"
	CategoryTest     = "test"
	CategoryDocs     = "docs"
)

// Plan is the file model for one build.
type Plan struct {
	Project     string `toml:"project"`
	Prompt      string `toml:"prompt"`
	Description string `toml:"description"`
	Steps       []Step `toml:"steps"`
	Source      string `toml:"-"`
}

// Step is a single build step in a plan file.
type Step struct {
	ID          string `toml:"id"`
	Description string `toml:"description"`
	Category    string `toml:"category"`
}

// Specs converts the plan's steps into pipeline step specs, in order.
func (p *Plan) Specs() []models.StepSpec {
	specs := make([]models.StepSpec, 0, len(p.Steps))
	for _, s := range p.Steps {
		specs = append(specs, models.StepSpec{
			Description: s.Description,
			Category:    s.Category,
		})
	}
	return specs
}

// Normalize trims whitespace and lowercases step categories.
func Normalize(p *Plan) *Plan {
	if p == nil {
		return nil
	}

	p.Project = strings.TrimSpace(p.Project)
	p.Prompt = strings.TrimSpace(p.Prompt)
	p.Description = strings.TrimSpace(p.Description)

	for i := range p.Steps {
		step := &p.Steps[i]
		step.ID = strings.TrimSpace(step.ID)
		step.Description = strings.TrimSpace(step.Description)
		step.Category = strings.ToLower(strings.TrimSpace(step.Category))
	}

	return p
}
