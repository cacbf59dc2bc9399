package plan

import (
	"fmt"
)

var validCategories = map[string]struct{}{
	CategoryScaffold: {},
	CategoryLogic:    {},
	CategoryWiring:   {},
	CategoryTest:     {},
	CategoryDocs:     {},
}

// Validate validates and normalizes a plan, collecting every problem
// rather than stopping at the first.
func Validate(p *Plan) (*Plan, error) {
	if p == nil {
		list := &ErrorList{}
		list.Add(PlanError{Code: ErrCodeMissingField, Message: "plan is required"})
		return nil, list
	}

	Normalize(p)
	path := p.Source
	list := &ErrorList{}

	if p.Project == "" {
		list.Add(PlanError{
			Code:    ErrCodeMissingField,
			Message: "project is required",
			Path:    path,
			Field:   "project",
		})
	}

	if p.Prompt == "" {
		list.Add(PlanError{
			Code:    ErrCodeMissingField,
			Message: "prompt is required",
			Path:    path,
			Field:   "prompt",
		})
	}

	if len(p.Steps) == 0 {
		list.Add(PlanError{
			Code:    ErrCodeMissingField,
			Message: "steps are required",
			Path:    path,
			Field:   "steps",
		})
	}

	stepIndex := make(map[string]int)
	for i := range p.Steps {
		step := &p.Steps[i]
		index := i + 1

		if step.ID == "" {
			list.Add(PlanError{
				Code:    ErrCodeMissingField,
				Message: "step id is required",
				Path:    path,
				Field:   "steps.id",
				Index:   index,
			})
		} else if prev, exists := stepIndex[step.ID]; exists {
			list.Add(PlanError{
				Code:    ErrCodeDuplicateStep,
				Message: fmt.Sprintf("duplicate step id %q (also in step %d)", step.ID, prev),
				Path:    path,
				StepID:  step.ID,
				Field:   "steps.id",
				Index:   index,
			})
		} else {
			stepIndex[step.ID] = index
		}

		if step.Description == "" {
			list.Add(PlanError{
				Code:    ErrCodeMissingField,
				Message: "step description is required",
				Path:    path,
				StepID:  step.ID,
				Field:   "steps.description",
				Index:   index,
			})
		}

		if step.Category != "" {
			if _, ok := validCategories[step.Category]; !ok {
				list.Add(PlanError{
					Code:    ErrCodeUnknownCategory,
					Message: fmt.Sprintf("unknown category %q", step.Category),
					Path:    path,
					StepID:  step.ID,
					Field:   "steps.category",
					Index:   index,
				})
			}
		}
	}

	if list.Empty() {
		return p, nil
	}
	return p, list
}
