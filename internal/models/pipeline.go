package models

import (
	"time"
)

// PipelineStatus is the lifecycle of a build pipeline as a whole.
type PipelineStatus string

const (
	PipelineIdle      PipelineStatus = "idle"
	PipelineRunning   PipelineStatus = "running"
	PipelineCompleted PipelineStatus = "completed"
	PipelineFailed    PipelineStatus = "failed"
)

// StepStatus is the lifecycle of a single build step. Completed and
// failed are terminal.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepBuilding  StepStatus = "building"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// StepSpec describes one step when creating a pipeline.
type StepSpec struct {
	// Description is the instruction handed to the model for this step.
	Description string `json:"description"`

	// Category tags the kind of work (scaffold, logic, wiring, test, docs).
	Category string `json:"category,omitempty"`
}

// Validate checks required spec fields.
func (s *StepSpec) Validate() error {
	if s.Description == "" {
		return ErrInvalidStepDescription
	}
	return nil
}

// BuildStep is one unit of work inside a pipeline.
type BuildStep struct {
	// ID is the unique identifier for the step.
	ID string `json:"id"`

	// Number is the 1-based position within the pipeline.
	Number int `json:"number"`

	// Description is the instruction for this step.
	Description string `json:"description"`

	// Category tags the kind of work.
	Category string `json:"category,omitempty"`

	// Status is the step lifecycle state.
	Status StepStatus `json:"status"`

	// Quality grades the step's output, 0 to 100. Set on completion.
	Quality int `json:"quality,omitempty"`

	// HealthPassed is whether post-step health checks passed, when run.
	HealthPassed *bool `json:"health_passed,omitempty"`

	// Code is the output the step produced. Set on completion.
	Code string `json:"code,omitempty"`

	// Error describes why the step failed. Set on failure.
	Error string `json:"error,omitempty"`

	// StartedAt is when the step was handed out. Nil while pending.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the step reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BuildPipeline is an ordered sequence of build steps for one prompt.
// Each step's handout includes the code completed before it.
type BuildPipeline struct {
	// ID is the unique identifier for the pipeline.
	ID string `json:"id"`

	// ProjectID groups pipelines by project.
	ProjectID string `json:"project_id"`

	// Prompt is the user request the pipeline serves.
	Prompt string `json:"prompt"`

	// Steps are the ordered units of work.
	Steps []*BuildStep `json:"steps"`

	// Status is idle until the first handout, running after, and derives
	// to completed or failed once every step is terminal.
	Status PipelineStatus `json:"status"`

	// CurrentStep is the number of the step most recently handed out.
	// Zero before the first handout.
	CurrentStep int `json:"current_step"`

	// AccumulatedCode concatenates completed steps' code in step order.
	AccumulatedCode string `json:"accumulated_code,omitempty"`

	// StepsCompleted counts steps that reached completed.
	StepsCompleted int `json:"steps_completed"`

	// StepsFailed counts steps that reached failed.
	StepsFailed int `json:"steps_failed"`

	// StartedAt is when the pipeline was created.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when every step reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Step returns the step with the given ID, or nil.
func (p *BuildPipeline) Step(stepID string) *BuildStep {
	for _, s := range p.Steps {
		if s.ID == stepID {
			return s
		}
	}
	return nil
}

// Terminal reports whether every step reached a terminal state. A
// pipeline with no steps is trivially terminal.
func (p *BuildPipeline) Terminal() bool {
	return p.StepsCompleted+p.StepsFailed == len(p.Steps)
}

// DeriveStatus computes the pipeline status from step counts. Idle and
// running reflect handout activity; completed and failed are derived.
// A pipeline with no steps derives to completed immediately.
func (p *BuildPipeline) DeriveStatus() PipelineStatus {
	if p.Terminal() {
		if p.StepsFailed > 0 {
			return PipelineFailed
		}
		return PipelineCompleted
	}
	return p.Status
}
