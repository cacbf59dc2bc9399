// Package pipeline runs multi-step build plans as a strict state
// machine: steps go out one at a time, each carrying the code completed
// before it, and a failed step never poisons the accumulated context.
package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jberon/kiln/internal/logging"
	"github.com/jberon/kiln/internal/models"
)

// Pipeline errors.
var (
	ErrPipelineNotFound = errors.New("pipeline not found")
	ErrStepNotFound     = errors.New("step not found")
)

// StepHandout is what NextStep gives a caller: the step to build and a
// snapshot of the code completed so far.
type StepHandout struct {
	// Step is a copy of the dispatched step, already marked building.
	Step models.BuildStep

	// Context is the accumulated code at handout time.
	Context string
}

// Service is the pipeline registry. One mutex guards every pipeline;
// pipelines are retained until the caller discards them.
type Service struct {
	logger    zerolog.Logger
	now       func() time.Time
	strict    bool
	callbacks []TransitionCallback

	mu        sync.RWMutex
	pipelines map[string]*models.BuildPipeline
	order     []string
}

// Option configures a Service.
type Option func(*Service)

// WithNow injects the clock used for step and pipeline stamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithStrictTransitions makes invalid step transitions panic instead of
// returning a TransitionError.
func WithStrictTransitions() Option {
	return func(s *Service) {
		s.strict = true
	}
}

// New creates a pipeline service.
func New(opts ...Option) *Service {
	s := &Service{
		logger:    logging.Component("pipeline"),
		now:       time.Now,
		pipelines: make(map[string]*models.BuildPipeline),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// OnTransition registers a callback invoked on every step transition.
func (s *Service) OnTransition(cb TransitionCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Create registers a pipeline with one pending step per spec, in order.
// Empty specs are legal; such a pipeline is trivially completed.
func (s *Service) Create(projectID, prompt string, specs []models.StepSpec) (*models.BuildPipeline, error) {
	if projectID == "" {
		return nil, models.ErrInvalidProjectID
	}
	for i := range specs {
		if err := specs[i].Validate(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}

	now := s.now()
	p := &models.BuildPipeline{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Prompt:    prompt,
		Status:    models.PipelineIdle,
		StartedAt: now,
	}
	for i, spec := range specs {
		p.Steps = append(p.Steps, &models.BuildStep{
			ID:          uuid.New().String(),
			Number:      i + 1,
			Description: spec.Description,
			Category:    spec.Category,
			Status:      models.StepPending,
		})
	}
	if p.Terminal() {
		p.Status = models.PipelineCompleted
		p.CompletedAt = &now
	}

	s.mu.Lock()
	s.pipelines[p.ID] = p
	s.order = append(s.order, p.ID)
	s.mu.Unlock()

	s.logger.Info().
		Str("pipeline_id", p.ID).
		Str("project_id", projectID).
		Int("steps", len(specs)).
		Msg("pipeline created")

	return clonePipeline(p), nil
}

// NextStep hands out the first pending step, atomically flipping it to
// building under the registry lock. When no step is pending it returns
// nil with no error; the pipeline keeps its terminal status.
func (s *Service) NextStep(pipelineID string) (*StepHandout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}

	var step *models.BuildStep
	for _, candidate := range p.Steps {
		if candidate.Status == models.StepPending {
			step = candidate
			break
		}
	}
	if step == nil {
		return nil, nil
	}

	if err := s.transition(p, step, models.StepBuilding, "dispatched"); err != nil {
		return nil, err
	}
	now := s.now()
	step.StartedAt = &now
	p.Status = models.PipelineRunning
	p.CurrentStep = step.Number

	s.logger.Debug().
		Str("pipeline_id", p.ID).
		Str("step_id", step.ID).
		Int("number", step.Number).
		Str("category", step.Category).
		Msg("step handed out")

	return &StepHandout{Step: cloneStep(step), Context: p.AccumulatedCode}, nil
}

// CompleteStep moves a step to completed, records its output, and
// appends the code to the pipeline's accumulated context.
func (s *Service) CompleteStep(pipelineID, stepID, code string, quality int, healthPassed bool) (*models.BuildPipeline, error) {
	if quality < 0 || quality > 100 {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidQualityScore, quality)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, step, err := s.findStep(pipelineID, stepID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(p, step, models.StepCompleted, "output accepted"); err != nil {
		return nil, err
	}

	now := s.now()
	step.Quality = quality
	step.HealthPassed = &healthPassed
	step.Code = code
	step.CompletedAt = &now

	if code != "" {
		if p.AccumulatedCode == "" {
			p.AccumulatedCode = code
		} else {
			p.AccumulatedCode += "\n\n" + code
		}
	}
	p.StepsCompleted++
	s.settle(p, now)

	s.logger.Info().
		Str("pipeline_id", p.ID).
		Str("step_id", step.ID).
		Int("number", step.Number).
		Int("quality", quality).
		Bool("health_passed", healthPassed).
		Msg("step completed")

	return clonePipeline(p), nil
}

// FailStep moves a step to failed with an error message. The pipeline
// is not halted: later pending steps still hand out, and the failed
// step contributes nothing to the accumulated context. Callers that
// want to abort fail the remaining pending steps too.
func (s *Service) FailStep(pipelineID, stepID, errMsg string) (*models.BuildPipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, step, err := s.findStep(pipelineID, stepID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(p, step, models.StepFailed, "step failed"); err != nil {
		return nil, err
	}

	now := s.now()
	step.Error = errMsg
	step.CompletedAt = &now
	p.StepsFailed++
	s.settle(p, now)

	s.logger.Warn().
		Str("pipeline_id", p.ID).
		Str("step_id", step.ID).
		Int("number", step.Number).
		Str("error", errMsg).
		Msg("step failed")

	return clonePipeline(p), nil
}

// Get returns a copy of one pipeline.
func (s *Service) Get(pipelineID string) (*models.BuildPipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	return clonePipeline(p), nil
}

// List returns copies of every retained pipeline, creation order.
func (s *Service) List() []*models.BuildPipeline {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.BuildPipeline, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, clonePipeline(s.pipelines[id]))
	}
	return out
}

// Discard drops a pipeline from the registry. Nothing is garbage
// collected implicitly; this is the only way a pipeline leaves.
func (s *Service) Discard(pipelineID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelines[pipelineID]; !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	delete(s.pipelines, pipelineID)
	for i, id := range s.order {
		if id == pipelineID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	s.logger.Info().Str("pipeline_id", pipelineID).Msg("pipeline discarded")
	return nil
}

// findStep locates a pipeline and step. Callers hold s.mu.
func (s *Service) findStep(pipelineID, stepID string) (*models.BuildPipeline, *models.BuildStep, error) {
	p, ok := s.pipelines[pipelineID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, pipelineID)
	}
	step := p.Step(stepID)
	if step == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrStepNotFound, stepID)
	}
	return p, step, nil
}

// transition validates and applies one step transition, then notifies
// callbacks. Callers hold s.mu.
func (s *Service) transition(p *models.BuildPipeline, step *models.BuildStep, to models.StepStatus, reason string) error {
	from := step.Status
	if !IsValidTransition(from, to) {
		err := &TransitionError{
			PipelineID: p.ID,
			StepID:     step.ID,
			From:       from,
			To:         to,
			Reason:     "transition not allowed",
		}
		if s.strict {
			panic(err)
		}
		return err
	}

	step.Status = to
	event := TransitionEvent{
		PipelineID: p.ID,
		StepID:     step.ID,
		Number:     step.Number,
		From:       from,
		To:         to,
		Reason:     reason,
		Timestamp:  s.now(),
	}
	for _, cb := range s.callbacks {
		cb(event)
	}
	return nil
}

// settle refreshes the derived pipeline status and stamps CompletedAt
// the moment the last step turns terminal. Callers hold s.mu.
func (s *Service) settle(p *models.BuildPipeline, now time.Time) {
	p.Status = p.DeriveStatus()
	if p.Terminal() && p.CompletedAt == nil {
		p.CompletedAt = &now
	}
}

// clonePipeline deep-copies a pipeline so callers can't reach into the
// registry's live state.
func clonePipeline(p *models.BuildPipeline) *models.BuildPipeline {
	out := *p
	out.CompletedAt = copyTime(p.CompletedAt)
	out.Steps = make([]*models.BuildStep, len(p.Steps))
	for i, step := range p.Steps {
		c := cloneStep(step)
		out.Steps[i] = &c
	}
	return &out
}

func cloneStep(step *models.BuildStep) models.BuildStep {
	c := *step
	c.StartedAt = copyTime(step.StartedAt)
	c.CompletedAt = copyTime(step.CompletedAt)
	if step.HealthPassed != nil {
		hp := *step.HealthPassed
		c.HealthPassed = &hp
	}
	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
