package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jberon/kiln/internal/models"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestService(opts ...Option) *Service {
	opts = append([]Option{WithNow(func() time.Time { return testNow })}, opts...)
	return New(opts...)
}

func threeSpecs() []models.StepSpec {
	return []models.StepSpec{
		{Description: "scaffold the package", Category: "scaffold"},
		{Description: "implement the core", Category: "logic"},
		{Description: "add tests", Category: "test"},
	}
}

func TestService_Create(t *testing.T) {
	s := newTestService()

	p, err := s.Create("proj-1", "build a parser", threeSpecs())
	require.NoError(t, err)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, "proj-1", p.ProjectID)
	assert.Equal(t, "build a parser", p.Prompt)
	assert.Equal(t, models.PipelineIdle, p.Status)
	assert.Zero(t, p.CurrentStep)
	assert.Equal(t, testNow, p.StartedAt)

	require.Len(t, p.Steps, 3)
	for i, step := range p.Steps {
		assert.NotEmpty(t, step.ID)
		assert.Equal(t, i+1, step.Number)
		assert.Equal(t, models.StepPending, step.Status)
	}
}

func TestService_CreateEmptySpecs(t *testing.T) {
	s := newTestService()

	p, err := s.Create("proj-1", "nothing to do", nil)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineCompleted, p.Status)
	require.NotNil(t, p.CompletedAt)
	assert.Equal(t, testNow, *p.CompletedAt)

	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)
	assert.Nil(t, handout)
}

func TestService_CreateValidation(t *testing.T) {
	s := newTestService()

	_, err := s.Create("", "prompt", nil)
	assert.ErrorIs(t, err, models.ErrInvalidProjectID)

	_, err = s.Create("proj-1", "prompt", []models.StepSpec{{Description: ""}})
	assert.ErrorIs(t, err, models.ErrInvalidStepDescription)
}

func TestService_CreateReturnsCopy(t *testing.T) {
	s := newTestService()

	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)
	p.Steps[0].Description = "tampered"

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "scaffold the package", got.Steps[0].Description)
}

func TestService_NextStep(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)

	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)
	require.NotNil(t, handout)
	assert.Equal(t, 1, handout.Step.Number)
	assert.Equal(t, models.StepBuilding, handout.Step.Status)
	require.NotNil(t, handout.Step.StartedAt)
	assert.Empty(t, handout.Context)

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineRunning, got.Status)
	assert.Equal(t, 1, got.CurrentStep)
}

func TestService_NextStepUnknownPipeline(t *testing.T) {
	s := newTestService()
	_, err := s.NextStep("no-such-pipeline")
	assert.ErrorIs(t, err, ErrPipelineNotFound)
}

func TestService_NextStepExhausted(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", []models.StepSpec{{Description: "only step"}})
	require.NoError(t, err)

	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)
	require.NotNil(t, handout)
	_, err = s.CompleteStep(p.ID, handout.Step.ID, "code", 90, true)
	require.NoError(t, err)

	handout, err = s.NextStep(p.ID)
	require.NoError(t, err)
	assert.Nil(t, handout, "no pending step left")
}

func TestService_CompleteStep(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", []models.StepSpec{{Description: "only step"}})
	require.NoError(t, err)

	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)

	got, err := s.CompleteStep(p.ID, handout.Step.ID, "package main", 85, true)
	require.NoError(t, err)

	step := got.Steps[0]
	assert.Equal(t, models.StepCompleted, step.Status)
	assert.Equal(t, 85, step.Quality)
	require.NotNil(t, step.HealthPassed)
	assert.True(t, *step.HealthPassed)
	assert.Equal(t, "package main", step.Code)
	require.NotNil(t, step.CompletedAt)

	assert.Equal(t, "package main", got.AccumulatedCode)
	assert.Equal(t, 1, got.StepsCompleted)
	assert.Equal(t, models.PipelineCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestService_CompleteStepValidation(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", []models.StepSpec{{Description: "only step"}})
	require.NoError(t, err)
	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)

	_, err = s.CompleteStep(p.ID, handout.Step.ID, "code", 101, true)
	assert.ErrorIs(t, err, models.ErrInvalidQualityScore)

	_, err = s.CompleteStep("ghost", handout.Step.ID, "code", 90, true)
	assert.ErrorIs(t, err, ErrPipelineNotFound)

	_, err = s.CompleteStep(p.ID, "ghost", "code", 90, true)
	assert.ErrorIs(t, err, ErrStepNotFound)
}

func TestService_CompleteStepRequiresBuilding(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)

	// step 1 was never handed out
	_, err = s.CompleteStep(p.ID, p.Steps[0].ID, "code", 90, true)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, models.StepPending, terr.From)
	assert.Equal(t, models.StepCompleted, terr.To)
}

func TestService_TerminalStepsNeverRevert(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", []models.StepSpec{{Description: "only step"}})
	require.NoError(t, err)
	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)
	_, err = s.CompleteStep(p.ID, handout.Step.ID, "code", 90, true)
	require.NoError(t, err)

	_, err = s.CompleteStep(p.ID, handout.Step.ID, "other code", 70, false)
	var terr *TransitionError
	require.ErrorAs(t, err, &terr)

	_, err = s.FailStep(p.ID, handout.Step.ID, "too late")
	require.ErrorAs(t, err, &terr)

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Steps[0].Status)
	assert.Equal(t, "code", got.Steps[0].Code)
}

func TestService_FailStepBeforeDispatch(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)

	// aborting a never-dispatched step is legal
	got, err := s.FailStep(p.ID, p.Steps[2].ID, "aborted by caller")
	require.NoError(t, err)
	assert.Equal(t, models.StepFailed, got.Steps[2].Status)
	assert.Equal(t, "aborted by caller", got.Steps[2].Error)
	assert.Equal(t, 1, got.StepsFailed)
}

// A failed step contributes nothing: later steps see only completed
// steps' code, and the final status reflects the failure.
func TestService_FailedStepLeavesNoTrace(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)

	h1, err := s.NextStep(p.ID)
	require.NoError(t, err)
	assert.Empty(t, h1.Context)
	_, err = s.CompleteStep(p.ID, h1.Step.ID, "func one() {}", 90, true)
	require.NoError(t, err)

	h2, err := s.NextStep(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "func one() {}", h2.Context)
	_, err = s.FailStep(p.ID, h2.Step.ID, "model produced garbage")
	require.NoError(t, err)

	h3, err := s.NextStep(p.ID)
	require.NoError(t, err)
	require.NotNil(t, h3, "failure does not halt the pipeline")
	assert.Equal(t, 3, h3.Step.Number)
	assert.Equal(t, "func one() {}", h3.Context, "failed step's output is absent")

	got, err := s.CompleteStep(p.ID, h3.Step.ID, "func three() {}", 80, true)
	require.NoError(t, err)
	assert.Equal(t, "func one() {}\n\nfunc three() {}", got.AccumulatedCode)
	assert.Equal(t, models.PipelineFailed, got.Status, "one failure fails the run")
	assert.Equal(t, 2, got.StepsCompleted)
	assert.Equal(t, 1, got.StepsFailed)
	require.NotNil(t, got.CompletedAt)
}

func TestService_AccumulationOrder(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)

	codes := []string{"package kiln", "func core() {}", "func TestCore(t *testing.T) {}"}
	for _, code := range codes {
		handout, err := s.NextStep(p.ID)
		require.NoError(t, err)
		require.NotNil(t, handout)
		_, err = s.CompleteStep(p.ID, handout.Step.ID, code, 90, true)
		require.NoError(t, err)
	}

	got, err := s.Get(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "package kiln\n\nfunc core() {}\n\nfunc TestCore(t *testing.T) {}", got.AccumulatedCode)
	assert.Equal(t, models.PipelineCompleted, got.Status)
}

func TestService_EmptyCodeAddsNoBlankLines(t *testing.T) {
	s := newTestService()
	p, err := s.Create("proj-1", "prompt", threeSpecs())
	require.NoError(t, err)

	h1, _ := s.NextStep(p.ID)
	_, err = s.CompleteStep(p.ID, h1.Step.ID, "real code", 90, true)
	require.NoError(t, err)

	h2, _ := s.NextStep(p.ID)
	_, err = s.CompleteStep(p.ID, h2.Step.ID, "", 70, true)
	require.NoError(t, err)

	h3, err := s.NextStep(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "real code", h3.Context)
}

func TestService_StrictModePanics(t *testing.T) {
	s := newTestService(WithStrictTransitions())
	p, err := s.Create("proj-1", "prompt", []models.StepSpec{{Description: "only step"}})
	require.NoError(t, err)
	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)
	_, err = s.CompleteStep(p.ID, handout.Step.ID, "code", 90, true)
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = s.CompleteStep(p.ID, handout.Step.ID, "again", 90, true)
	})
}

func TestService_TransitionCallbacks(t *testing.T) {
	s := newTestService()

	var events []TransitionEvent
	s.OnTransition(func(e TransitionEvent) {
		events = append(events, e)
	})

	p, err := s.Create("proj-1", "prompt", []models.StepSpec{{Description: "only step"}})
	require.NoError(t, err)
	handout, err := s.NextStep(p.ID)
	require.NoError(t, err)
	_, err = s.CompleteStep(p.ID, handout.Step.ID, "code", 90, true)
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, models.StepPending, events[0].From)
	assert.Equal(t, models.StepBuilding, events[0].To)
	assert.Equal(t, models.StepBuilding, events[1].From)
	assert.Equal(t, models.StepCompleted, events[1].To)
	assert.Equal(t, testNow, events[1].Timestamp)
}

func TestService_ListAndDiscard(t *testing.T) {
	s := newTestService()

	first, err := s.Create("proj-1", "first", nil)
	require.NoError(t, err)
	second, err := s.Create("proj-2", "second", nil)
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, second.ID, list[1].ID)

	require.NoError(t, s.Discard(first.ID))
	_, err = s.Get(first.ID)
	assert.ErrorIs(t, err, ErrPipelineNotFound)

	list = s.List()
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	assert.ErrorIs(t, s.Discard(first.ID), ErrPipelineNotFound)
}

// Concurrent handout requests must each win a distinct step.
func TestService_NextStepConcurrent(t *testing.T) {
	s := newTestService()
	specs := make([]models.StepSpec, 5)
	for i := range specs {
		specs[i] = models.StepSpec{Description: "step"}
	}
	p, err := s.Create("proj-1", "prompt", specs)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
		errs    []error
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handout, err := s.NextStep(p.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if handout != nil {
				numbers = append(numbers, handout.Step.Number)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, numbers, 5)
	seen := make(map[int]bool)
	for _, n := range numbers {
		assert.False(t, seen[n], "step %d handed out twice", n)
		seen[n] = true
	}
}
