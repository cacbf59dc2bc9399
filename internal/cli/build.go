// Package cli provides build commands: the full plan-to-code loop.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/jberon/kiln/internal/db"
	"github.com/jberon/kiln/internal/llm"
	"github.com/jberon/kiln/internal/logging"
	"github.com/jberon/kiln/internal/models"
	"github.com/jberon/kiln/internal/parse"
	"github.com/jberon/kiln/internal/pipeline"
	"github.com/jberon/kiln/internal/plan"
	"github.com/jberon/kiln/internal/pool"
	"github.com/jberon/kiln/internal/scoring"
)

var (
	buildRunPlanFile  string
	buildRunOutput    string
	buildShowPlanFile string
)

func init() {
	rootCmd.AddCommand(buildCmd)
	buildCmd.AddCommand(buildRunCmd)
	buildCmd.AddCommand(buildShowCmd)

	buildRunCmd.Flags().StringVar(&buildRunPlanFile, "plan", "", "plan file (TOML)")
	buildRunCmd.Flags().StringVarP(&buildRunOutput, "output", "o", "", "write generated code to file instead of stdout")
	_ = buildRunCmd.MarkFlagRequired("plan")

	buildShowCmd.Flags().StringVar(&buildShowPlanFile, "plan", "", "plan file (TOML)")
	_ = buildShowCmd.MarkFlagRequired("plan")
}

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Run build plans against the model pool",
	Long:  "Run multi-step build plans: each step is dispatched to the best-scoring available model, its output parsed and repaired, and the result folded into the context of the next step.",
}

var buildRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a build plan",
	Long: `Run a build plan end to end: discover models, then for each step
acquire the best-scoring slot for the step's task type, execute the
prompt, parse and repair the completion, and record the outcome. Failed
steps do not poison later ones; their output is simply left out of the
accumulated context.`,
	Example: `  kiln build run --plan plan.toml
  kiln build run --plan plan.toml --output generated.py
  kiln build run --plan plan.toml --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadValidPlan(buildRunPlanFile)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			select {
			case <-sigChan:
				cancel()
			case <-ctx.Done():
			}
		}()

		runner, err := newBuildRunner(ctx)
		if err != nil {
			return err
		}
		defer runner.Close()

		result, err := runner.Run(ctx, p)
		if err != nil {
			return err
		}

		if IsJSONOutput() || IsJSONLOutput() {
			if err := WriteOutput(os.Stdout, result); err != nil {
				return err
			}
		} else if err := writeBuildResultHuman(result); err != nil {
			return err
		}

		if result.Status == models.PipelineFailed {
			return &ExitError{
				Code:    1,
				Err:     fmt.Errorf("build failed: %d of %d step(s) failed", result.StepsFailed, len(result.Steps)),
				Printed: true,
			}
		}
		return nil
	},
}

// buildRunner wires the pool, scorer, parser, executor, pipeline and
// archive together for one build run.
type buildRunner struct {
	mapping   *pool.ModelMap
	pool      *pool.Service
	scorer    *scoring.Service
	pipelines *pipeline.Service
	parser    *parse.Parser
	executor  llm.Client
	archive   *db.OutcomeRepository
	database  *db.DB
	logger    zerolog.Logger

	// stepModels remembers which model served each step, keyed by step
	// id; BuildStep itself does not carry the model.
	stepModels map[string]string
}

func newBuildRunner(ctx context.Context) (*buildRunner, error) {
	mapping, err := newModelMap()
	if err != nil {
		return nil, err
	}

	database, err := openDatabase()
	if err != nil {
		return nil, err
	}

	archive := db.NewOutcomeRepository(database)
	scorer := newScoringService(mapping)
	if _, err := seedScorer(ctx, scorer, archive); err != nil {
		database.Close()
		return nil, err
	}

	executor, err := newExecutor()
	if err != nil {
		database.Close()
		return nil, err
	}

	return &buildRunner{
		mapping:    mapping,
		pool:       newPoolService(scorer, mapping),
		scorer:     scorer,
		pipelines:  pipeline.New(),
		parser:     parse.NewParser(parse.Config{MaxInputBytes: appConfig.Parser.MaxInputBytes}),
		executor:   executor,
		archive:    archive,
		database:   database,
		logger:     logging.Component("build"),
		stepModels: make(map[string]string),
	}, nil
}

func (r *buildRunner) Close() {
	r.database.Close()
}

// Run drives a plan through the pipeline, one step at a time. Step
// failures are recorded and the run continues; only infrastructure
// failures (no capacity, broken invariants) abort it.
func (r *buildRunner) Run(ctx context.Context, p *plan.Plan) (*BuildResult, error) {
	report, err := r.pool.Discover(ctx)
	if err != nil {
		return nil, err
	}
	if stats := r.pool.Stats(); stats.TotalSlots == 0 {
		return nil, fmt.Errorf("no models available: every endpoint probe failed or returned nothing")
	}

	pipe, err := r.pipelines.Create(p.Project, p.Prompt, p.Specs())
	if err != nil {
		return nil, err
	}

	started := nowFunc()
	r.logger.Info().
		Str("pipeline_id", pipe.ID).
		Str("project", p.Project).
		Int("steps", len(p.Steps)).
		Msg("build started")

	for {
		handout, err := r.pipelines.NextStep(pipe.ID)
		if err != nil {
			return nil, err
		}
		if handout == nil {
			break
		}

		if err := r.runStep(ctx, pipe.ID, p, handout); err != nil {
			r.abortPending(pipe.ID, err)
			return nil, err
		}
		if ctx.Err() != nil {
			r.abortPending(pipe.ID, ctx.Err())
			break
		}
	}

	final, err := r.pipelines.Get(pipe.ID)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Str("pipeline_id", final.ID).
		Str("status", string(final.Status)).
		Int("completed", final.StepsCompleted).
		Int("failed", final.StepsFailed).
		Dur("duration", nowFunc().Sub(started)).
		Msg("build finished")

	return r.buildResult(final, report, nowFunc().Sub(started)), nil
}

// runStep executes one handed-out step. Model-side failures fail the
// step and return nil; the returned error is reserved for conditions
// that doom the whole run.
func (r *buildRunner) runStep(ctx context.Context, pipelineID string, p *plan.Plan, handout *pipeline.StepHandout) error {
	step := handout.Step
	taskType := categoryTask(step.Category)
	role := categoryRole(step.Category)

	slot, err := r.pool.Acquire(pool.AcquireRequest{
		Role:      role,
		TaskType:  taskType,
		TaskLabel: fmt.Sprintf("%s #%d", p.Project, step.Number),
	})
	if err != nil {
		// Nothing releases slots but this loop, so no capacity now
		// means no capacity ever: abort.
		if _, ferr := r.pipelines.FailStep(pipelineID, step.ID, err.Error()); ferr != nil {
			return ferr
		}
		return err
	}
	r.stepModels[step.ID] = slot.Model

	r.logger.Info().
		Int("step", step.Number).
		Str("category", step.Category).
		Str("model", slot.Model).
		Str("task_type", string(taskType)).
		Msg("step dispatched")

	prompt := buildStepPrompt(p, step, handout.Context)
	started := nowFunc()
	resp, execErr := r.executor.Execute(ctx, *slot, prompt)
	elapsed := nowFunc().Sub(started)

	outcome := models.GenerationOutcome{
		Model:      slot.Model,
		TaskType:   taskType,
		Tier:       r.mapping.TierOf(slot.Model),
		Duration:   resp.Duration,
		TokensUsed: resp.Tokens,
		Timestamp:  nowFunc().UTC(),
	}
	if outcome.Duration <= 0 {
		outcome.Duration = elapsed
	}

	if execErr != nil {
		outcome.ErrorCount = 1
		if _, ferr := r.pipelines.FailStep(pipelineID, step.ID, execErr.Error()); ferr != nil {
			return ferr
		}
		r.releaseAndRecord(ctx, slot.ID, &outcome)
		r.logger.Warn().
			Err(execErr).
			Int("step", step.Number).
			Str("model", slot.Model).
			Msg("step failed")
		return nil
	}

	result := r.parser.Parse(resp.Text)
	code, repairs := assembleCode(result)
	quality := int(result.Confidence * 100)
	healthPassed := !result.Truncated && repairs == 0

	outcome.QualityScore = quality
	outcome.RefinementRounds = repairs

	if code == "" {
		if step.Category == plan.CategoryDocs {
			// Docs steps legitimately answer in prose.
			code = result.Text
		} else {
			outcome.QualityScore = 0
			outcome.ErrorCount = 1
			if _, ferr := r.pipelines.FailStep(pipelineID, step.ID, "completion contained no code blocks"); ferr != nil {
				return ferr
			}
			r.releaseAndRecord(ctx, slot.ID, &outcome)
			r.logger.Warn().
				Int("step", step.Number).
				Str("model", slot.Model).
				Msg("step produced no code")
			return nil
		}
	}

	if _, cerr := r.pipelines.CompleteStep(pipelineID, step.ID, code, quality, healthPassed); cerr != nil {
		return cerr
	}
	r.releaseAndRecord(ctx, slot.ID, &outcome)

	r.logger.Info().
		Int("step", step.Number).
		Str("model", slot.Model).
		Int("quality", quality).
		Int("repairs", repairs).
		Bool("truncated", result.Truncated).
		Msg("step completed")
	return nil
}

// releaseAndRecord frees the slot (feeding the scorer) and appends the
// outcome to the archive. Both are best effort; a full archive never
// kills a build.
func (r *buildRunner) releaseAndRecord(ctx context.Context, slotID string, outcome *models.GenerationOutcome) {
	if err := r.pool.Release(slotID, outcome); err != nil {
		r.logger.Warn().Err(err).Str("slot_id", slotID).Msg("slot release failed")
	}
	if err := r.archive.Save(ctx, outcome); err != nil {
		r.logger.Warn().Err(err).Msg("archive save failed")
	}
}

// abortPending fails every step still pending so the pipeline settles
// into a terminal status.
func (r *buildRunner) abortPending(pipelineID string, cause error) {
	for {
		handout, err := r.pipelines.NextStep(pipelineID)
		if err != nil || handout == nil {
			return
		}
		if _, err := r.pipelines.FailStep(pipelineID, handout.Step.ID, "aborted: "+cause.Error()); err != nil {
			return
		}
	}
}

// assembleCode joins the completion's code blocks, repairing truncated
// ones, and reports how many repairs were needed.
func assembleCode(result *parse.Result) (string, int) {
	parts := make([]string, 0, len(result.CodeBlocks))
	repairs := 0
	for _, block := range result.CodeBlocks {
		code := block.Code
		if !block.Complete {
			code = parse.RepairTruncated(code, block.Language)
			repairs++
		}
		if strings.TrimSpace(code) == "" {
			continue
		}
		parts = append(parts, code)
	}
	return strings.Join(parts, "\n\n"), repairs
}

// buildStepPrompt assembles the prompt one step sends to its model: the
// plan's prompt, the step instruction, and the code completed so far.
func buildStepPrompt(p *plan.Plan, step models.BuildStep, context string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Prompt))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Step %d: %s\n", step.Number, step.Description)
	if step.Category != "" {
		fmt.Fprintf(&b, "Step kind: %s\n", step.Category)
	}
	if context != "" {
		b.WriteString("\nCode completed in earlier steps:\n```\n")
		b.WriteString(context)
		b.WriteString("\n```\n")
	}
	if step.Category == plan.CategoryDocs {
		b.WriteString("\nWrite the documentation for this step.")
	} else {
		b.WriteString("\nReturn the code for this step in a fenced code block.")
	}
	return b.String()
}

// categoryTask maps a plan category to the task type the scorer ranks
// candidates by.
func categoryTask(category string) models.TaskType {
	switch category {
	case plan.CategoryWiring:
		return models.TaskComplete
	case plan.CategoryDocs:
		return models.TaskExplain
	default:
		return models.TaskGenerate
	}
}

// categoryRole maps a plan category to the slot role asked of the
// pool. Acquire falls back to any-role slots, so unpinned rosters
// serve every category.
func categoryRole(category string) models.Role {
	switch category {
	case plan.CategoryScaffold, plan.CategoryLogic, plan.CategoryWiring:
		return models.RoleBuilder
	case plan.CategoryTest, plan.CategoryDocs:
		return models.RoleReviewer
	default:
		return models.RoleAny
	}
}

// BuildResult is the run summary for output.
type BuildResult struct {
	PipelineID      string                `json:"pipeline_id"`
	Project         string                `json:"project"`
	Status          models.PipelineStatus `json:"status"`
	StepsCompleted  int                   `json:"steps_completed"`
	StepsFailed     int                   `json:"steps_failed"`
	Duration        time.Duration         `json:"duration"`
	Discovery       pool.DiscoveryReport  `json:"discovery"`
	Steps           []StepResult          `json:"steps"`
	AccumulatedCode string                `json:"accumulated_code,omitempty"`
}

// StepResult is one step's summary.
type StepResult struct {
	Number      int               `json:"number"`
	Description string            `json:"description"`
	Category    string            `json:"category,omitempty"`
	Model       string            `json:"model,omitempty"`
	Status      models.StepStatus `json:"status"`
	Quality     int               `json:"quality"`
	Health      *bool             `json:"health_passed,omitempty"`
	Error       string            `json:"error,omitempty"`
	Duration    time.Duration     `json:"duration"`
}

func (r *buildRunner) buildResult(p *models.BuildPipeline, report pool.DiscoveryReport, duration time.Duration) *BuildResult {
	result := &BuildResult{
		PipelineID:      p.ID,
		Project:         p.ProjectID,
		Status:          p.Status,
		StepsCompleted:  p.StepsCompleted,
		StepsFailed:     p.StepsFailed,
		Duration:        duration,
		Discovery:       report,
		AccumulatedCode: p.AccumulatedCode,
	}
	for _, step := range p.Steps {
		sr := StepResult{
			Number:      step.Number,
			Description: step.Description,
			Category:    step.Category,
			Model:       r.stepModels[step.ID],
			Status:      step.Status,
			Quality:     step.Quality,
			Health:      step.HealthPassed,
			Error:       step.Error,
		}
		if step.StartedAt != nil && step.CompletedAt != nil {
			sr.Duration = step.CompletedAt.Sub(*step.StartedAt)
		}
		result.Steps = append(result.Steps, sr)
	}
	return result
}

func writeBuildResultHuman(result *BuildResult) error {
	writer := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(writer, "Project:\t%s\n", result.Project)
	fmt.Fprintf(writer, "Pipeline:\t%s\n", shortID(result.PipelineID))
	fmt.Fprintf(writer, "Status:\t%s\n", colorizePipelineStatus(result.Status))
	fmt.Fprintf(writer, "Steps:\t%d completed, %d failed\n", result.StepsCompleted, result.StepsFailed)
	fmt.Fprintf(writer, "Duration:\t%s\n", formatLatency(result.Duration))
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Println()
	rows := make([][]string, 0, len(result.Steps))
	for _, step := range result.Steps {
		model := step.Model
		if model == "" {
			model = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", step.Number),
			truncateText(step.Description, 40),
			model,
			colorizeStepStatus(step.Status),
			fmt.Sprintf("%d", step.Quality),
			formatLatency(step.Duration),
		})
	}
	if err := writeTable(os.Stdout, []string{"#", "DESCRIPTION", "MODEL", "STATUS", "QUALITY", "DURATION"}, rows); err != nil {
		return err
	}

	for _, step := range result.Steps {
		if step.Error != "" {
			fmt.Printf("%s step %d: %s\n", colorize("error:", colorRed), step.Number, step.Error)
		}
	}

	if result.AccumulatedCode == "" {
		return nil
	}

	if buildRunOutput != "" {
		if err := os.WriteFile(buildRunOutput, []byte(result.AccumulatedCode+"\n"), 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		fmt.Printf("\nGenerated output written to %s\n", buildRunOutput)
		return nil
	}

	fmt.Println("\nGenerated output:")
	fmt.Println(result.AccumulatedCode)
	return nil
}

func colorizePipelineStatus(status models.PipelineStatus) string {
	switch status {
	case models.PipelineCompleted:
		return colorize(string(status), colorGreen)
	case models.PipelineFailed:
		return colorize(string(status), colorRed)
	case models.PipelineRunning:
		return colorize(string(status), colorCyan)
	default:
		return string(status)
	}
}

func colorizeStepStatus(status models.StepStatus) string {
	switch status {
	case models.StepCompleted:
		return colorize(string(status), colorGreen)
	case models.StepFailed:
		return colorize(string(status), colorRed)
	case models.StepBuilding:
		return colorize(string(status), colorCyan)
	default:
		return string(status)
	}
}

var buildShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Preview how a plan would run",
	Long:  "Validate a plan and preview its dispatch: the task type and role each step maps to, and the model the pool would pick for it right now.",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadValidPlan(buildShowPlanFile)
		if err != nil {
			return err
		}

		mapping, err := newModelMap()
		if err != nil {
			return err
		}
		scorer, err := newSeededScorer(cmd.Context())
		if err != nil {
			return err
		}
		svc := newPoolService(scorer, mapping)
		if _, err := svc.Discover(cmd.Context()); err != nil {
			return err
		}

		preview := buildPlanPreview(svc, p)

		if IsJSONOutput() || IsJSONLOutput() {
			return WriteOutput(os.Stdout, preview)
		}
		return writePlanPreviewHuman(preview)
	},
}

type PlanPreview struct {
	Source  string        `json:"source"`
	Project string        `json:"project"`
	Steps   []StepPreview `json:"steps"`
}

type StepPreview struct {
	Number   int             `json:"number"`
	ID       string          `json:"id"`
	Category string          `json:"category,omitempty"`
	TaskType models.TaskType `json:"task_type"`
	Role     models.Role     `json:"role"`
	Model    string          `json:"model,omitempty"`
}

// buildPlanPreview asks the pool which model it would pick for each
// step with today's roster and scores. Peek leaves the roster
// untouched, so previewing never inflates completion counts.
func buildPlanPreview(svc *pool.Service, p *plan.Plan) *PlanPreview {
	preview := &PlanPreview{
		Source:  p.Source,
		Project: p.Project,
	}
	for i, step := range p.Steps {
		sp := StepPreview{
			Number:   i + 1,
			ID:       step.ID,
			Category: step.Category,
			TaskType: categoryTask(step.Category),
			Role:     categoryRole(step.Category),
		}
		slot, err := svc.Peek(pool.AcquireRequest{
			Role:     sp.Role,
			TaskType: sp.TaskType,
		})
		if err == nil {
			sp.Model = slot.Model
		}
		preview.Steps = append(preview.Steps, sp)
	}
	return preview
}

func writePlanPreviewHuman(preview *PlanPreview) error {
	fmt.Printf("Plan: %s\n", preview.Source)
	fmt.Printf("Project: %s\n\n", preview.Project)

	rows := make([][]string, 0, len(preview.Steps))
	for _, step := range preview.Steps {
		model := step.Model
		if model == "" {
			model = colorize("(no slot)", colorYellow)
		}
		category := step.Category
		if category == "" {
			category = "-"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", step.Number),
			step.ID,
			category,
			string(step.TaskType),
			string(step.Role),
			model,
		})
	}
	return writeTable(os.Stdout, []string{"#", "ID", "CATEGORY", "TASK", "ROLE", "MODEL"}, rows)
}
