// Package cli provides structured error output helpers.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jberon/kiln/internal/db"
	"github.com/jberon/kiln/internal/pipeline"
	"github.com/jberon/kiln/internal/plan"
	"github.com/jberon/kiln/internal/pool"
	"github.com/jberon/kiln/internal/vault"
)

// ErrorEnvelope is the JSON/JSONL error response shape.
type ErrorEnvelope struct {
	Error ErrorPayload `json:"error"`
}

// ErrorPayload carries structured error details.
type ErrorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Hint    string         `json:"hint,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// ExitError carries an exit code and whether output was already printed.
type ExitError struct {
	Code    int
	Err     error
	Printed bool
}

func (e *ExitError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func handleCLIError(err error) error {
	if err == nil {
		return nil
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Printed {
			return exitErr
		}
		if exitErr.Err != nil {
			err = exitErr.Err
		}
	}

	exitCode := exitCodeFromError(err)
	if exitErr != nil && exitErr.Code != 0 {
		exitCode = exitErr.Code
	}

	if IsJSONOutput() || IsJSONLOutput() {
		envelope := buildErrorEnvelope(err)
		_ = WriteOutput(os.Stdout, envelope)
	} else {
		fmt.Fprintln(os.Stderr, err.Error())
	}

	return &ExitError{
		Code:    exitCode,
		Err:     err,
		Printed: true,
	}
}

func buildErrorEnvelope(err error) ErrorEnvelope {
	code, message, hint, details, _ := classifyError(err)
	return ErrorEnvelope{
		Error: ErrorPayload{
			Code:    code,
			Message: message,
			Hint:    hint,
			Details: details,
		},
	}
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != 0 {
		return exitErr.Code
	}
	_, _, _, _, code := classifyError(err)
	return code
}

func classifyError(err error) (code, message, hint string, details map[string]any, exitCode int) {
	exitCode = 1
	if err == nil {
		return "ERR_UNKNOWN", "", "", nil, exitCode
	}

	message = err.Error()

	// Typed errors first.
	var planErrs *plan.ErrorList
	if errors.As(err, &planErrs) {
		problems := make([]plan.PlanError, 0, len(planErrs.Errors))
		problems = append(problems, planErrs.Errors...)
		details = map[string]any{"problems": problems}
		return "ERR_PLAN_INVALID", message, "Fix the plan file and run `kiln plan validate` again.", details, 1
	}
	var transErr *pipeline.TransitionError
	if errors.As(err, &transErr) {
		details = map[string]any{
			"pipeline_id": transErr.PipelineID,
			"step_id":     transErr.StepID,
			"from":        string(transErr.From),
			"to":          string(transErr.To),
		}
		return "ERR_INVALID_TRANSITION", message, "", details, 1
	}

	switch {
	case errors.Is(err, pool.ErrNoSlotAvailable):
		return "ERR_NO_CAPACITY", message, "All slots are busy. Retry when a task finishes, or add endpoints.", nil, 2
	case errors.Is(err, pool.ErrNoProber):
		return "ERR_OPERATION_FAILED", message, "", nil, 2
	case errors.Is(err, pool.ErrSlotNotFound):
		return "ERR_NOT_FOUND", message, "Run `kiln pool status` to see live slots.", map[string]any{"resource": "slot"}, 1
	case errors.Is(err, pool.ErrUnknownModel):
		return "ERR_NOT_FOUND", message, "Run `kiln pool status` to see discovered models.", map[string]any{"resource": "model"}, 1
	case errors.Is(err, pipeline.ErrPipelineNotFound):
		return "ERR_NOT_FOUND", message, "", map[string]any{"resource": "pipeline"}, 1
	case errors.Is(err, pipeline.ErrStepNotFound):
		return "ERR_NOT_FOUND", message, "", map[string]any{"resource": "step"}, 1
	case errors.Is(err, db.ErrOutcomeNotFound):
		return "ERR_NOT_FOUND", message, "Run `kiln history` to see archived outcomes.", map[string]any{"resource": "outcome"}, 1
	case errors.Is(err, vault.ErrKeyNotFound):
		return "ERR_NOT_FOUND", message, "Run `kiln vault ls` to see stored names.", map[string]any{"resource": "secret"}, 1
	case errors.Is(err, vault.ErrBadPassword),
		errors.Is(err, vault.ErrLocked),
		errors.Is(err, vault.ErrNotInitialized),
		errors.Is(err, vault.ErrAlreadyExists),
		errors.Is(err, vault.ErrCorrupted):
		return "ERR_VAULT", message, "", nil, 1
	}

	lower := strings.ToLower(message)

	switch {
	case strings.Contains(lower, "not found"):
		code = "ERR_NOT_FOUND"
	case strings.Contains(lower, "already exists"):
		code = "ERR_EXISTS"
	case strings.Contains(lower, "unknown flag"):
		code = "ERR_INVALID_FLAG"
	case strings.Contains(lower, "invalid") || strings.Contains(lower, "required") || strings.Contains(lower, "usage") || strings.Contains(lower, "must"):
		code = "ERR_INVALID"
	case strings.Contains(lower, "permission denied") || strings.Contains(lower, "timeout") || strings.Contains(lower, "connection"):
		code = "ERR_OPERATION_FAILED"
		exitCode = 2
	case strings.Contains(lower, "failed to") || strings.Contains(lower, "unable to"):
		code = "ERR_OPERATION_FAILED"
		exitCode = 2
	default:
		code = "ERR_UNKNOWN"
	}

	return code, message, hint, details, exitCode
}
