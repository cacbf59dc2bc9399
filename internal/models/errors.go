package models

import "errors"

// Validation errors for models
var (
	// Slot errors
	ErrInvalidModelName = errors.New("model name is required")
	ErrInvalidEndpoint  = errors.New("endpoint URL is required")
	ErrInvalidRole      = errors.New("role must be one of planner, builder, reviewer, any")
	ErrInvalidTier      = errors.New("tier must be one of fast, balanced, powerful")

	// Outcome errors
	ErrInvalidTaskType     = errors.New("task type is required")
	ErrInvalidQualityScore = errors.New("quality score must be between 0 and 100")
	ErrInvalidDuration     = errors.New("duration must not be negative")

	// Pipeline errors
	ErrInvalidProjectID       = errors.New("project ID is required")
	ErrInvalidStepDescription = errors.New("step description is required")
)
