package models

import (
	"time"
)

// GenerationOutcome records how one generation task went. Outcomes feed
// the scorer; tri-state fields stay nil when the signal was never
// observed, which is different from false.
type GenerationOutcome struct {
	// ID is the unique identifier for the outcome.
	ID string `json:"id"`

	// Model is the model that ran the task.
	Model string `json:"model"`

	// TaskType categorizes the task.
	TaskType TaskType `json:"task_type"`

	// Tier is the tier the model was mapped to when the task ran.
	// Empty when the caller had no mapping.
	Tier ModelTier `json:"tier,omitempty"`

	// QualityScore grades the result from 0 to 100.
	QualityScore int `json:"quality_score"`

	// Duration is how long the task took end to end.
	Duration time.Duration `json:"duration"`

	// TokensUsed is the token count the generation consumed.
	TokensUsed int64 `json:"tokens_used"`

	// TestsPassed is whether generated code passed tests, when known.
	TestsPassed *bool `json:"tests_passed,omitempty"`

	// UserAccepted is whether the user kept the result, when known.
	UserAccepted *bool `json:"user_accepted,omitempty"`

	// ErrorCount is how many errors the task hit along the way.
	ErrorCount int `json:"error_count"`

	// RefinementRounds counts follow-up passes the result needed.
	RefinementRounds int `json:"refinement_rounds"`

	// Timestamp is when the task finished.
	Timestamp time.Time `json:"timestamp"`
}

// Success reports whether the outcome counts as a success: the user
// accepted it, or tests passed and quality cleared the bar.
func (o *GenerationOutcome) Success() bool {
	if o.UserAccepted != nil && *o.UserAccepted {
		return true
	}
	return o.TestsPassed != nil && *o.TestsPassed && o.QualityScore > 60
}

// Validate checks required outcome fields.
func (o *GenerationOutcome) Validate() error {
	if o.Model == "" {
		return ErrInvalidModelName
	}
	if !o.TaskType.Valid() {
		return ErrInvalidTaskType
	}
	if o.Tier != "" && !o.Tier.Valid() {
		return ErrInvalidTier
	}
	if o.QualityScore < 0 || o.QualityScore > 100 {
		return ErrInvalidQualityScore
	}
	if o.Duration < 0 {
		return ErrInvalidDuration
	}
	return nil
}

// ModelScore is the learned aggregate for one (model, task type) pair.
// Component rates are weighted by outcome recency.
type ModelScore struct {
	// Model is the model being scored.
	Model string `json:"model"`

	// TaskType is the task category the score applies to.
	TaskType TaskType `json:"task_type"`

	// SampleCount is how many outcomes back the score.
	SampleCount int `json:"sample_count"`

	// AvgQuality is the decay-weighted mean quality, 0 to 100.
	AvgQuality float64 `json:"avg_quality"`

	// SuccessRate is the decay-weighted share of successful outcomes.
	SuccessRate float64 `json:"success_rate"`

	// SpeedScore compares durations to the pair median; 1.0 means at or
	// below median, slower outcomes pull it down.
	SpeedScore float64 `json:"speed_score"`

	// ErrorRate is the decay-weighted share of failed outcomes.
	ErrorRate float64 `json:"error_rate"`

	// RefinementRate is the decay-weighted share of outcomes that needed
	// refinement rounds.
	RefinementRate float64 `json:"refinement_rate"`

	// WeightedScore is the composite, between 0 and 1.
	WeightedScore float64 `json:"weighted_score"`

	// Confidence grows with sample count toward 1.
	Confidence float64 `json:"confidence"`

	// LastUpdated is when the score was last recalculated.
	LastUpdated time.Time `json:"last_updated"`
}

// EffectiveScore shrinks low-confidence scores toward the neutral 0.5 so
// a single lucky sample cannot dominate ranking.
func (s *ModelScore) EffectiveScore() float64 {
	return s.WeightedScore*s.Confidence + (1-s.Confidence)*0.5
}

// RecommendationAction says what to do with a model assignment.
type RecommendationAction string

const (
	ActionKeep      RecommendationAction = "keep"
	ActionUpgrade   RecommendationAction = "upgrade"
	ActionDowngrade RecommendationAction = "downgrade"
)

// Recommendation suggests keeping or switching a model's tier for a task
// type, based on learned scores.
type Recommendation struct {
	// Model is the model the recommendation is about.
	Model string `json:"model"`

	// TaskType is the task category examined.
	TaskType TaskType `json:"task_type"`

	// CurrentTier is the tier the model maps to today.
	CurrentTier ModelTier `json:"current_tier"`

	// Action is keep, upgrade, or downgrade.
	Action RecommendationAction `json:"action"`

	// SuggestedTier is set when Action is not keep.
	SuggestedTier ModelTier `json:"suggested_tier,omitempty"`

	// Reason explains the recommendation.
	Reason string `json:"reason"`
}
