package models

import (
	"time"
)

// Role pins a slot to a stage of the build loop. A slot with RoleAny can
// serve any stage.
type Role string

const (
	RolePlanner  Role = "planner"
	RoleBuilder  Role = "builder"
	RoleReviewer Role = "reviewer"
	RoleAny      Role = "any"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePlanner, RoleBuilder, RoleReviewer, RoleAny:
		return true
	}
	return false
}

// ModelTier buckets models by cost and capability.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierBalanced ModelTier = "balanced"
	TierPowerful ModelTier = "powerful"
)

// Valid reports whether t is a known tier.
func (t ModelTier) Valid() bool {
	switch t {
	case TierFast, TierBalanced, TierPowerful:
		return true
	}
	return false
}

// Rank orders tiers by capability: fast < balanced < powerful.
// Unknown tiers rank below fast.
func (t ModelTier) Rank() int {
	switch t {
	case TierFast:
		return 1
	case TierBalanced:
		return 2
	case TierPowerful:
		return 3
	}
	return 0
}

// TaskType categorizes what a generation task asks of a model.
type TaskType string

const (
	TaskFormat   TaskType = "format"
	TaskComplete TaskType = "complete"
	TaskGenerate TaskType = "generate"
	TaskRefactor TaskType = "refactor"
	TaskDebug    TaskType = "debug"
	TaskExplain  TaskType = "explain"
	TaskPlan     TaskType = "plan"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskFormat, TaskComplete, TaskGenerate, TaskRefactor, TaskDebug, TaskExplain, TaskPlan:
		return true
	}
	return false
}

// TaskTypes lists all known task types in a stable order.
func TaskTypes() []TaskType {
	return []TaskType{
		TaskFormat, TaskComplete, TaskGenerate,
		TaskRefactor, TaskDebug, TaskExplain, TaskPlan,
	}
}

// ModelSlot is one loaded model on one inference endpoint. The roster of
// slots is rebuilt by discovery and lives only in memory.
type ModelSlot struct {
	// ID is the unique identifier for the slot.
	ID string `json:"id"`

	// Model is the model name as reported by the endpoint.
	Model string `json:"model"`

	// Endpoint is the base URL of the serving endpoint.
	Endpoint string `json:"endpoint"`

	// Role pins the slot to a build stage. RoleAny serves any stage.
	Role Role `json:"role"`

	// Busy is true while a task holds the slot.
	Busy bool `json:"busy"`

	// TaskLabel describes the task currently holding the slot.
	TaskLabel string `json:"task_label,omitempty"`

	// CompletedTasks counts released tasks over the slot's lifetime.
	CompletedTasks int `json:"completed_tasks"`

	// TotalTokens accumulates tokens processed across completed tasks.
	TotalTokens int64 `json:"total_tokens"`

	// AvgLatency is the rolling mean task duration.
	AvgLatency time.Duration `json:"avg_latency"`

	// LastUsed is when the slot last finished a task. Zero until then.
	LastUsed time.Time `json:"last_used,omitempty"`
}

// Validate checks required slot fields.
func (s *ModelSlot) Validate() error {
	if s.Model == "" {
		return ErrInvalidModelName
	}
	if s.Endpoint == "" {
		return ErrInvalidEndpoint
	}
	if !s.Role.Valid() {
		return ErrInvalidRole
	}
	return nil
}
