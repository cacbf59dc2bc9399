package pipeline

import (
	"fmt"
	"time"

	"github.com/jberon/kiln/internal/models"
)

// TransitionError is returned when an invalid step transition is
// attempted.
type TransitionError struct {
	PipelineID string
	StepID     string
	From       models.StepStatus
	To         models.StepStatus
	Reason     string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid step transition in pipeline %s: step %s: %s -> %s: %s",
		e.PipelineID, e.StepID, e.From, e.To, e.Reason)
}

// TransitionEvent describes a step transition that occurred.
type TransitionEvent struct {
	PipelineID string
	StepID     string
	Number     int
	From       models.StepStatus
	To         models.StepStatus
	Reason     string
	Timestamp  time.Time
}

// TransitionCallback is called when a step transition occurs. Callbacks
// run under the registry lock; keep them fast.
type TransitionCallback func(event TransitionEvent)

// validTransitions defines which step transitions are allowed.
// Map key is the current status, value is a set of valid targets.
// Completed and failed are terminal and never revert; completing an
// already-terminal step is an error, not a no-op, because each
// transition carries an outcome.
var validTransitions = map[models.StepStatus]map[models.StepStatus]bool{
	models.StepPending: {
		models.StepBuilding: true, // dispatched to a model
		models.StepFailed:   true, // aborted before dispatch
	},
	models.StepBuilding: {
		models.StepCompleted: true, // output accepted
		models.StepFailed:    true, // generation or health check failed
	},
}

// IsValidTransition checks whether a step transition is allowed.
func IsValidTransition(from, to models.StepStatus) bool {
	return validTransitions[from][to]
}
