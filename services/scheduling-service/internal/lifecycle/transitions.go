package lifecycle

import (
	"github.com/peterlianpi/appointment-scheduler-sub001/services/scheduling-service/internal/model"
)

// allowedTransitions is the full edge set of the lifecycle state machine.
// Terminal states (cancelled, completed) have no outgoing edges.
var allowedTransitions = map[model.Status][]model.Status{
	model.StatusScheduled:   {model.StatusConfirmed, model.StatusRescheduled, model.StatusCancelled, model.StatusCompleted},
	model.StatusConfirmed:   {model.StatusRescheduled, model.StatusCancelled, model.StatusCompleted},
	model.StatusRescheduled: {model.StatusRescheduled, model.StatusCancelled, model.StatusCompleted},
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to model.Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to model.Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{Current: from, Requested: to}
	}
	return nil
}
