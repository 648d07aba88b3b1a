package engine

import (
	"github.com/tasklane/be-workflows/internal/platform/errors"
	"github.com/tasklane/be-workflows/internal/repository"
)

// transitions lists the legal source statuses for each target status. An
// assignment only ever moves forward; completed and skipped are terminal and
// immutable.
var transitions = map[repository.AssignmentStatus][]repository.AssignmentStatus{
	repository.AssignmentInProgress: {repository.AssignmentPending},
	repository.AssignmentCompleted:  {repository.AssignmentPending, repository.AssignmentInProgress},
	repository.AssignmentSkipped:    {repository.AssignmentPending, repository.AssignmentInProgress},
}

// AllowedFrom returns the source statuses from which the target status may be
// entered. Used by callers to build compare-and-set preconditions.
func AllowedFrom(to repository.AssignmentStatus) ([]repository.AssignmentStatus, error) {
	from, ok := transitions[to]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "unknown target status %q", to)
	}
	return from, nil
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to repository.AssignmentStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// CheckTransition returns an InvalidTransition error when from -> to is not
// legal for the given assignment.
func CheckTransition(assignmentID string, from, to repository.AssignmentStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return errors.InvalidTransition(assignmentID, string(from), string(to))
}
