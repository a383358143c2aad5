package task

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the referenced task id has no record.
	ErrNotFound = errors.New("task not found")

	// ErrDuplicate indicates a task with the requested id already exists.
	ErrDuplicate = errors.New("task already exists")

	// ErrValidation indicates a persisted record failed to validate.
	ErrValidation = errors.New("task record validation failed")

	// ErrLockHeld indicates another process holds the task's lock.
	ErrLockHeld = errors.New("task lock already held")
)

// TransitionError reports an illegal status change. The orchestrator treats
// these as programming errors or caller mistakes, never retries them.
type TransitionError struct {
	ID   int
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %d: invalid status transition from %q to %q", e.ID, e.From, e.To)
}

// invalidRecordf wraps ErrValidation with a formatted detail message.
func invalidRecordf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
