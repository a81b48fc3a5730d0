package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout marks an execution that exceeded its per-task timeout.
	ErrTimeout = errors.New("task execution timed out")

	// ErrCancelled marks an execution stopped by Cancel.
	ErrCancelled = errors.New("task cancelled")

	// ErrEmptyID is returned when a task is submitted without an ID.
	ErrEmptyID = errors.New("task ID must not be empty")
)

// DuplicateIDError is returned when a task ID is already registered.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("task with ID %q already exists", e.ID)
}

// NotFoundError is returned when a task ID is not registered.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("task %q not found", e.ID)
}

// CyclicDependencyError is returned when a submission would close a
// dependency cycle. Path lists the tasks involved when known.
type CyclicDependencyError struct {
	ID   string
	Path []string
	Err  error
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Path) > 0 {
		return fmt.Sprintf("task %q creates dependency cycle: %s", e.ID, strings.Join(e.Path, " -> "))
	}
	return fmt.Sprintf("task %q creates dependency cycle", e.ID)
}

func (e *CyclicDependencyError) Unwrap() error { return e.Err }

// InvalidTransitionError is returned when a status change is not allowed
// from the task's current status.
type InvalidTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %q cannot move from %s to %s", e.ID, e.From, e.To)
}

// InvalidRemediationError is returned when Supersedes names a task that
// cannot be remediated.
type InvalidRemediationError struct {
	ID         string
	Supersedes string
	Reason     string
}

func (e *InvalidRemediationError) Error() string {
	return fmt.Sprintf("task %q cannot supersede %q: %s", e.ID, e.Supersedes, e.Reason)
}

// ExecutionFailure captures a failed payload execution. It never escapes
// the dispatcher; it is stored on the task and reported per cycle.
type ExecutionFailure struct {
	TaskID string
	Err    error
	Panic  any // Recovered panic value, if the payload panicked
}

func (e *ExecutionFailure) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("task %q panicked: %v", e.TaskID, e.Panic)
	}
	return fmt.Sprintf("task %q failed: %v", e.TaskID, e.Err)
}

func (e *ExecutionFailure) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a timed-out execution.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
