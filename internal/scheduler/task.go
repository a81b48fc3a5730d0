package scheduler

import (
	"context"
	"time"
)

// Status represents the current lifecycle state of a task.
type Status int

const (
	StatusPending   Status = iota // Submitted, not yet examined by the resolver
	StatusWaiting                 // At least one dependency is not Executed
	StatusReady                   // All dependencies Executed, eligible for dispatch
	StatusExecuting               // Handed to the worker pool
	StatusExecuted                // Finished successfully
	StatusError                   // Finished with a failure
	StatusRerouted                // Failed on a designated condition, never retried
	StatusCancelled               // Cancelled by the caller
)

var statusNames = [...]string{
	StatusPending:   "Pending",
	StatusWaiting:   "Waiting",
	StatusReady:     "Ready",
	StatusExecuting: "Executing",
	StatusExecuted:  "Executed",
	StatusError:     "Error",
	StatusRerouted:  "Rerouted",
	StatusCancelled: "Cancelled",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "Unknown"
	}
	return statusNames[s]
}

// ParseStatus converts a status name back to a Status.
func ParseStatus(name string) (Status, bool) {
	for i, n := range statusNames {
		if n == name {
			return Status(i), true
		}
	}
	return 0, false
}

// Terminal reports whether no further lifecycle transitions are possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusError, StatusRerouted, StatusCancelled:
		return true
	}
	return false
}

// Payload is the opaque unit of work a task executes.
// The returned value is stored as the task result.
type Payload func(ctx context.Context) (any, error)

// Task represents a unit of work in the registry.
type Task struct {
	ID          string            // Unique identifier
	Description string            // Opaque text for callers; never interpreted
	DependsOn   []string          // Task IDs that must be Executed first
	Condition   string            // Failure tag consulted by the feedback loop
	Tags        []string          // Attributes consumed by priority rules
	Resources   map[string]int    // Resource demand per type
	Timeout     time.Duration     // Per-task execution timeout (0 = inherit)
	Supersedes  string            // ID of a failed task this one remediates
	Priority    int
	Status      Status
	Payload     Payload
	Result      any   // Payload result (populated after success)
	Err         error // Failure (populated after Error/Rerouted)

	Seq         uint64 // Submission order, assigned by the registry
	SubmittedAt time.Time
	FinishedAt  time.Time
}

// HasTag reports whether the task carries the given tag.
func (t *Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Tags != nil {
		cp.Tags = append([]string(nil), task.Tags...)
	}
	if task.Resources != nil {
		cp.Resources = make(map[string]int, len(task.Resources))
		for k, v := range task.Resources {
			cp.Resources[k] = v
		}
	}
	return &cp
}
