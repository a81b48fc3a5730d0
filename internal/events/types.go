// Package events defines task and cycle lifecycle events and the bus that
// distributes them.
package events

import (
	"time"
)

// Event is implemented by every lifecycle event.
type Event interface {
	Topic() string
	EventType() string
	TaskID() string
}

const (
	TopicTask  = "task"
	TopicCycle = "cycle"
)

const (
	EventTypeTaskDispatched = "task.dispatched"
	EventTypeTaskExecuted   = "task.executed"
	EventTypeTaskErrored    = "task.errored"
	EventTypeTaskRerouted   = "task.rerouted"
	EventTypeTaskCancelled  = "task.cancelled"
	EventTypeTaskSkipped    = "task.skipped"
	EventTypeCycleCompleted = "cycle.completed"
)

// TaskDispatched is published when a task acquires resources and is handed
// to the worker pool.
type TaskDispatched struct {
	ID        string
	Priority  int
	Resources map[string]int
	Timestamp time.Time
}

func (e TaskDispatched) Topic() string     { return TopicTask }
func (e TaskDispatched) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatched) TaskID() string    { return e.ID }

// TaskExecuted is published when a task finishes successfully.
type TaskExecuted struct {
	ID        string
	Priority  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskExecuted) Topic() string     { return TopicTask }
func (e TaskExecuted) EventType() string { return EventTypeTaskExecuted }
func (e TaskExecuted) TaskID() string    { return e.ID }

// TaskErrored is published when a task fails without a reroute condition.
type TaskErrored struct {
	ID        string
	Err       error
	Priority  int
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskErrored) Topic() string     { return TopicTask }
func (e TaskErrored) EventType() string { return EventTypeTaskErrored }
func (e TaskErrored) TaskID() string    { return e.ID }

// TaskRerouted is published when a failure matched a reroute condition.
type TaskRerouted struct {
	ID        string
	Condition string
	Err       error
	Waiting   []string // Dependents left waiting on this task
	Timestamp time.Time
}

func (e TaskRerouted) Topic() string     { return TopicTask }
func (e TaskRerouted) EventType() string { return EventTypeTaskRerouted }
func (e TaskRerouted) TaskID() string    { return e.ID }

// TaskCancelled is published when a task is cancelled.
type TaskCancelled struct {
	ID        string
	Running   bool // Cancelled while executing
	Timestamp time.Time
}

func (e TaskCancelled) Topic() string     { return TopicTask }
func (e TaskCancelled) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelled) TaskID() string    { return e.ID }

// TaskSkipped is published when a Ready task is denied resources.
type TaskSkipped struct {
	ID        string
	Shortfall map[string]int
	Timestamp time.Time
}

func (e TaskSkipped) Topic() string     { return TopicTask }
func (e TaskSkipped) EventType() string { return EventTypeTaskSkipped }
func (e TaskSkipped) TaskID() string    { return e.ID }

// CycleCompleted is published after every dispatch cycle.
type CycleCompleted struct {
	RunID      string
	Cycle      int
	Promoted   int
	Dispatched int
	Executed   int
	Errored    int
	Rerouted   int
	Skipped    int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e CycleCompleted) Topic() string     { return TopicCycle }
func (e CycleCompleted) EventType() string { return EventTypeCycleCompleted }
func (e CycleCompleted) TaskID() string    { return "" }
