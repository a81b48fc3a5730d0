package orchestrator

import (
	"time"

	"github.com/aristath/taskcore/internal/resource"
)

// CycleReport enumerates what happened to every task a cycle touched.
// Outcome lists are ordered by dispatch order.
type CycleReport struct {
	RunID string
	Cycle int

	Promoted            []string // Moved to Ready at the start of the cycle
	Dispatched          []string // Granted resources and handed to the pool
	Executed            []string
	Errored             []string
	Rerouted            []string
	Cancelled           []string // Cancelled while executing
	SkippedForResources []string // Ready but denied resources; stay Ready
	Unsatisfiable       []string // Skipped tasks whose demand exceeds total capacity

	Denials  map[string]resource.Pool // Shortfall per skipped task
	Failures map[string]error         // Failure per errored or rerouted task

	StartedAt time.Time
	Duration  time.Duration
}

// Progress reports whether the cycle promoted or dispatched anything.
func (r *CycleReport) Progress() bool {
	return len(r.Promoted) > 0 || len(r.Dispatched) > 0
}

// Finished returns the number of tasks the cycle drove to a terminal status.
func (r *CycleReport) Finished() int {
	return len(r.Executed) + len(r.Errored) + len(r.Rerouted) + len(r.Cancelled)
}

// UsageReport is a point-in-time view of the resource pool and task states.
type UsageReport struct {
	Resources []resource.Usage
	Tasks     map[string]int           // Status name -> count
	Held      map[string]resource.Pool // Grant per executing task
}
