package orchestrator

import (
	"context"
	"time"

	"github.com/aristath/taskcore/internal/scheduler"
)

// Transition is one recorded status change.
type Transition struct {
	TaskID   string
	From     scheduler.Status
	To       scheduler.Status
	Priority int // Priority after the transition
	Detail   string
	At       time.Time
}

// Journal records run history for audit. Journal errors are logged and
// never affect dispatch. Records are written even after the cycle context
// is cancelled.
type Journal interface {
	RecordTask(ctx context.Context, runID string, task scheduler.Task) error
	RecordTransition(ctx context.Context, runID string, tr Transition) error
	RecordCycle(ctx context.Context, runID string, report CycleReport) error
}

func (o *Orchestrator) recordTask(ctx context.Context, task *scheduler.Task) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordTask(context.WithoutCancel(ctx), o.runID, *task); err != nil {
		o.logger.Warn("journal: failed to record task", "task_id", task.ID, "error", err)
	}
}

func (o *Orchestrator) recordTransition(ctx context.Context, taskID string, from, to scheduler.Status, detail string) {
	if o.journal == nil {
		return
	}
	tr := Transition{TaskID: taskID, From: from, To: to, Detail: detail, At: o.now()}
	if task, err := o.registry.Get(taskID); err == nil {
		tr.Priority = task.Priority
	}
	if err := o.journal.RecordTransition(context.WithoutCancel(ctx), o.runID, tr); err != nil {
		o.logger.Warn("journal: failed to record transition", "task_id", taskID, "error", err)
	}
}

func (o *Orchestrator) recordCycle(ctx context.Context, report *CycleReport) {
	if o.journal == nil {
		return
	}
	if err := o.journal.RecordCycle(context.WithoutCancel(ctx), o.runID, *report); err != nil {
		o.logger.Warn("journal: failed to record cycle", "cycle", report.Cycle, "error", err)
	}
}
