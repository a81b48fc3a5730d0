package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aristath/taskcore/internal/metrics"
	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/scheduler"
)

// Outcome is what the worker pool reports for one execution.
type Outcome struct {
	Result    any
	Err       error // nil on success
	Duration  time.Duration
	Cancelled bool // Stopped by Cancel or by cancellation of the cycle
}

// Success reports whether the payload completed without error.
func (o Outcome) Success() bool {
	return o.Err == nil && !o.Cancelled
}

// FeedbackProvider supplies an optional real-time priority signal for a
// finished task. engaged=false means the provider has no opinion and the
// learning adjustment applies.
type FeedbackProvider interface {
	Feedback(ctx context.Context, task scheduler.Task, outcome Outcome) (sig priority.Signal, engaged bool, err error)
}

// FeedbackFunc adapts a function to FeedbackProvider.
type FeedbackFunc func(ctx context.Context, task scheduler.Task, outcome Outcome) (priority.Signal, bool, error)

// Feedback calls f.
func (f FeedbackFunc) Feedback(ctx context.Context, task scheduler.Task, outcome Outcome) (priority.Signal, bool, error) {
	return f(ctx, task, outcome)
}

// Decision is the result of finalizing one outcome.
type Decision struct {
	Status   scheduler.Status
	Priority int
	Source   string // "learning", "provider", "reroute", or "none"
}

// FeedbackLoop turns execution outcomes into terminal statuses and
// priority adjustments. A task's new priority is stored before its terminal
// status, so dependents never observe a half-finalized task.
type FeedbackLoop struct {
	registry *scheduler.Registry
	engine   *priority.Engine
	provider *guardedProvider
	cfg      Config
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// OnOutcome finalizes an Executing task.
func (f *FeedbackLoop) OnOutcome(ctx context.Context, task *scheduler.Task, outcome Outcome) (Decision, error) {
	d := f.decide(ctx, task, outcome)

	if err := f.registry.SetPriority(task.ID, d.Priority); err != nil {
		return d, fmt.Errorf("failed to store priority for task %q: %w", task.ID, err)
	}

	var taskErr error
	if !outcome.Success() {
		taskErr = outcome.Err
		if taskErr == nil {
			taskErr = scheduler.ErrCancelled
		}
	}
	if err := f.registry.Finish(task.ID, d.Status, outcome.Result, taskErr); err != nil {
		return d, fmt.Errorf("failed to finalize task %q: %w", task.ID, err)
	}
	return d, nil
}

func (f *FeedbackLoop) decide(ctx context.Context, task *scheduler.Task, outcome Outcome) Decision {
	logger := f.logger.With("task_id", task.ID)

	switch {
	case outcome.Cancelled:
		return Decision{Status: scheduler.StatusCancelled, Priority: task.Priority, Source: "none"}

	case outcome.Err != nil && f.shouldReroute(task, outcome.Err):
		lo, _ := f.engine.Bounds()
		return Decision{Status: scheduler.StatusRerouted, Priority: lo, Source: "reroute"}
	}

	status := scheduler.StatusExecuted
	delta := f.cfg.Feedback.LearningDelta
	reason := "success"
	if outcome.Err != nil {
		status = scheduler.StatusError
		delta = -delta
		reason = "failure"
	}

	if sig, ok := f.consult(ctx, logger, task, outcome); ok {
		return Decision{Status: status, Priority: f.engine.Adjust(task, sig), Source: "provider"}
	}

	p := f.engine.Learn(task, priority.Delta(delta, reason))
	return Decision{Status: status, Priority: p, Source: "learning"}
}

// shouldReroute applies the designated condition tags. The timeout tag
// only matches failures that actually timed out.
func (f *FeedbackLoop) shouldReroute(task *scheduler.Task, err error) bool {
	if !f.cfg.reroutes(task.Condition) {
		return false
	}
	if task.Condition == TimeoutCondition {
		return scheduler.IsTimeout(err)
	}
	return true
}

func (f *FeedbackLoop) consult(ctx context.Context, logger *slog.Logger, task *scheduler.Task, outcome Outcome) (priority.Signal, bool) {
	if f.provider == nil {
		return priority.Signal{}, false
	}

	sig, engaged, err := f.provider.Feedback(ctx, *task, outcome)
	switch {
	case err != nil:
		result := "error"
		if isBreakerOpen(err) {
			result = "open"
		}
		f.observe(result)
		logger.Warn("feedback provider failed, using learning signal", "error", err, "breaker", f.provider.State().String())
		return priority.Signal{}, false
	case !engaged:
		f.observe("skipped")
		return priority.Signal{}, false
	}

	f.observe("ok")
	logger.Debug("feedback provider engaged", "kind", sig.Kind, "value", sig.Value, "reason", sig.Reason)
	return sig, true
}

func (f *FeedbackLoop) observe(result string) {
	f.metrics.ObserveFeedback(result)
}
