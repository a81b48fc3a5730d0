package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/resource"
	"github.com/aristath/taskcore/internal/scheduler"
)

// RunCycle runs one dispatch cycle and returns after every task it
// dispatched has reached a terminal status. Per-task failures appear in the
// report; the returned error is only ever the cycle context's error.
func (o *Orchestrator) RunCycle(ctx context.Context) (*CycleReport, error) {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, _, alloc, fl := o.state()
	o.cycle++
	start := o.now()
	report := &CycleReport{
		RunID:     o.runID,
		Cycle:     o.cycle,
		Denials:   make(map[string]resource.Pool),
		Failures:  make(map[string]error),
		StartedAt: start,
	}
	logger := o.logger.With("cycle", o.cycle)

	// 1. Promote
	report.Promoted = o.resolver.Promote()
	for _, id := range report.Promoted {
		o.recordTransition(ctx, id, scheduler.StatusWaiting, scheduler.StatusReady, "dependencies satisfied")
	}

	// 2. Rank
	ready := priority.Rank(o.registry.ListByStatus(scheduler.StatusReady))

	// Outcomes are finalized on one goroutine that outlives cycle cancellation
	fctx, stopFinalizer := context.WithCancel(context.WithoutCancel(ctx))
	fin := newFinalizer(cfg.MaxWorkers*2, fl.OnOutcome)
	fin.Start(fctx)

	var (
		mu    sync.Mutex
		order = make(map[string]int)
	)
	collect := func(task *scheduler.Task, d Decision, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch d.Status {
		case scheduler.StatusExecuted:
			report.Executed = append(report.Executed, task.ID)
		case scheduler.StatusError:
			report.Errored = append(report.Errored, task.ID)
			report.Failures[task.ID] = err
		case scheduler.StatusRerouted:
			report.Rerouted = append(report.Rerouted, task.ID)
			report.Failures[task.ID] = err
		case scheduler.StatusCancelled:
			report.Cancelled = append(report.Cancelled, task.ID)
		}
	}

	// 3. Reserve against the pool as it stands at the start of the cycle.
	// Resources freed by tasks finishing mid-cycle are seen next cycle.
	type dispatched struct {
		task   *scheduler.Task
		ctx    context.Context
		cancel context.CancelCauseFunc
	}
	var batch []dispatched

	for _, task := range ready {
		if ctx.Err() != nil {
			break
		}

		_, denial := alloc.Request(task.ID, task.Resources)
		if denial != nil {
			report.SkippedForResources = append(report.SkippedForResources, task.ID)
			report.Denials[task.ID] = denial.Shortfall
			o.metrics.ObserveDenial(denial.Shortfall)
			o.bus.Publish(events.TaskSkipped{ID: task.ID, Shortfall: denial.Shortfall, Timestamp: o.now()})
			if !alloc.Fits(task.Resources) {
				report.Unsatisfiable = append(report.Unsatisfiable, task.ID)
				logger.Warn("task demand exceeds pool capacity", "task_id", task.ID, "demand", resource.Pool(task.Resources).String())
				continue
			}
			logger.Debug("task skipped for resources", "task_id", task.ID, "shortfall", denial.Shortfall.String())
			continue
		}

		taskCtx, cancel := context.WithCancelCause(ctx)
		o.track(task.ID, cancel)

		if err := o.registry.MarkExecuting(task.ID); err != nil {
			// Cancelled between ranking and dispatch
			o.untrack(task.ID)
			cancel(scheduler.ErrCancelled)
			alloc.Release(task.ID)
			logger.Debug("task no longer ready", "task_id", task.ID, "error", err)
			continue
		}

		order[task.ID] = len(report.Dispatched)
		report.Dispatched = append(report.Dispatched, task.ID)
		batch = append(batch, dispatched{task: task, ctx: taskCtx, cancel: cancel})

		o.recordTransition(ctx, task.ID, scheduler.StatusReady, scheduler.StatusExecuting, "")
		o.metrics.ObserveDispatch()
		o.bus.Publish(events.TaskDispatched{ID: task.ID, Priority: task.Priority, Resources: task.Resources, Timestamp: o.now()})
		logger.Info("task dispatched", "task_id", task.ID, "priority", task.Priority)
	}

	// 4. Execute on a bounded pool. g.Go blocks while the pool is saturated.
	g := new(errgroup.Group)
	g.SetLimit(cfg.MaxWorkers)

	for _, item := range batch {
		item := item
		g.Go(func() error {
			t := item.task

			// 6. Release exactly once, whatever the outcome
			defer alloc.Release(t.ID)
			defer o.metrics.ObserveWorkerDone()
			defer item.cancel(nil)
			defer o.untrack(t.ID)

			// 5. Execute with failures captured. A task still queued when the
			// cycle is cancelled never starts.
			var outcome Outcome
			if err := item.ctx.Err(); err != nil {
				outcome = interrupted(item.ctx, t.ID)
				outcome.Cancelled = true
			} else {
				execCtx, stop := withTaskTimeout(item.ctx, t, cfg.TaskTimeout)
				outcome = o.execute(execCtx, t)
				stop()
			}

			d, err := fin.Finalize(ctx, t, outcome)
			if err != nil {
				logger.Error("failed to finalize task", "task_id", t.ID, "error", err)
				return nil
			}
			o.afterFinalize(ctx, t, outcome, d)
			collect(t, d, outcome.Err)
			return nil // Task errors are tracked in the registry, not returned here
		})
	}

	_ = g.Wait()
	stopFinalizer()
	fin.Stop()

	sortByDispatch(report.Executed, order)
	sortByDispatch(report.Errored, order)
	sortByDispatch(report.Rerouted, order)
	sortByDispatch(report.Cancelled, order)

	report.Duration = o.now().Sub(start)
	o.finishCycle(ctx, report, alloc)

	logger.Info("cycle completed",
		"promoted", len(report.Promoted),
		"dispatched", len(report.Dispatched),
		"executed", len(report.Executed),
		"errored", len(report.Errored),
		"rerouted", len(report.Rerouted),
		"skipped", len(report.SkippedForResources),
		"duration", report.Duration)

	return report, ctx.Err()
}

// withTaskTimeout bounds execution by the task's timeout, or by fallback
// when the task sets none. The clock starts when the worker picks the task
// up, not while it waits for a slot. Timeout and cancellation are told
// apart by the context cause.
func withTaskTimeout(ctx context.Context, task *scheduler.Task, fallback time.Duration) (context.Context, context.CancelFunc) {
	timeout := task.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeoutCause(ctx, timeout, scheduler.ErrTimeout)
}

func (o *Orchestrator) track(id string, cancel context.CancelCauseFunc) {
	o.runningMu.Lock()
	o.running[id] = cancel
	o.runningMu.Unlock()
}

func (o *Orchestrator) untrack(id string) {
	o.runningMu.Lock()
	delete(o.running, id)
	o.runningMu.Unlock()
}

// execute runs the payload on its own goroutine and waits for it or for
// the task context. A payload that ignores its context after a timeout or
// cancellation is abandoned; its eventual result is discarded.
func (o *Orchestrator) execute(ctx context.Context, task *scheduler.Task) Outcome {
	start := o.now()
	if task.Payload == nil {
		return Outcome{Duration: o.now().Sub(start)}
	}

	done := make(chan Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Outcome{Err: &scheduler.ExecutionFailure{
					TaskID: task.ID,
					Err:    fmt.Errorf("payload panicked: %v", r),
					Panic:  r,
				}}
			}
		}()

		result, err := task.Payload(ctx)
		if err != nil {
			done <- Outcome{Err: &scheduler.ExecutionFailure{TaskID: task.ID, Err: err}}
			return
		}
		done <- Outcome{Result: result}
	}()

	var out Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		// Prefer a result that raced with the deadline
		select {
		case out = <-done:
		default:
			out = interrupted(ctx, task.ID)
		}
	}

	// A payload that returns the context error still reports why it stopped
	if out.Err != nil && ctx.Err() != nil {
		cause := context.Cause(ctx)
		if errors.Is(cause, scheduler.ErrCancelled) || errors.Is(cause, context.Canceled) {
			out.Cancelled = true
			out.Err = &scheduler.ExecutionFailure{TaskID: task.ID, Err: cause}
		} else if errors.Is(cause, scheduler.ErrTimeout) && !scheduler.IsTimeout(out.Err) {
			inner := out.Err
			var ef *scheduler.ExecutionFailure
			if errors.As(out.Err, &ef) {
				inner = ef.Err
			}
			out.Err = &scheduler.ExecutionFailure{TaskID: task.ID, Err: fmt.Errorf("%w: %w", scheduler.ErrTimeout, inner)}
		}
	}

	out.Duration = o.now().Sub(start)
	return out
}

func interrupted(ctx context.Context, taskID string) Outcome {
	cause := context.Cause(ctx)
	if errors.Is(cause, scheduler.ErrTimeout) {
		return Outcome{Err: &scheduler.ExecutionFailure{TaskID: taskID, Err: scheduler.ErrTimeout}}
	}
	return Outcome{Err: &scheduler.ExecutionFailure{TaskID: taskID, Err: cause}}
}

// afterFinalize publishes the task's terminal status.
func (o *Orchestrator) afterFinalize(ctx context.Context, task *scheduler.Task, out Outcome, d Decision) {
	now := o.now()
	detail := ""
	if out.Err != nil {
		detail = out.Err.Error()
	}
	o.recordTransition(ctx, task.ID, scheduler.StatusExecuting, d.Status, detail)
	o.metrics.ObserveOutcome(d.Status.String(), out.Duration)

	switch d.Status {
	case scheduler.StatusExecuted:
		o.bus.Publish(events.TaskExecuted{ID: task.ID, Priority: d.Priority, Duration: out.Duration, Timestamp: now})
	case scheduler.StatusError:
		o.logger.Warn("task failed", "task_id", task.ID, "error", out.Err)
		o.bus.Publish(events.TaskErrored{ID: task.ID, Err: out.Err, Priority: d.Priority, Duration: out.Duration, Timestamp: now})
	case scheduler.StatusRerouted:
		o.logger.Warn("task rerouted", "task_id", task.ID, "condition", task.Condition, "error", out.Err)
		o.bus.Publish(events.TaskRerouted{
			ID:        task.ID,
			Condition: task.Condition,
			Err:       out.Err,
			Waiting:   o.registry.Dependents(task.ID),
			Timestamp: now,
		})
	case scheduler.StatusCancelled:
		o.bus.Publish(events.TaskCancelled{ID: task.ID, Running: true, Timestamp: now})
	}
}

func (o *Orchestrator) finishCycle(ctx context.Context, report *CycleReport, alloc *resource.Allocator) {
	o.metrics.ObserveCycle(report.Duration)
	for _, u := range alloc.Usage() {
		o.metrics.SetResource(u.Type, u.Capacity, u.Available)
	}
	counts := make(map[string]int)
	for status, n := range o.registry.Counts() {
		counts[status.String()] = n
	}
	o.metrics.SetTaskCounts(counts)

	o.recordCycle(ctx, report)
	o.bus.Publish(events.CycleCompleted{
		RunID:      report.RunID,
		Cycle:      report.Cycle,
		Promoted:   len(report.Promoted),
		Dispatched: len(report.Dispatched),
		Executed:   len(report.Executed),
		Errored:    len(report.Errored),
		Rerouted:   len(report.Rerouted),
		Skipped:    len(report.SkippedForResources),
		Duration:   report.Duration,
		Timestamp:  o.now(),
	})
}

func sortByDispatch(ids []string, order map[string]int) {
	sort.Slice(ids, func(i, j int) bool { return order[ids[i]] < order[ids[j]] })
}
