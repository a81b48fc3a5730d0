package orchestrator

import (
	"context"

	"github.com/aristath/taskcore/internal/scheduler"
)

// finalizeRequest carries one worker's outcome to the feedback loop.
type finalizeRequest struct {
	ctx     context.Context
	task    *scheduler.Task
	outcome Outcome
	reply   chan finalizeReply
}

type finalizeReply struct {
	decision Decision
	err      error
}

// FinalizeFunc handles one outcome. It is called from a single goroutine.
type FinalizeFunc func(ctx context.Context, task *scheduler.Task, outcome Outcome) (Decision, error)

// finalizer funnels outcomes from concurrent workers into one goroutine, so
// the feedback loop and provider see one outcome at a time while workers
// block until their task is terminal.
type finalizer struct {
	requests chan finalizeRequest
	handle   FinalizeFunc
	done     chan struct{}
}

// newFinalizer creates a finalizer. bufferSize should be at least the
// worker count so finishing workers rarely wait to enqueue.
func newFinalizer(bufferSize int, handle FinalizeFunc) *finalizer {
	return &finalizer{
		requests: make(chan finalizeRequest, bufferSize),
		handle:   handle,
		done:     make(chan struct{}),
	}
}

// Start launches the handler goroutine. It runs until ctx is cancelled.
func (f *finalizer) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *finalizer) run(ctx context.Context) {
	defer close(f.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-f.requests:
			d, err := f.handle(req.ctx, req.task, req.outcome)
			req.reply <- finalizeReply{decision: d, err: err}
		}
	}
}

// Finalize hands an outcome to the handler and waits for the decision.
// ctx is passed to the handler for provider calls; it does not bound the
// wait, so a cancelled cycle still finalizes every task it dispatched.
func (f *finalizer) Finalize(ctx context.Context, task *scheduler.Task, outcome Outcome) (Decision, error) {
	// Buffered so the handler never blocks on an abandoned reply
	reply := make(chan finalizeReply, 1)

	req := finalizeRequest{ctx: ctx, task: task, outcome: outcome, reply: reply}

	select {
	case f.requests <- req:
	case <-f.done:
		return Decision{}, context.Canceled
	}

	select {
	case r := <-reply:
		return r.decision, r.err
	case <-f.done:
		// Handler stopped; a reply may still have been sent just before.
		select {
		case r := <-reply:
			return r.decision, r.err
		default:
			return Decision{}, context.Canceled
		}
	}
}

// Stop blocks until the handler goroutine has exited.
func (f *finalizer) Stop() {
	<-f.done
}
