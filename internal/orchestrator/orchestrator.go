// Package orchestrator runs the dispatch cycle: it promotes eligible tasks,
// ranks them, reserves resources, executes payloads on a bounded worker
// pool, and feeds outcomes back into task state and priorities.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/logging"
	"github.com/aristath/taskcore/internal/metrics"
	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/resource"
	"github.com/aristath/taskcore/internal/scheduler"
)

// TaskSpec describes a task at submission time.
type TaskSpec struct {
	ID          string
	Description string
	DependsOn   []string
	Condition   string // Failure tag consulted when deciding to reroute
	Tags        []string
	Resources   resource.Pool
	Timeout     time.Duration
	Supersedes  string // Failed task this one remediates
	Priority    *int   // Explicit initial priority; computed by rules when nil
	Payload     scheduler.Payload
}

// Orchestrator owns every piece of mutable scheduling state for one run.
type Orchestrator struct {
	registry *scheduler.Registry
	resolver *scheduler.Resolver

	// cycleMu serializes RunCycle and Configure
	cycleMu sync.Mutex
	cycle   int

	mu        sync.RWMutex
	cfg       Config
	engine    *priority.Engine
	allocator *resource.Allocator
	feedback  *FeedbackLoop

	runningMu sync.Mutex
	running   map[string]context.CancelCauseFunc

	runID    string
	logger   *slog.Logger
	bus      *events.Bus
	metrics  *metrics.Metrics
	journal  Journal
	provider FeedbackProvider
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithEvents publishes lifecycle events on bus.
func WithEvents(bus *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithMetrics records Prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithJournal records run history.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// WithFeedbackProvider installs the optional real-time signal source.
func WithFeedbackProvider(p FeedbackProvider) Option {
	return func(o *Orchestrator) { o.provider = p }
}

// WithRunID overrides the generated run identifier.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// New creates an orchestrator. An invalid config returns an error.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	reg := scheduler.NewRegistry()
	o := &Orchestrator{
		registry: reg,
		resolver: scheduler.NewResolver(reg),
		running:  make(map[string]context.CancelCauseFunc),
		runID:    uuid.NewString(),
		logger:   logging.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("run_id", o.runID)

	if err := o.apply(cfg); err != nil {
		return nil, err
	}
	return o, nil
}

// RunID identifies this orchestrator's run in logs, events, and the journal.
func (o *Orchestrator) RunID() string {
	return o.runID
}

// Configure replaces the configuration. It waits for an in-flight cycle to
// finish, so no allocation is outstanding when the pool is rebuilt.
// Changing priority rules resets the learned bonus table.
func (o *Orchestrator) Configure(cfg Config) error {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	return o.apply(cfg)
}

func (o *Orchestrator) apply(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	engine, err := priority.NewEngine(cfg.Priority)
	if err != nil {
		return err
	}
	alloc := resource.NewAllocator(cfg.ResourcePool)

	fl := &FeedbackLoop{
		registry: o.registry,
		engine:   engine,
		cfg:      cfg,
		logger:   o.logger,
		metrics:  o.metrics,
	}
	if o.provider != nil {
		fl.provider = newGuardedProvider(o.provider, cfg.Feedback, o.logger)
	}

	o.mu.Lock()
	o.cfg = cfg
	o.engine = engine
	o.allocator = alloc
	o.feedback = fl
	o.mu.Unlock()

	o.clampPriorities(engine)

	for _, u := range alloc.Usage() {
		o.metrics.SetResource(u.Type, u.Capacity, u.Available)
	}
	o.logger.Info("orchestrator configured",
		"max_workers", cfg.MaxWorkers,
		"resources", cfg.ResourcePool.String(),
		"rules", len(cfg.Priority.Rules))
	return nil
}

// clampPriorities keeps every stored priority inside the engine's bounds
// after the bounds change.
func (o *Orchestrator) clampPriorities(engine *priority.Engine) {
	for _, t := range o.registry.Tasks() {
		p := engine.Clamp(t.Priority)
		if p == t.Priority {
			continue
		}
		if err := o.registry.SetPriority(t.ID, p); err != nil {
			continue
		}
		o.logger.Debug("priority clamped to new bounds", "task_id", t.ID, "from", t.Priority, "to", p)
	}
}

func (o *Orchestrator) state() (Config, *priority.Engine, *resource.Allocator, *FeedbackLoop) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg, o.engine, o.allocator, o.feedback
}

// Submit registers one task. It fails with *scheduler.DuplicateIDError or
// *scheduler.CyclicDependencyError and leaves no partial state.
func (o *Orchestrator) Submit(spec TaskSpec) error {
	return o.SubmitAll(spec)
}

// SubmitAll registers a batch atomically: either every task is stored or
// none is.
func (o *Orchestrator) SubmitAll(specs ...TaskSpec) error {
	_, engine, _, _ := o.state()

	tasks := make([]*scheduler.Task, 0, len(specs))
	for _, spec := range specs {
		task := spec.task()
		if spec.Priority != nil {
			task.Priority = engine.Clamp(*spec.Priority)
		} else {
			task.Priority = engine.Compute(task)
		}
		tasks = append(tasks, task)
	}

	if err := o.resolver.Submit(tasks...); err != nil {
		return fmt.Errorf("submit rejected: %w", err)
	}

	ctx := context.Background()
	for _, t := range tasks {
		stored, err := o.registry.Get(t.ID)
		if err != nil {
			continue
		}
		o.logger.Debug("task submitted", "task_id", t.ID, "priority", stored.Priority, "depends_on", stored.DependsOn)
		o.recordTask(ctx, stored)
	}
	return nil
}

func (s TaskSpec) task() *scheduler.Task {
	return &scheduler.Task{
		ID:          s.ID,
		Description: s.Description,
		DependsOn:   s.DependsOn,
		Condition:   s.Condition,
		Tags:        s.Tags,
		Resources:   s.Resources,
		Timeout:     s.Timeout,
		Supersedes:  s.Supersedes,
		Payload:     s.Payload,
	}
}

// GetStatus returns the task's current status or *scheduler.NotFoundError.
// It never mutates state.
func (o *Orchestrator) GetStatus(id string) (scheduler.Status, error) {
	return o.registry.Status(id)
}

// Task returns a snapshot of one task.
func (o *Orchestrator) Task(id string) (*scheduler.Task, error) {
	return o.registry.Get(id)
}

// Tasks returns snapshots of every task in submission order.
func (o *Orchestrator) Tasks() []*scheduler.Task {
	return o.registry.Tasks()
}

// Unresolved maps each waiting task to its unsatisfied dependencies.
func (o *Orchestrator) Unresolved() map[string][]string {
	return o.resolver.Unresolved()
}

// Cancel stops a task. A task not yet executing becomes Cancelled at once.
// An executing task has its context cancelled and is finalized as
// Cancelled when its worker returns. Cancelling a finished task returns
// *scheduler.InvalidTransitionError.
func (o *Orchestrator) Cancel(id string) error {
	prev, err := o.registry.Transition(id, scheduler.StatusCancelled,
		scheduler.StatusPending, scheduler.StatusWaiting, scheduler.StatusReady)
	if err == nil {
		o.logger.Info("task cancelled", "task_id", id, "from", prev.String())
		o.recordTransition(context.Background(), id, prev, scheduler.StatusCancelled, "cancelled before execution")
		o.bus.Publish(events.TaskCancelled{ID: id, Timestamp: o.now()})
		return nil
	}

	var inv *scheduler.InvalidTransitionError
	if errors.As(err, &inv) && inv.From == scheduler.StatusExecuting {
		o.runningMu.Lock()
		cancel := o.running[id]
		o.runningMu.Unlock()
		if cancel != nil {
			cancel(scheduler.ErrCancelled)
		}
		o.logger.Info("cancellation requested for executing task", "task_id", id)
		return nil
	}
	return err
}

// Usage reports resource availability and task counts per status.
func (o *Orchestrator) Usage() UsageReport {
	_, _, alloc, _ := o.state()

	counts := make(map[string]int)
	for status, n := range o.registry.Counts() {
		counts[status.String()] = n
	}
	held := make(map[string]resource.Pool)
	for _, t := range o.registry.ListByStatus(scheduler.StatusExecuting) {
		if p, ok := alloc.Held(t.ID); ok {
			held[t.ID] = p
		}
	}
	return UsageReport{Resources: alloc.Usage(), Tasks: counts, Held: held}
}

// Run calls RunCycle until a cycle makes no progress, ctx is cancelled, or
// maxCycles cycles have run (maxCycles <= 0 means no limit).
func (o *Orchestrator) Run(ctx context.Context, maxCycles int) ([]*CycleReport, error) {
	var reports []*CycleReport
	for n := 0; maxCycles <= 0 || n < maxCycles; n++ {
		report, err := o.RunCycle(ctx)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
		if !report.Progress() {
			break
		}
	}
	return reports, nil
}
