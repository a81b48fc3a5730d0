package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskcore/internal/config"
	"github.com/aristath/taskcore/internal/events"
	"github.com/aristath/taskcore/internal/logging"
	"github.com/aristath/taskcore/internal/metrics"
	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/payload"
	"github.com/aristath/taskcore/internal/persistence"
	"github.com/aristath/taskcore/internal/plan"
	"github.com/aristath/taskcore/internal/scheduler"
)

// errTasksFailed makes the process exit non-zero when any task did not
// execute successfully.
var errTasksFailed = errors.New("one or more tasks did not execute")

type runOptions struct {
	*rootOptions

	workers     int
	timeout     time.Duration
	dbPath      string
	metricsAddr string
	logLevel    string
	logFormat   string
	maxCycles   int
	watch       bool
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan until no further progress is possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return opts.run(ctx, cmd, args[0])
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.workers, "workers", "w", 0, "maximum concurrent tasks (overrides config)")
	f.DurationVar(&opts.timeout, "task-timeout", 0, "default per-task timeout (overrides config)")
	f.StringVar(&opts.dbPath, "db", "", "SQLite journal path (overrides config)")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	f.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	f.IntVar(&opts.maxCycles, "max-cycles", 0, "stop after this many cycles (0 = until idle)")
	f.BoolVar(&opts.watch, "watch", false, "print task events as they happen")
	return cmd
}

// override applies flags the user set on top of the loaded config.
func (o *runOptions) override(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("workers") {
		cfg.MaxWorkers = o.workers
	}
	if f.Changed("task-timeout") {
		cfg.TaskTimeout = o.timeout
	}
	if f.Changed("db") {
		cfg.Journal.Path = o.dbPath
	}
	if f.Changed("metrics-addr") {
		cfg.Metrics.Addr = o.metricsAddr
	}
	if f.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
}

func (o *runOptions) run(ctx context.Context, cmd *cobra.Command, planPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}
	o.override(cmd, cfg)

	ocfg, err := cfg.ToOrchestrator()
	if err != nil {
		return err
	}

	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return err
	}

	logger, logCloser, err := logging.Open(cfg.Log.File, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	pm := payload.NewProcessManager()
	specs, err := p.Specs(payload.NewFactory(pm))
	if err != nil {
		return err
	}

	bus := events.NewBus()
	reg, m := metrics.NewRegistry()
	options := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithEvents(bus),
		orchestrator.WithMetrics(m),
	}

	if cfg.Journal.Path != "" {
		store, err := persistence.NewSQLiteStore(ctx, cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer store.Close()
		options = append(options, orchestrator.WithJournal(store))
	}

	if cfg.Metrics.Addr != "" {
		shutdown := serveMetrics(cfg.Metrics.Addr, metrics.HandlerFor(reg), logger)
		defer shutdown()
	}

	orch, err := orchestrator.New(ocfg, options...)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	if o.watch {
		ch := bus.SubscribeAll(0)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range ch {
				fmt.Fprintln(out, renderEvent(ev))
			}
		}()
	}

	fmt.Fprintln(out, renderHeader(p, orch.RunID()))
	logger.Info("run started", "plan", planPath, "tasks", len(specs))

	reports, runErr := runWithRemediation(ctx, orch, specs, o.maxCycles, logger)

	if ctx.Err() != nil {
		if running := pm.Running(); len(running) > 0 {
			logger.Warn("killing leftover subprocesses", "processes", running)
			if err := pm.KillAll(); err != nil {
				logger.Warn("failed to kill subprocesses", "error", err)
			}
		}
	}
	bus.Close()
	wg.Wait()

	for _, r := range reports {
		fmt.Fprintln(out, renderCycle(r))
	}
	tasks := orch.Tasks()
	fmt.Fprintln(out, renderSummary(tasks, orch.Usage(), orch.Unresolved()))

	logger.Info("run finished", "cycles", len(reports), "dropped_events", bus.Dropped())

	if runErr != nil {
		return fmt.Errorf("run stopped: %w", runErr)
	}
	if ids := unfinished(tasks); len(ids) > 0 {
		return fmt.Errorf("%w: %s", errTasksFailed, strings.Join(ids, ", "))
	}
	return nil
}

// runWithRemediation submits the plan's ordinary tasks and runs them until
// idle. A remediation task is only accepted once the task it supersedes has
// failed, so remediations are held back and submitted after each idle
// point whose target ended in Error or Rerouted. Remediations whose target
// succeeded are dropped.
func runWithRemediation(ctx context.Context, orch *orchestrator.Orchestrator, specs []orchestrator.TaskSpec, maxCycles int, logger *slog.Logger) ([]*orchestrator.CycleReport, error) {
	var primary, held []orchestrator.TaskSpec
	for _, s := range specs {
		if s.Supersedes == "" {
			primary = append(primary, s)
		} else {
			held = append(held, s)
		}
	}
	if err := orch.SubmitAll(primary...); err != nil {
		return nil, err
	}

	var reports []*orchestrator.CycleReport
	for {
		rs, err := orch.Run(ctx, maxCycles)
		reports = append(reports, rs...)
		if err != nil {
			return reports, err
		}

		var due, still []orchestrator.TaskSpec
		for _, s := range held {
			status, err := orch.GetStatus(s.Supersedes)
			switch {
			case err != nil:
				// Target is itself a remediation not yet submitted
				still = append(still, s)
			case status == scheduler.StatusError || status == scheduler.StatusRerouted:
				due = append(due, s)
			case status.Terminal():
				logger.Info("remediation not needed", "task_id", s.ID, "supersedes", s.Supersedes, "status", status.String())
			default:
				still = append(still, s)
			}
		}
		if len(due) == 0 {
			return reports, nil
		}

		ids := make([]string, 0, len(due))
		for _, s := range due {
			ids = append(ids, s.ID)
		}
		logger.Info("submitting remediation", "tasks", ids)
		if err := orch.SubmitAll(due...); err != nil {
			return reports, err
		}
		held = still
	}
}

// unfinished lists tasks that neither executed nor were superseded by a
// task that did.
func unfinished(tasks []*scheduler.Task) []string {
	status := make(map[string]scheduler.Status, len(tasks))
	fixes := make(map[string][]string)
	for _, t := range tasks {
		status[t.ID] = t.Status
		if t.Supersedes != "" {
			fixes[t.Supersedes] = append(fixes[t.Supersedes], t.ID)
		}
	}

	var resolved func(id string, seen map[string]bool) bool
	resolved = func(id string, seen map[string]bool) bool {
		if status[id] == scheduler.StatusExecuted {
			return true
		}
		if seen[id] {
			return false
		}
		seen[id] = true
		for _, fix := range fixes[id] {
			if resolved(fix, seen) {
				return true
			}
		}
		return false
	}

	var out []string
	for _, t := range tasks {
		if !resolved(t.ID, make(map[string]bool)) {
			out = append(out, t.ID)
		}
	}
	return out
}

// serveMetrics exposes h on addr until the returned shutdown is called.
func serveMetrics(addr string, h http.Handler, logger *slog.Logger) (shutdown func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
