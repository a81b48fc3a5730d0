package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskcore/internal/persistence"
)

func newHistoryCmd(root *rootOptions) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "history [run-id [task-id]]",
		Short: "Browse journaled runs",
		Long: `Without arguments, list the runs recorded in the journal. With a run id,
list that run's tasks and cycles. With a task id as well, show the task's
status transitions.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dbPath == "" {
				cfg, err := root.loadConfig()
				if err != nil {
					return err
				}
				dbPath = cfg.Journal.Path
			}
			if dbPath == "" {
				return errors.New("no journal configured (set journal.path or pass --db)")
			}

			ctx := cmd.Context()
			store, err := persistence.NewSQLiteStore(ctx, dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			h := &historyPrinter{store: store, cmd: cmd}
			switch len(args) {
			case 0:
				return h.runs()
			case 1:
				return h.run(args[0])
			default:
				return h.task(args[0], args[1])
			}
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite journal path (default: journal.path from config)")
	return cmd
}

type historyPrinter struct {
	store persistence.Store
	cmd   *cobra.Command
}

func (h *historyPrinter) runs() error {
	runs, err := h.store.ListRuns(h.cmd.Context())
	if err != nil {
		return err
	}
	out := h.cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintln(out, "no runs recorded")
		return nil
	}
	for _, r := range runs {
		fmt.Fprintf(out, "%s  %s  %d tasks  %d cycles\n", r.ID, r.StartedAt.Format(time.DateTime), r.Tasks, r.Cycles)
	}
	return nil
}

func (h *historyPrinter) run(runID string) error {
	ctx := h.cmd.Context()
	tasks, err := h.store.ListTasks(ctx, runID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("run %s: %w", runID, persistence.ErrNotFound)
	}
	cycles, err := h.store.Cycles(ctx, runID)
	if err != nil {
		return err
	}

	out := h.cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("tasks"))
	for _, t := range tasks {
		fmt.Fprintf(out, "%s  p%-2d  %s", t.ID, t.Priority, statusText(t.Status))
		if t.Error != "" {
			fmt.Fprintf(out, "  %s", labelStyle.Render(t.Error))
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("cycles"))
	for _, c := range cycles {
		fmt.Fprintf(out, "%d  %d dispatched  %d executed  %d errored  %d rerouted  %d skipped  %s\n",
			c.Cycle, len(c.Dispatched), c.Executed, c.Errored, c.Rerouted, len(c.Skipped), c.Duration.Round(time.Millisecond))
	}
	return nil
}

func (h *historyPrinter) task(runID, taskID string) error {
	ctx := h.cmd.Context()
	if _, err := h.store.GetTask(ctx, runID, taskID); err != nil {
		return err
	}
	history, err := h.store.History(ctx, runID, taskID)
	if err != nil {
		return err
	}

	out := h.cmd.OutOrStdout()
	for _, tr := range history {
		fmt.Fprintf(out, "%s  %s -> %s  p%d", tr.At.Format(time.RFC3339), tr.From, tr.To, tr.Priority)
		if tr.Detail != "" {
			fmt.Fprintf(out, "  %s", tr.Detail)
		}
		fmt.Fprintln(out)
	}
	return nil
}
