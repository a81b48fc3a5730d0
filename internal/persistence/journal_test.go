package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/scheduler"
)

// TestOrchestratorJournal runs a small plan against the store and reads
// the history back.
func TestOrchestratorJournal(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	o, err := orchestrator.New(orchestrator.DefaultConfig(), orchestrator.WithJournal(store), orchestrator.WithRunID("run-j"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	okPayload := func(ctx context.Context) (any, error) { return "done", nil }
	failPayload := func(ctx context.Context) (any, error) { return nil, errors.New("flaked") }

	err = o.SubmitAll(
		orchestrator.TaskSpec{ID: "A", Payload: okPayload},
		orchestrator.TaskSpec{ID: "B", DependsOn: []string{"A"}, Condition: "flaky", Payload: failPayload},
		orchestrator.TaskSpec{ID: "C", DependsOn: []string{"B"}, Payload: okPayload},
	)
	if err != nil {
		t.Fatalf("SubmitAll failed: %v", err)
	}
	if _, err := o.Run(ctx, 0); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tasks, err := store.ListTasks(ctx, "run-j")
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	want := map[string]scheduler.Status{
		"A": scheduler.StatusExecuted,
		"B": scheduler.StatusRerouted,
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for _, task := range tasks {
		// C waits on the rerouted B forever
		if task.ID == "C" {
			if task.Status.Terminal() {
				t.Errorf("C should not be terminal, got %s", task.Status)
			}
			continue
		}
		if task.Status != want[task.ID] {
			t.Errorf("task %s: expected %s, got %s", task.ID, want[task.ID], task.Status)
		}
	}

	b, err := store.GetTask(ctx, "run-j", "B")
	if err != nil {
		t.Fatalf("GetTask failed: %v", err)
	}
	if b.Priority != 0 || b.Error == "" {
		t.Errorf("rerouted task: expected priority 0 and an error, got %d/%q", b.Priority, b.Error)
	}

	cycles, err := store.Cycles(ctx, "run-j")
	if err != nil {
		t.Fatalf("Cycles failed: %v", err)
	}
	if len(cycles) < 2 {
		t.Errorf("expected at least 2 cycles, got %d", len(cycles))
	}
}
