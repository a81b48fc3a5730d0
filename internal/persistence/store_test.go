package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/scheduler"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestRecordAndGetTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := scheduler.Task{
		ID:          "task-1",
		Description: "Compile assets",
		DependsOn:   []string{"dep-2", "dep-1"},
		Condition:   "flaky",
		Tags:        []string{"urgent", "build"},
		Resources:   map[string]int{"cpu": 4, "gpu": 1},
		Timeout:     90 * time.Second,
		Supersedes:  "old-task",
		Priority:    10,
		Status:      scheduler.StatusPending,
		Seq:         7,
		SubmittedAt: time.Now(),
	}

	if err := store.RecordTask(ctx, "run-1", task); err != nil {
		t.Fatalf("failed to record task: %v", err)
	}

	got, err := store.GetTask(ctx, "run-1", "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}

	if got.Description != task.Description || got.Condition != "flaky" || got.Supersedes != "old-task" {
		t.Errorf("text fields mismatch: %+v", got)
	}
	if got.Priority != 10 || got.Status != scheduler.StatusPending || got.Seq != 7 {
		t.Errorf("priority/status/seq mismatch: %+v", got)
	}
	if got.Timeout != 90*time.Second {
		t.Errorf("expected timeout 1m30s, got %s", got.Timeout)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "urgent" || got.Tags[1] != "build" {
		t.Errorf("tags mismatch: %v", got.Tags)
	}
	if got.Resources["cpu"] != 4 || got.Resources["gpu"] != 1 {
		t.Errorf("resources mismatch: %v", got.Resources)
	}
	// Dependencies come back sorted and may name unknown tasks
	if len(got.DependsOn) != 2 || got.DependsOn[0] != "dep-1" || got.DependsOn[1] != "dep-2" {
		t.Errorf("dependencies mismatch: %v", got.DependsOn)
	}
}

func TestRecordTaskIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := scheduler.Task{ID: "task-1", Description: "first", DependsOn: []string{"a", "b"}, Priority: 2}
	if err := store.RecordTask(ctx, "run-1", task); err != nil {
		t.Fatalf("first record failed: %v", err)
	}

	task.Description = "second"
	task.DependsOn = []string{"c"}
	if err := store.RecordTask(ctx, "run-1", task); err != nil {
		t.Fatalf("second record failed: %v", err)
	}

	got, err := store.GetTask(ctx, "run-1", "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Description != "second" {
		t.Errorf("expected updated description, got %q", got.Description)
	}
	if len(got.DependsOn) != 1 || got.DependsOn[0] != "c" {
		t.Errorf("expected dependencies replaced, got %v", got.DependsOn)
	}

	tasks, err := store.ListTasks(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("expected 1 task after upsert, got %d", len(tasks))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetTask(context.Background(), "run-1", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordTransitionUpdatesTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.RecordTask(ctx, "run-1", scheduler.Task{ID: "A", Priority: 2}); err != nil {
		t.Fatalf("failed to record task: %v", err)
	}

	steps := []orchestrator.Transition{
		{TaskID: "A", From: scheduler.StatusWaiting, To: scheduler.StatusReady, Priority: 2, Detail: "dependencies satisfied"},
		{TaskID: "A", From: scheduler.StatusReady, To: scheduler.StatusExecuting, Priority: 2},
		{TaskID: "A", From: scheduler.StatusExecuting, To: scheduler.StatusError, Priority: 1, Detail: "exit status 1"},
	}
	for _, tr := range steps {
		tr.At = time.Now()
		if err := store.RecordTransition(ctx, "run-1", tr); err != nil {
			t.Fatalf("failed to record transition %s: %v", tr.To, err)
		}
	}

	got, err := store.GetTask(ctx, "run-1", "A")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != scheduler.StatusError || got.Priority != 1 || got.Error != "exit status 1" {
		t.Errorf("expected Error/1/exit status 1, got %s/%d/%q", got.Status, got.Priority, got.Error)
	}

	history, err := store.History(ctx, "run-1", "A")
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 transitions, got %d", len(history))
	}
	for i, tr := range history {
		if tr.From != steps[i].From || tr.To != steps[i].To || tr.Detail != steps[i].Detail {
			t.Errorf("transition %d: expected %s->%s, got %s->%s", i, steps[i].From, steps[i].To, tr.From, tr.To)
		}
	}
}

func TestHistoryEmpty(t *testing.T) {
	store := testStore(t)

	history, err := store.History(context.Background(), "run-1", "nothing")
	if err != nil {
		t.Fatalf("failed to get history: %v", err)
	}
	if history == nil || len(history) != 0 {
		t.Errorf("expected empty non-nil history, got %v", history)
	}
}

func TestListTasksOrderedBySubmission(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for i, id := range []string{"c", "a", "b"} {
		task := scheduler.Task{ID: id, Seq: uint64(i + 1), DependsOn: []string{"root"}}
		if err := store.RecordTask(ctx, "run-1", task); err != nil {
			t.Fatalf("failed to record %s: %v", id, err)
		}
	}
	// A different run must not leak in
	if err := store.RecordTask(ctx, "run-2", scheduler.Task{ID: "x", Seq: 1}); err != nil {
		t.Fatalf("failed to record x: %v", err)
	}

	tasks, err := store.ListTasks(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i, want := range []string{"c", "a", "b"} {
		if tasks[i].ID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, tasks[i].ID)
		}
		if len(tasks[i].DependsOn) != 1 {
			t.Errorf("task %s: expected 1 dependency, got %v", tasks[i].ID, tasks[i].DependsOn)
		}
	}
}

func TestRecordCycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	report := orchestrator.CycleReport{
		Cycle:               1,
		Promoted:            []string{"A", "B"},
		Dispatched:          []string{"A"},
		Executed:            []string{"A"},
		SkippedForResources: []string{"B"},
		StartedAt:           time.Now(),
		Duration:            1500 * time.Millisecond,
	}
	if err := store.RecordCycle(ctx, "run-1", report); err != nil {
		t.Fatalf("failed to record cycle: %v", err)
	}

	// Re-recording replaces
	report.Executed = nil
	report.Errored = []string{"A"}
	if err := store.RecordCycle(ctx, "run-1", report); err != nil {
		t.Fatalf("failed to re-record cycle: %v", err)
	}

	cycles, err := store.Cycles(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get cycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d", len(cycles))
	}
	c := cycles[0]
	if c.Promoted != 2 || c.Executed != 0 || c.Errored != 1 {
		t.Errorf("counts mismatch: %+v", c)
	}
	if len(c.Dispatched) != 1 || c.Dispatched[0] != "A" || len(c.Skipped) != 1 || c.Skipped[0] != "B" {
		t.Errorf("id lists mismatch: dispatched=%v skipped=%v", c.Dispatched, c.Skipped)
	}
	if c.Duration != 1500*time.Millisecond {
		t.Errorf("expected duration 1.5s, got %s", c.Duration)
	}
}

func TestListRuns(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.RecordTask(ctx, "run-1", scheduler.Task{ID: "A"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordTask(ctx, "run-1", scheduler.Task{ID: "B"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordCycle(ctx, "run-1", orchestrator.CycleReport{Cycle: 1}); err != nil {
		t.Fatalf("record cycle failed: %v", err)
	}
	if err := store.RecordCycle(ctx, "run-2", orchestrator.CycleReport{Cycle: 1}); err != nil {
		t.Fatalf("record cycle failed: %v", err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}

	byID := make(map[string]RunSummary)
	for _, r := range runs {
		byID[r.ID] = r
	}
	if byID["run-1"].Tasks != 2 || byID["run-1"].Cycles != 1 {
		t.Errorf("run-1 summary mismatch: %+v", byID["run-1"])
	}
	if byID["run-2"].Tasks != 0 || byID["run-2"].Cycles != 1 {
		t.Errorf("run-2 summary mismatch: %+v", byID["run-2"])
	}
}

func TestEmptyRunIDRejected(t *testing.T) {
	store := testStore(t)
	if err := store.RecordTask(context.Background(), "", scheduler.Task{ID: "A"}); err == nil {
		t.Error("expected error for empty run id")
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := testStore(t)
	b := testStore(t)
	ctx := context.Background()

	if err := a.RecordTask(ctx, "run-1", scheduler.Task{ID: "only-in-a"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if _, err := b.GetTask(ctx, "run-1", "only-in-a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected store b to be empty, got %v", err)
	}
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "journal.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.RecordTask(ctx, "run-1", scheduler.Task{ID: "A", Priority: 6}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetTask(ctx, "run-1", "A")
	if err != nil {
		t.Fatalf("failed to get task after reopen: %v", err)
	}
	if got.Priority != 6 {
		t.Errorf("expected priority 6, got %d", got.Priority)
	}
}

func TestConcurrentTransitions(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		if err := store.RecordTask(ctx, "run-1", scheduler.Task{ID: fmt.Sprintf("t%02d", i)}); err != nil {
			t.Fatalf("record failed: %v", err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr := orchestrator.Transition{
				TaskID: fmt.Sprintf("t%02d", i),
				From:   scheduler.StatusExecuting,
				To:     scheduler.StatusExecuted,
				At:     time.Now(),
			}
			if err := store.RecordTransition(ctx, "run-1", tr); err != nil {
				t.Errorf("transition %d failed: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	tasks, err := store.ListTasks(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	for _, task := range tasks {
		if task.Status != scheduler.StatusExecuted {
			t.Errorf("task %s: expected Executed, got %s", task.ID, task.Status)
		}
	}
}
