package scheduler

import (
	"sort"
	"sync"
	"time"
)

// ValidateFunc inspects the registry contents and a batch about to be
// inserted. It runs under the registry lock, so it must not call back into
// the Registry. Returning an error aborts the insert.
type ValidateFunc func(existing map[string]*Task, batch []*Task) error

// Registry is the single source of truth for task state.
// It stores tasks, serializes every mutation, and hands out snapshots.
// It performs no dependency or priority logic.
type Registry struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> list of tasks that depend on it
	nextSeq    uint64
	now        func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
		now:        time.Now,
	}
}

// Submit adds a single task. Returns *DuplicateIDError if the ID exists.
func (r *Registry) Submit(task *Task) error {
	return r.Insert([]*Task{task}, nil)
}

// Insert adds a batch of tasks atomically: either every task is stored or
// none is. IDs are checked for duplicates against the registry and within
// the batch before validate runs. Stored tasks start in StatusPending.
func (r *Registry) Insert(batch []*Task, validate ValidateFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(batch))
	for _, task := range batch {
		if task.ID == "" {
			return ErrEmptyID
		}
		if _, exists := r.tasks[task.ID]; exists || seen[task.ID] {
			return &DuplicateIDError{ID: task.ID}
		}
		seen[task.ID] = true
	}

	if validate != nil {
		if err := validate(r.tasks, batch); err != nil {
			return err
		}
	}

	now := r.now()
	for _, task := range batch {
		stored := cloneTask(task)
		r.nextSeq++
		stored.Seq = r.nextSeq
		stored.Status = StatusPending
		stored.SubmittedAt = now
		stored.Result = nil
		stored.Err = nil
		r.tasks[stored.ID] = stored

		// Build dependents map for efficient downstream lookup
		for _, depID := range stored.DependsOn {
			r.dependents[depID] = append(r.dependents[depID], stored.ID)
		}
	}

	return nil
}

// Get returns a snapshot of the task. Returns *NotFoundError if absent.
func (r *Registry) Get(taskID string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return nil, &NotFoundError{ID: taskID}
	}
	return cloneTask(task), nil
}

// Status returns the current status of a task.
func (r *Registry) Status(taskID string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return 0, &NotFoundError{ID: taskID}
	}
	return task.Status, nil
}

// ListByStatus returns snapshots of all tasks with the given status,
// ordered by insertion.
func (r *Registry) ListByStatus(status Status) []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Task
	for _, task := range r.tasks {
		if task.Status == status {
			out = append(out, cloneTask(task))
		}
	}
	sortBySeq(out)
	return out
}

// Tasks returns snapshots of all tasks ordered by insertion.
func (r *Registry) Tasks() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*Task, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	sortBySeq(tasks)
	return tasks
}

// Dependents returns the IDs of tasks that list taskID as a dependency.
func (r *Registry) Dependents(taskID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.dependents[taskID]...)
}

// Counts returns the number of tasks per status.
func (r *Registry) Counts() map[Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[Status]int)
	for _, task := range r.tasks {
		counts[task.Status]++
	}
	return counts
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}

// Transition moves a task to status `to` if its current status is one of
// `from`. Terminal statuses can never be left.
func (r *Registry) Transition(taskID string, to Status, from ...Status) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return 0, &NotFoundError{ID: taskID}
	}

	prev := task.Status
	if prev.Terminal() || !containsStatus(from, prev) {
		return prev, &InvalidTransitionError{ID: taskID, From: prev, To: to}
	}

	task.Status = to
	if to.Terminal() {
		task.FinishedAt = r.now()
	}
	return prev, nil
}

// MarkExecuting moves a Ready task to Executing.
func (r *Registry) MarkExecuting(taskID string) error {
	_, err := r.Transition(taskID, StatusExecuting, StatusReady)
	return err
}

// Finish moves an Executing task to a terminal status and stores its
// result or failure.
func (r *Registry) Finish(taskID string, status Status, result any, taskErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return &NotFoundError{ID: taskID}
	}
	if task.Status != StatusExecuting || !status.Terminal() {
		return &InvalidTransitionError{ID: taskID, From: task.Status, To: status}
	}

	task.Status = status
	task.Result = result
	task.Err = taskErr
	task.FinishedAt = r.now()
	return nil
}

// SetPriority stores a new priority. Allowed in every status, including
// terminal ones, so learning adjustments remain auditable.
func (r *Registry) SetPriority(taskID string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[taskID]
	if !exists {
		return &NotFoundError{ID: taskID}
	}
	task.Priority = priority
	return nil
}

func containsStatus(list []Status, s Status) bool {
	for _, st := range list {
		if st == s {
			return true
		}
	}
	return false
}

func sortBySeq(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
}
