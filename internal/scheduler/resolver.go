package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gammazero/toposort"
)

// Resolver decides which tasks are eligible to run and guards the registry
// against dependency cycles.
type Resolver struct {
	reg *Registry
}

// NewResolver creates a resolver over the given registry.
func NewResolver(reg *Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Submit validates and inserts a batch of tasks atomically. A batch that
// would close a dependency cycle is rejected with *CyclicDependencyError and
// leaves the registry unchanged.
func (r *Resolver) Submit(tasks ...*Task) error {
	return r.reg.Insert(tasks, r.validate)
}

// validate runs under the registry lock.
func (r *Resolver) validate(existing map[string]*Task, batch []*Task) error {
	for _, task := range batch {
		if err := checkRemediation(existing, task); err != nil {
			return err
		}
	}

	all := make(map[string]*Task, len(existing)+len(batch))
	for id, t := range existing {
		all[id] = t
	}
	for _, t := range batch {
		cp := *t
		cp.Status = StatusPending
		all[t.ID] = &cp
	}

	adj := dependencyEdges(all)

	// Run topological sort
	var edges []toposort.Edge
	for _, id := range sortedKeys(adj) {
		targets := adj[id]
		if len(targets) == 0 {
			// Node without edges - add edge from nil to ensure it's included
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, to := range targets {
			if to == id {
				return cycleError(batch, adj)
			}
			// Edge (id, to) means id must complete before to
			edges = append(edges, toposort.Edge{id, to})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		cerr := cycleError(batch, adj)
		cerr.Err = err
		return cerr
	}
	return nil
}

func checkRemediation(existing map[string]*Task, task *Task) error {
	if task.Supersedes == "" {
		return nil
	}
	if task.Supersedes == task.ID {
		return &InvalidRemediationError{ID: task.ID, Supersedes: task.Supersedes, Reason: "a task cannot supersede itself"}
	}
	target, ok := existing[task.Supersedes]
	if !ok {
		return &InvalidRemediationError{ID: task.ID, Supersedes: task.Supersedes, Reason: "task not found"}
	}
	if target.Status != StatusError && target.Status != StatusRerouted {
		return &InvalidRemediationError{ID: task.ID, Supersedes: task.Supersedes, Reason: fmt.Sprintf("task is %s", target.Status)}
	}
	return nil
}

// dependencyEdges builds "must finish before" adjacency for every task that
// can still run. Dependency edges into terminal tasks are dropped since those
// tasks never execute again. A remediation R of task D adds R -> D, so
// anything waiting on D is ordered after R.
func dependencyEdges(all map[string]*Task) map[string][]string {
	adj := make(map[string][]string, len(all))
	for id, t := range all {
		if _, ok := adj[id]; !ok {
			adj[id] = nil
		}
		if t.Supersedes != "" {
			adj[id] = append(adj[id], t.Supersedes)
		}
		if t.Status.Terminal() {
			continue
		}
		for _, dep := range t.DependsOn {
			adj[dep] = append(adj[dep], id)
		}
	}
	return adj
}

// cycleError locates a cycle through one of the batch tasks for reporting.
func cycleError(batch []*Task, adj map[string][]string) *CyclicDependencyError {
	for _, t := range batch {
		if path := findCycle(t.ID, adj); path != nil {
			return &CyclicDependencyError{ID: t.ID, Path: path}
		}
	}
	id := ""
	if len(batch) > 0 {
		id = batch[0].ID
	}
	return &CyclicDependencyError{ID: id}
}

// findCycle returns a path start -> ... -> start if one exists.
func findCycle(start string, adj map[string][]string) []string {
	visited := make(map[string]bool)
	var path []string

	var visit func(id string) bool
	visit = func(id string) bool {
		path = append(path, id)
		for _, next := range adj[id] {
			if next == start {
				path = append(path, start)
				return true
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}

	if visit(start) {
		return path
	}
	return nil
}

// Promote moves Pending tasks to Waiting, then Waiting tasks whose
// dependencies are all satisfied to Ready. Returns the IDs promoted to
// Ready in submission order.
func (r *Resolver) Promote() []string {
	snapshot := r.reg.Tasks()
	view := newDependencyView(snapshot)

	var promoted []string
	for _, task := range snapshot {
		if task.Status == StatusPending {
			if _, err := r.reg.Transition(task.ID, StatusWaiting, StatusPending); err != nil {
				continue
			}
			task.Status = StatusWaiting
		}
		if task.Status != StatusWaiting || !view.allSatisfied(task) {
			continue
		}
		if _, err := r.reg.Transition(task.ID, StatusReady, StatusWaiting); err == nil {
			promoted = append(promoted, task.ID)
		}
	}
	return promoted
}

// Unresolved returns every Waiting task mapped to the dependencies that
// are not yet satisfied.
func (r *Resolver) Unresolved() map[string][]string {
	snapshot := r.reg.Tasks()
	view := newDependencyView(snapshot)

	out := make(map[string][]string)
	for _, task := range snapshot {
		if task.Status != StatusWaiting && task.Status != StatusPending {
			continue
		}
		var missing []string
		for _, dep := range task.DependsOn {
			if !view.satisfied(dep) {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			out[task.ID] = missing
		}
	}
	return out
}

// dependencyView answers satisfaction questions over one snapshot.
type dependencyView struct {
	tasks       map[string]*Task
	superseders map[string][]string
}

func newDependencyView(snapshot []*Task) *dependencyView {
	v := &dependencyView{
		tasks:       make(map[string]*Task, len(snapshot)),
		superseders: make(map[string][]string),
	}
	for _, t := range snapshot {
		v.tasks[t.ID] = t
		if t.Supersedes != "" {
			v.superseders[t.Supersedes] = append(v.superseders[t.Supersedes], t.ID)
		}
	}
	return v
}

func (v *dependencyView) allSatisfied(task *Task) bool {
	for _, dep := range task.DependsOn {
		if !v.satisfied(dep) {
			return false
		}
	}
	return true
}

// satisfied reports whether id is Executed, or failed and remediated by an
// Executed successor (following remediation chains).
func (v *dependencyView) satisfied(id string) bool {
	seen := make(map[string]bool)
	var check func(id string) bool
	check = func(id string) bool {
		if seen[id] {
			return false
		}
		seen[id] = true

		t, ok := v.tasks[id]
		if !ok {
			return false
		}
		switch t.Status {
		case StatusExecuted:
			return true
		case StatusError, StatusRerouted:
			for _, succ := range v.superseders[id] {
				if check(succ) {
					return true
				}
			}
		}
		return false
	}
	return check(id)
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FormatUnresolved renders Unresolved output as "task: dep, dep" lines.
func FormatUnresolved(unresolved map[string][]string) string {
	ids := sortedKeys(unresolved)
	lines := make([]string, 0, len(ids))
	for _, id := range ids {
		lines = append(lines, fmt.Sprintf("%s: %s", id, strings.Join(unresolved[id], ", ")))
	}
	return strings.Join(lines, "\n")
}
