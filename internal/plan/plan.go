// Package plan loads task plans from YAML and turns them into orchestrator
// submissions.
package plan

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/gammazero/toposort"
	"gopkg.in/yaml.v3"

	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/payload"
)

// Task is one entry of a plan file.
type Task struct {
	ID          string         `yaml:"id"`
	Description string         `yaml:"description,omitempty"`
	DependsOn   []string       `yaml:"depends_on,omitempty"`
	Tags        []string       `yaml:"tags,omitempty"`
	Condition   string         `yaml:"condition,omitempty"`
	Resources   map[string]int `yaml:"resources,omitempty"`
	Timeout     time.Duration  `yaml:"timeout,omitempty"`
	Supersedes  string         `yaml:"supersedes,omitempty"`
	Priority    *int           `yaml:"priority,omitempty"`
	Action      payload.Action `yaml:"action,omitempty"`
}

// Plan is a named list of tasks.
type Plan struct {
	Name  string `yaml:"name,omitempty"`
	Tasks []Task `yaml:"tasks"`
}

// Load reads a plan file.
func Load(path string) (*Plan, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening plan: %w", err)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return p, nil
}

// Parse decodes a plan from YAML bytes.
func Parse(data []byte) (*Plan, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads a plan from r. Unknown fields are rejected so typos in
// keys surface instead of silently dropping settings.
func Decode(r io.Reader) (*Plan, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var p Plan
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("plan is empty")
		}
		return nil, err
	}
	return &p, nil
}

// Problems lists everything wrong with a plan.
type Problems []string

func (p Problems) Error() string {
	return fmt.Sprintf("plan has %d problem(s):\n  - %s", len(p), strings.Join(p, "\n  - "))
}

// Validate checks IDs, dependencies, actions, and the dependency graph.
// It returns Problems listing every issue found, or nil.
func (p *Plan) Validate() error {
	var problems Problems
	ids := make(map[string]bool, len(p.Tasks))

	if len(p.Tasks) == 0 {
		problems = append(problems, "plan has no tasks")
	}

	for i, t := range p.Tasks {
		switch {
		case t.ID == "":
			problems = append(problems, fmt.Sprintf("task %d has no id", i))
		case ids[t.ID]:
			problems = append(problems, fmt.Sprintf("duplicate task id %q", t.ID))
		}
		ids[t.ID] = true

		if err := t.Action.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("task %q: %v", t.ID, err))
		}
		if t.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("task %q: negative timeout %s", t.ID, t.Timeout))
		}
		for typ, qty := range t.Resources {
			if qty < 0 {
				problems = append(problems, fmt.Sprintf("task %q: negative %s demand %d", t.ID, typ, qty))
			}
		}
	}

	for _, t := range p.Tasks {
		for _, dep := range t.DependsOn {
			if !ids[dep] {
				problems = append(problems, fmt.Sprintf("task %q depends on unknown task %q", t.ID, dep))
			}
		}
		switch {
		case t.Supersedes == "":
		case t.Supersedes == t.ID:
			problems = append(problems, fmt.Sprintf("task %q supersedes itself", t.ID))
		case !ids[t.Supersedes]:
			problems = append(problems, fmt.Sprintf("task %q supersedes unknown task %q", t.ID, t.Supersedes))
		}
	}

	if _, err := p.Order(); err != nil {
		problems = append(problems, err.Error())
	}

	if len(problems) > 0 {
		return problems
	}
	return nil
}

// Order returns the task IDs in an order that respects every dependency
// inside the plan. Dependencies on unknown tasks are ignored here.
func (p *Plan) Order() ([]string, error) {
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		ids[t.ID] = true
	}

	var edges []toposort.Edge
	for _, t := range p.Tasks {
		deps := make([]string, 0, len(t.DependsOn))
		for _, dep := range t.DependsOn {
			if ids[dep] {
				deps = append(deps, dep)
			}
		}
		if len(deps) == 0 {
			edges = append(edges, toposort.Edge{nil, t.ID})
			continue
		}
		sort.Strings(deps)
		for _, dep := range deps {
			if dep == t.ID {
				return nil, fmt.Errorf("task %q depends on itself", t.ID)
			}
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	return order, nil
}

// Specs converts the plan into submissions, building each payload with f.
func (p *Plan) Specs(f *payload.Factory) ([]orchestrator.TaskSpec, error) {
	specs := make([]orchestrator.TaskSpec, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		pl, err := f.Build(t.Action)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", t.ID, err)
		}
		specs = append(specs, orchestrator.TaskSpec{
			ID:          t.ID,
			Description: t.Description,
			DependsOn:   t.DependsOn,
			Condition:   t.Condition,
			Tags:        t.Tags,
			Resources:   t.Resources,
			Timeout:     t.Timeout,
			Supersedes:  t.Supersedes,
			Priority:    t.Priority,
			Payload:     pl,
		})
	}
	return specs, nil
}
