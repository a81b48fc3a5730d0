package plan

import (
	"context"
	"errors"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/aristath/taskcore/internal/payload"
)

const samplePlan = `
name: release
tasks:
  - id: build
    description: compile everything
    tags: [urgent]
    resources:
      cpu: 2
    timeout: 30s
    action:
      type: echo
      message: built
  - id: test
    depends_on: [build]
    tags: [validation]
    condition: flaky
    action:
      type: fail
      message: tests flaked
  - id: retest
    depends_on: [build]
    supersedes: test
    priority: 9
    action:
      type: sleep
      duration: 10ms
  - id: publish
    depends_on: [retest, test]
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if p.Name != "release" {
		t.Errorf("name = %q, want release", p.Name)
	}
	if len(p.Tasks) != 4 {
		t.Fatalf("tasks = %d, want 4", len(p.Tasks))
	}

	build := p.Tasks[0]
	if build.ID != "build" {
		t.Errorf("first task = %q, want build", build.ID)
	}
	if !slices.Equal(build.Tags, []string{"urgent"}) {
		t.Errorf("tags = %v, want [urgent]", build.Tags)
	}
	if !maps.Equal(build.Resources, map[string]int{"cpu": 2}) {
		t.Errorf("resources = %v, want cpu:2", build.Resources)
	}
	if build.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", build.Timeout)
	}
	if build.Action.Type != payload.TypeEcho {
		t.Errorf("action type = %q, want echo", build.Action.Type)
	}
	if build.Priority != nil {
		t.Errorf("priority = %d, want unset", *build.Priority)
	}

	retest := p.Tasks[2]
	if retest.Supersedes != "test" {
		t.Errorf("supersedes = %q, want test", retest.Supersedes)
	}
	if retest.Priority == nil || *retest.Priority != 9 {
		t.Errorf("priority = %v, want 9", retest.Priority)
	}
	if retest.Action.Duration != 10*time.Millisecond {
		t.Errorf("duration = %v, want 10ms", retest.Action.Duration)
	}

	if got := p.Tasks[3].Action.Type; got != payload.TypeNone {
		t.Errorf("publish action type = %q, want none", got)
	}
	if err := p.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	if _, err := Parse([]byte("tasks:\n  - id: a\n    depends: [b]\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestParseEmpty(t *testing.T) {
	_, err := Parse(nil)
	if err == nil || err.Error() != "plan is empty" {
		t.Errorf("Parse(nil) error = %v, want plan is empty", err)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	if err := os.WriteFile(path, []byte(samplePlan), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(p.Tasks) != 4 {
		t.Errorf("tasks = %d, want 4", len(p.Tasks))
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		plan     Plan
		problems []string
	}{
		{
			name:     "no tasks",
			plan:     Plan{},
			problems: []string{"plan has no tasks"},
		},
		{
			name:     "missing id",
			plan:     Plan{Tasks: []Task{{ID: "a"}, {}}},
			problems: []string{"task 1 has no id"},
		},
		{
			name:     "duplicate id",
			plan:     Plan{Tasks: []Task{{ID: "a"}, {ID: "a"}}},
			problems: []string{`duplicate task id "a"`},
		},
		{
			name:     "unknown dependency",
			plan:     Plan{Tasks: []Task{{ID: "a", DependsOn: []string{"ghost"}}}},
			problems: []string{`task "a" depends on unknown task "ghost"`},
		},
		{
			name:     "bad action",
			plan:     Plan{Tasks: []Task{{ID: "a", Action: payload.Action{Type: "teleport"}}}},
			problems: []string{`task "a": unknown action type: teleport`},
		},
		{
			name:     "negative demand",
			plan:     Plan{Tasks: []Task{{ID: "a", Resources: map[string]int{"gpu": -1}}}},
			problems: []string{`task "a": negative gpu demand -1`},
		},
		{
			name:     "unknown supersedes",
			plan:     Plan{Tasks: []Task{{ID: "fix", Supersedes: "ghost"}}},
			problems: []string{`task "fix" supersedes unknown task "ghost"`},
		},
		{
			name:     "supersedes itself",
			plan:     Plan{Tasks: []Task{{ID: "fix", Supersedes: "fix"}}},
			problems: []string{`task "fix" supersedes itself`},
		},
		{
			name:     "self dependency",
			plan:     Plan{Tasks: []Task{{ID: "a", DependsOn: []string{"a"}}}},
			problems: []string{`task "a" depends on itself`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.plan.Validate()
			var problems Problems
			if !errors.As(err, &problems) {
				t.Fatalf("Validate() error = %v, want Problems", err)
			}
			if !slices.Equal(problems, Problems(tt.problems)) {
				t.Errorf("problems = %q, want %q", problems, tt.problems)
			}
		})
	}
}

func TestValidateCycle(t *testing.T) {
	p := Plan{Tasks: []Task{
		{ID: "a", DependsOn: []string{"c"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "c", DependsOn: []string{"b"}},
	}}

	err := p.Validate()
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Errorf("Validate() error = %v, want cycle", err)
	}
	if _, err := p.Order(); err == nil {
		t.Error("Order() succeeded on a cyclic plan")
	}
}

func TestOrder(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	order, err := p.Order()
	if err != nil {
		t.Fatalf("Order() error = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("order = %v, want 4 tasks", order)
	}

	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, task := range p.Tasks {
		for _, dep := range task.DependsOn {
			if pos[dep] >= pos[task.ID] {
				t.Errorf("%s must come before %s in %v", dep, task.ID, order)
			}
		}
	}
}

func TestSpecs(t *testing.T) {
	p, err := Parse([]byte(samplePlan))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	specs, err := p.Specs(payload.NewFactory(nil))
	if err != nil {
		t.Fatalf("Specs() error = %v", err)
	}
	if len(specs) != 4 {
		t.Fatalf("specs = %d, want 4", len(specs))
	}

	build := specs[0]
	if build.ID != "build" || build.Description != "compile everything" {
		t.Errorf("build = %q %q", build.ID, build.Description)
	}
	if build.Resources["cpu"] != 2 {
		t.Errorf("cpu demand = %d, want 2", build.Resources["cpu"])
	}
	if build.Timeout != 30*time.Second {
		t.Errorf("timeout = %v, want 30s", build.Timeout)
	}
	if build.Payload == nil {
		t.Fatal("build has no payload")
	}

	result, err := build.Payload(context.Background())
	if err != nil {
		t.Fatalf("payload error = %v", err)
	}
	if result != "built" {
		t.Errorf("result = %v, want built", result)
	}

	test := specs[1]
	if test.Condition != "flaky" {
		t.Errorf("condition = %q, want flaky", test.Condition)
	}
	if _, err := test.Payload(context.Background()); err == nil || err.Error() != "tests flaked" {
		t.Errorf("payload error = %v, want tests flaked", err)
	}

	if specs[2].Supersedes != "test" {
		t.Errorf("supersedes = %q, want test", specs[2].Supersedes)
	}
	if specs[3].Payload != nil {
		t.Error("a task without an action has a payload")
	}
}

func TestSpecsRejectsInvalidAction(t *testing.T) {
	p := Plan{Tasks: []Task{{ID: "a", Action: payload.Action{Type: payload.TypeCommand}}}}

	_, err := p.Specs(payload.NewFactory(nil))
	if err == nil || !strings.Contains(err.Error(), `task "a"`) {
		t.Errorf("Specs() error = %v, want mention of task \"a\"", err)
	}
}
