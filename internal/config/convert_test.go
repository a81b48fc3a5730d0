package config

import (
	"testing"

	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/scheduler"
)

func TestToOrchestratorDefaults(t *testing.T) {
	cfg, err := DefaultConfig().ToOrchestrator()
	if err != nil {
		t.Fatalf("ToOrchestrator failed: %v", err)
	}
	if cfg.MaxWorkers != 5 {
		t.Errorf("expected 5 workers, got %d", cfg.MaxWorkers)
	}
	if len(cfg.Priority.Rules) != 4 {
		t.Fatalf("expected 4 rules, got %d", len(cfg.Priority.Rules))
	}

	engine, err := priority.NewEngine(cfg.Priority)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	tests := []struct {
		tags []string
		want int
	}{
		{[]string{"urgent"}, 10},
		{[]string{"optimization"}, 8},
		{[]string{"validation"}, 6},
		{[]string{"suggestion"}, 4},
		{nil, 2},
	}
	for _, tt := range tests {
		if got := engine.Compute(&scheduler.Task{Tags: tt.tags}); got != tt.want {
			t.Errorf("tags %v: expected priority %d, got %d", tt.tags, tt.want, got)
		}
	}
}

func TestRuleMatching(t *testing.T) {
	tests := []struct {
		name      string
		rule      RuleConfig
		task      scheduler.Task
		wantName  string
		wantMatch bool
	}{
		{"tag only", RuleConfig{Tag: "urgent"}, scheduler.Task{Tags: []string{"urgent"}}, "urgent", true},
		{"condition only", RuleConfig{Condition: "flaky"}, scheduler.Task{Condition: "flaky"}, "flaky", true},
		{"both required", RuleConfig{Tag: "io", Condition: "flaky"}, scheduler.Task{Tags: []string{"io"}}, "io:flaky", false},
		{"both present", RuleConfig{Tag: "io", Condition: "flaky"}, scheduler.Task{Tags: []string{"io"}, Condition: "flaky"}, "io:flaky", true},
		{"explicit name", RuleConfig{Name: "hot", Tag: "hotfix"}, scheduler.Task{}, "hot", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := tt.rule.Rule()
			if err != nil {
				t.Fatalf("Rule failed: %v", err)
			}
			if rule.Name != tt.wantName {
				t.Errorf("expected name %q, got %q", tt.wantName, rule.Name)
			}
			if got := rule.Match(&tt.task); got != tt.wantMatch {
				t.Errorf("expected match %v, got %v", tt.wantMatch, got)
			}
		})
	}
}

func TestToOrchestratorRejectsInvalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"rule without tag or condition", func(c *Config) { c.Priority.Rules = []RuleConfig{{Priority: 3}} }},
		{"zero workers", func(c *Config) { c.MaxWorkers = 0 }},
		{"negative resource", func(c *Config) { c.Resources = map[string]int{"cpu": -1} }},
		{"inverted bounds", func(c *Config) { c.Priority.Min, c.Priority.Max = 10, 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if _, err := cfg.ToOrchestrator(); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
