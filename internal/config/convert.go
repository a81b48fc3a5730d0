package config

import (
	"fmt"
	"strings"

	"github.com/aristath/taskcore/internal/orchestrator"
	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/resource"
	"github.com/aristath/taskcore/internal/scheduler"
)

// Rule converts a rule entry into a priority rule. A rule naming both a
// tag and a condition matches tasks that carry both.
func (r RuleConfig) Rule() (priority.Rule, error) {
	if r.Tag == "" && r.Condition == "" {
		return priority.Rule{}, fmt.Errorf("rule %q needs a tag or a condition", r.Name)
	}

	name := r.Name
	if name == "" {
		name = strings.Trim(r.Tag+":"+r.Condition, ":")
	}

	tag, condition := r.Tag, r.Condition
	return priority.Rule{
		Name:     name,
		Priority: r.Priority,
		Match: func(t *scheduler.Task) bool {
			if tag != "" && !t.HasTag(tag) {
				return false
			}
			return condition == "" || t.Condition == condition
		},
	}, nil
}

// PriorityConfig converts the priority section.
func (p PriorityConfig) ToPriority() (priority.Config, error) {
	rules := make([]priority.Rule, 0, len(p.Rules))
	for i, rc := range p.Rules {
		rule, err := rc.Rule()
		if err != nil {
			return priority.Config{}, fmt.Errorf("priority rule %d: %w", i, err)
		}
		rules = append(rules, rule)
	}
	return priority.Config{
		Min:      p.Min,
		Max:      p.Max,
		Default:  p.Default,
		MaxDelta: p.MaxDelta,
		Rules:    rules,
	}, nil
}

// ToOrchestrator converts the file configuration into the orchestrator's
// runtime configuration and validates it.
func (c *Config) ToOrchestrator() (orchestrator.Config, error) {
	pc, err := c.Priority.ToPriority()
	if err != nil {
		return orchestrator.Config{}, err
	}

	pool := make(resource.Pool, len(c.Resources))
	for typ, qty := range c.Resources {
		pool[typ] = qty
	}

	out := orchestrator.Config{
		MaxWorkers:   c.MaxWorkers,
		ResourcePool: pool,
		Priority:     pc,
		TaskTimeout:  c.TaskTimeout,
		RerouteOn:    append([]string(nil), c.Feedback.RerouteOn...),
		Feedback: orchestrator.FeedbackConfig{
			LearningDelta:   c.Feedback.LearningDelta,
			ProviderTimeout: c.Feedback.ProviderTimeout,
			Retry: orchestrator.RetryConfig{
				InitialInterval:     c.Feedback.Retry.InitialInterval,
				MaxInterval:         c.Feedback.Retry.MaxInterval,
				MaxElapsedTime:      c.Feedback.Retry.MaxElapsedTime,
				Multiplier:          c.Feedback.Retry.Multiplier,
				RandomizationFactor: c.Feedback.Retry.RandomizationFactor,
			},
			Breaker: orchestrator.BreakerConfig{
				ConsecutiveFailures: c.Feedback.Breaker.ConsecutiveFailures,
				OpenTimeout:         c.Feedback.Breaker.OpenTimeout,
				HalfOpenRequests:    c.Feedback.Breaker.HalfOpenRequests,
			},
		},
	}

	if err := out.Validate(); err != nil {
		return orchestrator.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return out, nil
}
