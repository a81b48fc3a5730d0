package orchestrator

import (
	"fmt"
	"time"

	"github.com/aristath/taskcore/internal/priority"
	"github.com/aristath/taskcore/internal/resource"
)

// TimeoutCondition is the condition tag that reroutes a task only when its
// failure was a timeout.
const TimeoutCondition = "timeout"

// Config controls dispatch, prioritization, and rerouting.
type Config struct {
	MaxWorkers   int             // Concurrent payload executions per cycle (default 5)
	ResourcePool resource.Pool   // Capacity per resource type
	Priority     priority.Config // Bounds and ordered rules
	TaskTimeout  time.Duration   // Applied to tasks without their own timeout (0 = none)

	// RerouteOn lists the condition tags that turn a failure into Rerouted.
	// When empty, any non-empty condition reroutes.
	RerouteOn []string

	Feedback FeedbackConfig
}

// FeedbackConfig tunes the learning signal and the protection around the
// optional feedback provider.
type FeedbackConfig struct {
	LearningDelta   int           // Magnitude of success/failure learning signals (default 1)
	ProviderTimeout time.Duration // Per-call deadline for the provider (0 = none)
	Retry           RetryConfig
	Breaker         BreakerConfig
}

// DefaultConfig returns a ready-to-use configuration with no resources.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:   5,
		ResourcePool: resource.Pool{},
		Priority:     priority.DefaultConfig(),
		Feedback: FeedbackConfig{
			LearningDelta:   1,
			ProviderTimeout: 5 * time.Second,
			Retry:           DefaultRetryConfig(),
			Breaker:         DefaultBreakerConfig(),
		},
	}
}

// Validate checks the configuration for values the orchestrator cannot run with.
func (c Config) Validate() error {
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max workers must be positive, got %d", c.MaxWorkers)
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("task timeout must not be negative, got %s", c.TaskTimeout)
	}
	for typ, qty := range c.ResourcePool {
		if qty < 0 {
			return fmt.Errorf("resource %q has negative capacity %d", typ, qty)
		}
	}
	if c.Feedback.LearningDelta < 0 {
		return fmt.Errorf("learning delta must not be negative, got %d", c.Feedback.LearningDelta)
	}
	if err := c.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority config: %w", err)
	}
	return nil
}

func (c Config) reroutes(condition string) bool {
	if condition == "" {
		return false
	}
	if len(c.RerouteOn) == 0 {
		return true
	}
	for _, tag := range c.RerouteOn {
		if tag == condition {
			return true
		}
	}
	return false
}
