package config

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultConfig returns the default configuration: five workers, no
// resources, and the urgent > optimization > validation > suggestion rules.
func DefaultConfig() *Config {
	return &Config{
		MaxWorkers: 5,
		Resources:  map[string]int{},
		Priority: PriorityConfig{
			Min:      0,
			Max:      10,
			Default:  2,
			MaxDelta: 3,
			Rules: []RuleConfig{
				{Tag: "urgent", Priority: 10},
				{Tag: "optimization", Priority: 8},
				{Tag: "validation", Priority: 6},
				{Tag: "suggestion", Priority: 4},
			},
		},
		Feedback: FeedbackConfig{
			LearningDelta:   1,
			ProviderTimeout: 5 * time.Second,
			Retry: RetryConfig{
				InitialInterval:     50 * time.Millisecond,
				MaxInterval:         time.Second,
				MaxElapsedTime:      5 * time.Second,
				Multiplier:          2.0,
				RandomizationFactor: 0.5,
			},
			Breaker: BreakerConfig{
				ConsecutiveFailures: 5,
				OpenTimeout:         30 * time.Second,
				HalfOpenRequests:    1,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// setDefaults registers every scalar key so environment overrides apply.
// Rules are filled in after unmarshaling, see Load.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("max_workers", d.MaxWorkers)
	v.SetDefault("task_timeout", d.TaskTimeout)

	v.SetDefault("priority.min", d.Priority.Min)
	v.SetDefault("priority.max", d.Priority.Max)
	v.SetDefault("priority.default", d.Priority.Default)
	v.SetDefault("priority.max_delta", d.Priority.MaxDelta)

	v.SetDefault("feedback.learning_delta", d.Feedback.LearningDelta)
	v.SetDefault("feedback.reroute_on", d.Feedback.RerouteOn)
	v.SetDefault("feedback.provider_timeout", d.Feedback.ProviderTimeout)
	v.SetDefault("feedback.retry.initial_interval", d.Feedback.Retry.InitialInterval)
	v.SetDefault("feedback.retry.max_interval", d.Feedback.Retry.MaxInterval)
	v.SetDefault("feedback.retry.max_elapsed_time", d.Feedback.Retry.MaxElapsedTime)
	v.SetDefault("feedback.retry.multiplier", d.Feedback.Retry.Multiplier)
	v.SetDefault("feedback.retry.randomization_factor", d.Feedback.Retry.RandomizationFactor)
	v.SetDefault("feedback.breaker.consecutive_failures", d.Feedback.Breaker.ConsecutiveFailures)
	v.SetDefault("feedback.breaker.open_timeout", d.Feedback.Breaker.OpenTimeout)
	v.SetDefault("feedback.breaker.half_open_requests", d.Feedback.Breaker.HalfOpenRequests)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("journal.path", d.Journal.Path)
}
