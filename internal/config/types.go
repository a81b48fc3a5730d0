package config

import "time"

// RuleConfig maps tasks carrying a tag, a failure condition, or both to a
// base priority. Rules are evaluated in order and the first match wins.
type RuleConfig struct {
	Name      string `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`                // Learning class; defaults to the tag or condition
	Tag       string `json:"tag,omitempty" yaml:"tag,omitempty" mapstructure:"tag"`                   // Matches tasks carrying this tag
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty" mapstructure:"condition"` // Matches tasks with this condition
	Priority  int    `json:"priority" yaml:"priority" mapstructure:"priority"`
}

// PriorityConfig bounds priorities and lists the rules.
type PriorityConfig struct {
	Min      int          `json:"min" yaml:"min" mapstructure:"min"`
	Max      int          `json:"max" yaml:"max" mapstructure:"max"`
	Default  int          `json:"default" yaml:"default" mapstructure:"default"`       // Priority for tasks matching no rule
	MaxDelta int          `json:"max_delta" yaml:"max_delta" mapstructure:"max_delta"` // Largest single adjustment
	Rules    []RuleConfig `json:"rules" yaml:"rules" mapstructure:"rules"`
}

// RetryConfig tunes backoff for feedback provider calls.
type RetryConfig struct {
	InitialInterval     time.Duration `json:"initial_interval" yaml:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval         time.Duration `json:"max_interval" yaml:"max_interval" mapstructure:"max_interval"`
	MaxElapsedTime      time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time" mapstructure:"max_elapsed_time"`
	Multiplier          float64       `json:"multiplier" yaml:"multiplier" mapstructure:"multiplier"`
	RandomizationFactor float64       `json:"randomization_factor" yaml:"randomization_factor" mapstructure:"randomization_factor"`
}

// BreakerConfig tunes the circuit breaker around the feedback provider.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `json:"consecutive_failures" yaml:"consecutive_failures" mapstructure:"consecutive_failures"`
	OpenTimeout         time.Duration `json:"open_timeout" yaml:"open_timeout" mapstructure:"open_timeout"`
	HalfOpenRequests    uint32        `json:"half_open_requests" yaml:"half_open_requests" mapstructure:"half_open_requests"`
}

// FeedbackConfig controls rerouting and priority feedback.
type FeedbackConfig struct {
	LearningDelta   int           `json:"learning_delta" yaml:"learning_delta" mapstructure:"learning_delta"`
	RerouteOn       []string      `json:"reroute_on,omitempty" yaml:"reroute_on,omitempty" mapstructure:"reroute_on"` // Empty reroutes on any condition
	ProviderTimeout time.Duration `json:"provider_timeout" yaml:"provider_timeout" mapstructure:"provider_timeout"`
	Retry           RetryConfig   `json:"retry" yaml:"retry" mapstructure:"retry"`
	Breaker         BreakerConfig `json:"breaker" yaml:"breaker" mapstructure:"breaker"`
}

// LogConfig selects the log level, format, and destination.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" mapstructure:"level"`                   // debug, info, warn, error
	Format string `json:"format" yaml:"format" mapstructure:"format"`                // text or json
	File   string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"` // Empty logs to stderr
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty" mapstructure:"addr"` // Empty disables the endpoint
}

// JournalConfig controls the run journal.
type JournalConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"` // Empty disables the journal
}

// Config is the top-level configuration. Resource type names are
// case-insensitive and stored lowercase.
type Config struct {
	MaxWorkers  int            `json:"max_workers" yaml:"max_workers" mapstructure:"max_workers"`
	TaskTimeout time.Duration  `json:"task_timeout" yaml:"task_timeout" mapstructure:"task_timeout"`
	Resources   map[string]int `json:"resources" yaml:"resources" mapstructure:"resources"`
	Priority    PriorityConfig `json:"priority" yaml:"priority" mapstructure:"priority"`
	Feedback    FeedbackConfig `json:"feedback" yaml:"feedback" mapstructure:"feedback"`
	Log         LogConfig      `json:"log" yaml:"log" mapstructure:"log"`
	Metrics     MetricsConfig  `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	Journal     JournalConfig  `json:"journal" yaml:"journal" mapstructure:"journal"`
}
