// Package priority computes and adjusts task priorities.
//
// Initial priorities come from an ordered rule list evaluated top to bottom;
// the first matching rule wins and unmatched tasks get the default. Feedback
// signals adjust a task's priority by a bounded delta, and learning signals
// additionally shift a per-rule bonus that applies to future tasks matching
// the same rule. Every value the engine returns is clamped to [Min, Max].
package priority

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/taskcore/internal/scheduler"
)

// DefaultRuleName keys the learning bonus of tasks matched by no rule.
const DefaultRuleName = "default"

// Predicate reports whether a rule applies to a task.
type Predicate func(task *scheduler.Task) bool

// Rule maps a predicate to a base priority.
type Rule struct {
	Name     string
	Match    Predicate
	Priority int
}

// TagRule builds a rule matching tasks that carry tag.
func TagRule(tag string, priority int) Rule {
	return Rule{
		Name:     tag,
		Match:    func(t *scheduler.Task) bool { return t.HasTag(tag) },
		Priority: priority,
	}
}

// DefaultRules ranks urgent > optimization > validation > suggestion.
func DefaultRules() []Rule {
	return []Rule{
		TagRule("urgent", 10),
		TagRule("optimization", 8),
		TagRule("validation", 6),
		TagRule("suggestion", 4),
	}
}

// Config parameterizes the engine.
type Config struct {
	Min      int    // Lowest allowed priority
	Max      int    // Highest allowed priority
	Default  int    // Priority for tasks matching no rule
	MaxDelta int    // Largest magnitude a single signal may apply
	Rules    []Rule // Evaluated in order, first match wins
}

// DefaultConfig returns the 0-10 policy with the default rule set.
func DefaultConfig() Config {
	return Config{
		Min:      0,
		Max:      10,
		Default:  2,
		MaxDelta: 3,
		Rules:    DefaultRules(),
	}
}

// Validate checks the bounds are coherent.
func (c Config) Validate() error {
	if c.Min > c.Max {
		return fmt.Errorf("priority min %d exceeds max %d", c.Min, c.Max)
	}
	if c.MaxDelta < 0 {
		return fmt.Errorf("priority max delta must be non-negative, got %d", c.MaxDelta)
	}
	for i, r := range c.Rules {
		if r.Match == nil {
			return fmt.Errorf("priority rule %d (%q) has no predicate", i, r.Name)
		}
	}
	return nil
}

// SignalKind distinguishes relative adjustments from absolute overrides.
type SignalKind int

const (
	SignalDelta    SignalKind = iota // Value is added to the current priority
	SignalOverride                   // Value replaces the current priority
)

// Signal is a feedback input to Adjust.
type Signal struct {
	Kind   SignalKind
	Value  int
	Reason string
}

// Delta builds a relative signal.
func Delta(v int, reason string) Signal {
	return Signal{Kind: SignalDelta, Value: v, Reason: reason}
}

// Override builds an absolute signal.
func Override(v int, reason string) Signal {
	return Signal{Kind: SignalOverride, Value: v, Reason: reason}
}

// Engine owns the rule set and the learned per-rule bonus table.
type Engine struct {
	cfg Config

	mu      sync.RWMutex
	learned map[string]int // rule name -> bonus applied by Compute
}

// NewEngine creates an engine. An invalid config returns an error.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Default = clamp(cfg.Default, cfg.Min, cfg.Max)
	cfg.Rules = append([]Rule(nil), cfg.Rules...)
	return &Engine{
		cfg:     cfg,
		learned: make(map[string]int),
	}, nil
}

// Bounds returns the configured priority range.
func (e *Engine) Bounds() (min, max int) {
	return e.cfg.Min, e.cfg.Max
}

// Clamp forces p into the configured range.
func (e *Engine) Clamp(p int) int {
	return clamp(p, e.cfg.Min, e.cfg.Max)
}

// Classify returns the name of the first rule matching task, or
// DefaultRuleName.
func (e *Engine) Classify(task *scheduler.Task) string {
	name, _ := e.match(task)
	return name
}

func (e *Engine) match(task *scheduler.Task) (string, int) {
	for _, r := range e.cfg.Rules {
		if r.Match(task) {
			return r.Name, r.Priority
		}
	}
	return DefaultRuleName, e.cfg.Default
}

// Compute derives a task's initial priority: the first matching rule's
// priority plus whatever bonus learning has accumulated for that rule.
func (e *Engine) Compute(task *scheduler.Task) int {
	name, base := e.match(task)

	e.mu.RLock()
	bonus := e.learned[name]
	e.mu.RUnlock()

	return e.Clamp(base + bonus)
}

// Adjust applies a signal to the task's current priority and returns the
// clamped result. Deltas are limited to MaxDelta in either direction.
// Overrides are clamped but not delta-limited.
func (e *Engine) Adjust(task *scheduler.Task, sig Signal) int {
	switch sig.Kind {
	case SignalOverride:
		return e.Clamp(sig.Value)
	default:
		return e.Clamp(task.Priority + e.boundDelta(sig.Value))
	}
}

// Learn records a learning signal for the task's rule class so future
// tasks of the same class start higher or lower, and returns the task's
// own adjusted priority.
func (e *Engine) Learn(task *scheduler.Task, sig Signal) int {
	if sig.Kind == SignalOverride {
		return e.Adjust(task, sig)
	}

	name, base := e.match(task)
	delta := e.boundDelta(sig.Value)

	e.mu.Lock()
	// Bonus never pushes the class beyond the configured range
	bonus := clamp(e.learned[name]+delta, e.cfg.Min-base, e.cfg.Max-base)
	e.learned[name] = bonus
	e.mu.Unlock()

	return e.Adjust(task, sig)
}

// Learned returns a copy of the per-rule bonus table.
func (e *Engine) Learned() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]int, len(e.learned))
	for k, v := range e.learned {
		out[k] = v
	}
	return out
}

func (e *Engine) boundDelta(d int) int {
	return clamp(d, -e.cfg.MaxDelta, e.cfg.MaxDelta)
}

// Rank orders tasks by priority descending, breaking ties by submission
// order. The input slice is sorted in place and returned.
func Rank(tasks []*scheduler.Task) []*scheduler.Task {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].Seq < tasks[j].Seq
	})
	return tasks
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
