// Package payload builds task payloads from declarative actions: running
// a command, sleeping, failing, or echoing a value.
package payload

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aristath/taskcore/internal/scheduler"
)

// Action types.
const (
	TypeNone    = ""
	TypeCommand = "command"
	TypeSleep   = "sleep"
	TypeFail    = "fail"
	TypeEcho    = "echo"
)

// Action declares what a task does when executed.
type Action struct {
	Type     string        `yaml:"type" json:"type"`
	Command  string        `yaml:"command,omitempty" json:"command,omitempty"`   // command: binary to run
	Args     []string      `yaml:"args,omitempty" json:"args,omitempty"`         // command: arguments
	Dir      string        `yaml:"dir,omitempty" json:"dir,omitempty"`           // command: working directory
	Env      []string      `yaml:"env,omitempty" json:"env,omitempty"`           // command: extra KEY=VALUE pairs
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"` // sleep/fail: time spent before returning
	Message  string        `yaml:"message,omitempty" json:"message,omitempty"`   // echo: result; fail: error text
}

// CommandResult is the result of a successful command action.
type CommandResult struct {
	Stdout    string
	Stderr    string
	Truncated bool // Output exceeded MaxOutput
}

func (r CommandResult) String() string {
	return strings.TrimSpace(r.Stdout)
}

// Factory builds payloads. Commands it starts are tracked by its
// ProcessManager so they can be killed on shutdown.
type Factory struct {
	pm *ProcessManager
}

// NewFactory creates a payload factory. A nil pm disables tracking.
func NewFactory(pm *ProcessManager) *Factory {
	return &Factory{pm: pm}
}

// Validate checks an action without building it.
func (a Action) Validate() error {
	switch a.Type {
	case TypeNone, TypeEcho:
		return nil
	case TypeCommand:
		if a.Command == "" {
			return errors.New("command action needs a command")
		}
	case TypeSleep, TypeFail:
		if a.Duration < 0 {
			return fmt.Errorf("%s action has negative duration %s", a.Type, a.Duration)
		}
	default:
		return fmt.Errorf("unknown action type: %s", a.Type)
	}
	return nil
}

// Build creates the payload for an action. An empty action builds a nil
// payload, which completes immediately.
func (f *Factory) Build(a Action) (scheduler.Payload, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	switch a.Type {
	case TypeCommand:
		return f.command(a), nil
	case TypeSleep:
		return sleep(a.Duration, nil), nil
	case TypeFail:
		msg := a.Message
		if msg == "" {
			msg = "task failed"
		}
		return sleep(a.Duration, errors.New(msg)), nil
	case TypeEcho:
		msg := a.Message
		return func(ctx context.Context) (any, error) { return msg, nil }, nil
	default:
		return nil, nil
	}
}

func (f *Factory) command(a Action) scheduler.Payload {
	return func(ctx context.Context) (any, error) {
		cmd := newCommand(ctx, a.Command, a.Args...)
		cmd.Dir = a.Dir
		if len(a.Env) > 0 {
			cmd.Env = append(os.Environ(), a.Env...)
		}

		result, err := runCommand(ctx, cmd, f.pm)
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// sleep waits d, honoring cancellation, then returns err.
func sleep(d time.Duration, err error) scheduler.Payload {
	return func(ctx context.Context) (any, error) {
		if d > 0 {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err != nil {
			return nil, err
		}
		return d.String(), nil
	}
}
