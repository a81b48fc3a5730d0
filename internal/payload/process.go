package payload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"
)

// MaxOutput caps how much of each output stream a command action keeps.
// Output beyond the cap is read and discarded.
const MaxOutput = 1 << 20

// waitDelay bounds how long Wait blocks on output pipes after the process
// exits or is killed.
const waitDelay = 2 * time.Second

// newCommand creates an exec.Cmd in its own process group. Cancelling ctx
// kills the whole group rather than just the immediate child.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command failed: %v (stderr: %s)", e.Err, e.Stderr)
	}
	return fmt.Sprintf("command failed: %v", e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// cappedBuffer keeps the first limit bytes written to it.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if room := c.limit - c.buf.Len(); room < len(p) {
		c.truncated = true
		if room > 0 {
			c.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

// runCommand starts cmd, waits for it, and captures both output streams.
// While the process runs it is registered with pm when pm is non-nil.
// The result carries whatever output was captured even on failure.
func runCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (CommandResult, error) {
	stdout := &cappedBuffer{limit: MaxOutput}
	stderr := &cappedBuffer{limit: MaxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return CommandResult{}, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	waitErr := cmd.Wait()
	result := CommandResult{
		Stdout:    stdout.buf.String(),
		Stderr:    stderr.buf.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if waitErr == nil {
		return result, nil
	}

	// A killed command reports why the context ended
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("command interrupted: %w", ctxErr)
	}
	code := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		code = exitErr.ExitCode()
	}
	return result, &ExitError{Code: code, Stderr: string(bytes.TrimSpace(stderr.buf.Bytes())), Err: waitErr}
}

// killProcessGroup sends SIGKILL to the command's whole process group.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return errors.New("process not started")
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to kill process group %d: %w", cmd.Process.Pid, err)
	}
	return nil
}

// ProcessManager tracks the subprocesses started by command actions so a
// shutdown can kill any that outlive their task.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates an empty ProcessManager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started command. Unstarted commands are ignored.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	pm.procs[cmd.Process.Pid] = cmd
	pm.mu.Unlock()
}

// Untrack forgets a command.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	delete(pm.procs, cmd.Process.Pid)
	pm.mu.Unlock()
}

// Running describes each tracked process as "pid: command line", ordered
// by pid.
func (pm *ProcessManager) Running() []string {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pids := make([]int, 0, len(pm.procs))
	for pid := range pm.procs {
		pids = append(pids, pid)
	}
	sort.Ints(pids)

	out := make([]string, 0, len(pids))
	for _, pid := range pids {
		out = append(out, fmt.Sprintf("%d: %s", pid, pm.procs[pid].String()))
	}
	return out
}

// KillAll kills the process group of every tracked command. Commands stay
// tracked until their runner observes the exit.
func (pm *ProcessManager) KillAll() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	var errs []error
	for _, cmd := range pm.procs {
		if err := killProcessGroup(cmd); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
