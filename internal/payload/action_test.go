package payload

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestBuild(t *testing.T) {
	f := NewFactory(nil)

	tests := []struct {
		name       string
		action     Action
		wantResult string
		wantErr    string
		nilPayload bool
	}{
		{name: "none", action: Action{}, nilPayload: true},
		{name: "echo", action: Action{Type: TypeEcho, Message: "hi"}, wantResult: "hi"},
		{name: "sleep", action: Action{Type: TypeSleep, Duration: 5 * time.Millisecond}, wantResult: "5ms"},
		{name: "fail default message", action: Action{Type: TypeFail}, wantErr: "task failed"},
		{name: "fail custom message", action: Action{Type: TypeFail, Message: "disk full"}, wantErr: "disk full"},
		{name: "command", action: Action{Type: TypeCommand, Command: "echo", Args: []string{"built"}}, wantResult: "built"},
		{name: "command env", action: Action{Type: TypeCommand, Command: "bash", Args: []string{"-c", "echo $GREETING"}, Env: []string{"GREETING=hello"}}, wantResult: "hello"},
		{name: "command dir", action: Action{Type: TypeCommand, Command: "pwd", Dir: "/"}, wantResult: "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := f.Build(tt.action)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if tt.nilPayload {
				if p != nil {
					t.Error("Expected nil payload")
				}
				return
			}

			result, err := p(context.Background())
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("Expected error %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Payload failed: %v", err)
			}

			got := result
			if cr, ok := result.(CommandResult); ok {
				got = cr.String()
			}
			if got != tt.wantResult {
				t.Errorf("Expected result %q, got %v", tt.wantResult, got)
			}
		})
	}
}

func TestBuildRejectsInvalid(t *testing.T) {
	f := NewFactory(nil)

	tests := []struct {
		name   string
		action Action
		want   string
	}{
		{"unknown type", Action{Type: "teleport"}, "unknown action type"},
		{"command without binary", Action{Type: TypeCommand}, "needs a command"},
		{"negative sleep", Action{Type: TypeSleep, Duration: -time.Second}, "negative duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.Build(tt.action); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	p, err := NewFactory(nil).Build(Action{Type: TypeSleep, Duration: time.Minute})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if _, err := p(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Sleep ignored cancellation")
	}
}

func TestCommandTrackedByFactory(t *testing.T) {
	pm := NewProcessManager()
	p, err := NewFactory(pm).Build(Action{Type: TypeCommand, Command: "sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pm.Count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := pm.KillAll(); err != nil {
		t.Fatalf("KillAll failed: %v", err)
	}

	select {
	case err := <-done:
		var exitErr *ExitError
		if !errors.As(err, &exitErr) {
			t.Errorf("Expected *ExitError from killed command, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Command survived KillAll")
	}
}
