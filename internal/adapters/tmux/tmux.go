// Package tmux implements the Multiplexer port (C2) by shelling out to
// the tmux CLI: one session per project, one window per task.
package tmux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kanblam/kanblam/internal/core"
)

// Controller drives tmux for every project the orchestrator manages.
// No tmux control library exists in the example pack, so this wraps
// the tmux binary directly via os/exec, the same context-timeout +
// captured-output subprocess shape as adapters/git.Client.run.
type Controller struct {
	binPath     string
	timeout     time.Duration
	agentCmd    string // interactive agent CLI command line to launch in each window
	gracePeriod time.Duration
}

// New creates a tmux Controller. agentCmd is the interactive agent CLI
// invocation launched in every task window (e.g. "claude").
func New(agentCmd string) (*Controller, error) {
	bin, err := exec.LookPath("tmux")
	if err != nil {
		return nil, core.ErrValidation("TMUX_NOT_FOUND", "tmux binary not found on PATH").WithCause(err)
	}
	return &Controller{
		binPath:     bin,
		timeout:     10 * time.Second,
		agentCmd:    agentCmd,
		gracePeriod: 3 * time.Second,
	}, nil
}

var _ core.Multiplexer = (*Controller)(nil)

func (c *Controller) run(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, c.binPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", core.ErrTimeout("tmux command timed out")
		}
		return "", fmt.Errorf("tmux %s: %s: %w", strings.Join(args, " "), stderr.String(), err)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func windowTarget(project *core.Project, task *core.Task) string {
	return fmt.Sprintf("%s:%s", project.MultiplexerSessionName(), windowName(task))
}

func windowName(task *core.Task) string {
	return "task-" + task.ID.ShortID
}

// EnsureSession creates the project's tmux session if it doesn't exist
// yet, detached, rooted at the project's path.
func (c *Controller) EnsureSession(ctx context.Context, project *core.Project) error {
	name := project.MultiplexerSessionName()
	if _, err := c.run(ctx, "has-session", "-t", name); err == nil {
		return nil
	}
	_, err := c.run(ctx, "new-session", "-d", "-s", name, "-c", project.Path)
	if err != nil {
		return core.ErrExecution("TMUX_SESSION_FAILED", "could not create tmux session").WithCause(err)
	}
	return nil
}

// CreateWindow opens a task's window, sets env vars identifying the
// launch as orchestrator-driven, and runs the interactive agent CLI.
func (c *Controller) CreateWindow(ctx context.Context, project *core.Project, task *core.Task, env map[string]string, command string) error {
	if command == "" {
		command = c.agentCmd
	}
	sessionName := project.MultiplexerSessionName()
	args := []string{"new-window", "-d", "-t", sessionName, "-n", windowName(task), "-c", task.WorktreePath}
	if _, err := c.run(ctx, args...); err != nil {
		return core.ErrExecution("TMUX_WINDOW_FAILED", "could not create tmux window").WithCause(err)
	}

	target := windowTarget(project, task)
	for k, v := range env {
		exportCmd := fmt.Sprintf("export %s=%s", k, shellQuote(v))
		if err := c.sendLine(ctx, target, exportCmd); err != nil {
			return err
		}
	}
	return c.sendLine(ctx, target, command)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (c *Controller) sendLine(ctx context.Context, target, line string) error {
	_, err := c.run(ctx, "send-keys", "-t", target, line, "Enter")
	return err
}

// SendKeys types text into a task's window as if a user had typed it.
func (c *Controller) SendKeys(ctx context.Context, project *core.Project, task *core.Task, text string) error {
	return c.sendLine(ctx, windowTarget(project, task), text)
}

// CapturePane returns the last n lines of a task window's visible
// output.
func (c *Controller) CapturePane(ctx context.Context, project *core.Project, task *core.Task, n int) (string, error) {
	if n <= 0 {
		n = 200
	}
	out, err := c.run(ctx, "capture-pane", "-p", "-t", windowTarget(project, task), "-S", "-"+strconv.Itoa(n))
	if err != nil {
		return "", core.ErrExecution("TMUX_CAPTURE_FAILED", "could not capture pane").WithCause(err)
	}
	return out, nil
}

// Focus switches the attached client's focus to a task's window.
func (c *Controller) Focus(ctx context.Context, project *core.Project, task *core.Task) error {
	_, err := c.run(ctx, "select-window", "-t", windowTarget(project, task))
	return err
}

// KillWindow destroys a task's window. Idempotent: a missing window is
// not an error.
func (c *Controller) KillWindow(ctx context.Context, project *core.Project, task *core.Task) error {
	exists, err := c.WindowExists(ctx, project, task)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = c.run(ctx, "kill-window", "-t", windowTarget(project, task))
	if err != nil {
		return core.ErrExecution("TMUX_KILL_FAILED", "could not kill tmux window").WithCause(err)
	}
	return nil
}

// WindowExists reports whether a task's window is still alive, used by
// the window-death poller.
func (c *Controller) WindowExists(ctx context.Context, project *core.Project, task *core.Task) (bool, error) {
	out, err := c.run(ctx, "list-windows", "-t", project.MultiplexerSessionName(), "-F", "#{window_name}")
	if err != nil {
		// No session at all means no window either.
		return false, nil
	}
	want := windowName(task)
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == want {
			return true, nil
		}
	}
	return false, nil
}

// WaitReady polls CapturePane until promptPattern appears or timeout
// elapses, falling back to a bounded delay. Used after launching the
// interactive agent to detect readiness without a fixed sleep.
func (c *Controller) WaitReady(ctx context.Context, project *core.Project, task *core.Task, promptPattern string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		out, err := c.CapturePane(ctx, project, task, 50)
		if err == nil && strings.Contains(out, promptPattern) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
