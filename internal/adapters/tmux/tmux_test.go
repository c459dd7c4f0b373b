package tmux

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/kanblam/kanblam/internal/core"
)

func testProject(t *testing.T) *core.Project {
	t.Helper()
	p, err := core.NewProject(t.TempDir(), "demo repo")
	if err != nil {
		t.Fatalf("NewProject error: %v", err)
	}
	return p
}

func TestWindowName(t *testing.T) {
	task := core.NewTask("x")
	got := windowName(task)
	want := "task-" + task.ID.ShortID
	if got != want {
		t.Fatalf("windowName() = %q, want %q", got, want)
	}
}

func TestWindowTarget(t *testing.T) {
	project := testProject(t)
	task := core.NewTask("x")
	got := windowTarget(project, task)
	want := project.MultiplexerSessionName() + ":" + windowName(task)
	if got != want {
		t.Fatalf("windowTarget() = %q, want %q", got, want)
	}
}

func TestShellQuote(t *testing.T) {
	cases := map[string]string{
		"abc":    "'abc'",
		"a'b":    `'a'\''b'`,
		"":       "''",
		"a b c":  "'a b c'",
	}
	for in, want := range cases {
		if got := shellQuote(in); got != want {
			t.Fatalf("shellQuote(%q) = %q, want %q", in, got, want)
		}
	}
}

func requireTmux(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tmux"); err != nil {
		t.Skip("tmux not available")
	}
}

func TestController_SessionAndWindowLifecycle(t *testing.T) {
	requireTmux(t)
	ctrl, err := New("sh")
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	project := testProject(t)
	task := core.NewTask("demo task")
	task.WorktreePath = project.Path

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ctrl.EnsureSession(ctx, project); err != nil {
		t.Fatalf("EnsureSession error: %v", err)
	}
	defer func() { _, _ = ctrl.run(ctx, "kill-session", "-t", project.MultiplexerSessionName()) }()

	if err := ctrl.CreateWindow(ctx, project, task, map[string]string{"KANBLAM_TASK_ID": task.ID.String()}, "sh"); err != nil {
		t.Fatalf("CreateWindow error: %v", err)
	}

	exists, err := ctrl.WindowExists(ctx, project, task)
	if err != nil {
		t.Fatalf("WindowExists error: %v", err)
	}
	if !exists {
		t.Fatalf("expected window to exist after CreateWindow")
	}

	if err := ctrl.KillWindow(ctx, project, task); err != nil {
		t.Fatalf("KillWindow error: %v", err)
	}

	exists, err = ctrl.WindowExists(ctx, project, task)
	if err != nil {
		t.Fatalf("WindowExists error: %v", err)
	}
	if exists {
		t.Fatalf("expected window to be gone after KillWindow")
	}

	// Idempotent.
	if err := ctrl.KillWindow(ctx, project, task); err != nil {
		t.Fatalf("KillWindow on missing window should be idempotent: %v", err)
	}
}
