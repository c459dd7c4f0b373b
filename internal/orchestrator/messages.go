// Package orchestrator implements the Task Orchestrator (C7): a single
// message enum and a pure update(model, message) -> (model, commands)
// function that owns the task model and issues typed commands to the
// worktree manager, multiplexer, co-process client, QA runner, and
// state store. Grounded on the teacher's internal/tui message/model
// split (messages.go's typed tea.Msg values plus tea.Cmd constructors,
// model.go's Update dispatch), re-keyed from a multi-agent consensus
// workflow to the worktree/session/QA task lifecycle this module
// implements.
package orchestrator

import (
	"time"

	"github.com/kanblam/kanblam/internal/core"
)

// User input intents, translated by the caller (CLI or TUI) from raw
// key/mouse events into semantic messages.

// StartTaskMsg begins agent work on a Planned or Queued task.
type StartTaskMsg struct{ TaskID core.TaskID }

// ContinueMsg sends a new prompt into a task's existing or restarted
// session, used from Review/NeedsWork back into InProgress.
type ContinueMsg struct {
	TaskID core.TaskID
	Prompt string
}

// ApplyMsg applies a task's patch onto the main worktree for testing.
type ApplyMsg struct{ TaskID core.TaskID }

// UnapplyMsg reverses a previous ApplyMsg.
type UnapplyMsg struct{ TaskID core.TaskID }

// MergeMsg integrates a task's branch into the project's default
// branch using the given strategy.
type MergeMsg struct {
	TaskID   core.TaskID
	Strategy core.MergeStrategy
}

// DiscardMsg abandons a task without merging, cleaning up its
// worktree, branch, and window.
type DiscardMsg struct{ TaskID core.TaskID }

// ResetMsg returns a task to Planned, tearing down any materialized
// worktree, branch, window, and session.
type ResetMsg struct{ TaskID core.TaskID }

// EditMsg updates a task's free-form description before it starts.
type EditMsg struct {
	TaskID      core.TaskID
	Description string
}

// NewTaskMsg creates a new Planned task from a raw description and
// kicks off title summarization.
type NewTaskMsg struct{ Description string }

// SwitchProjectMsg changes which registered project is active.
type SwitchProjectMsg struct{ ProjectID string }

// OpenProjectMsg registers and activates a project rooted at Path.
type OpenProjectMsg struct{ Path string }

// QuitMsg requests an orderly shutdown.
type QuitMsg struct{}

// Co-process outcomes (C4 notifications and call results).

// SessionStartedMsg reports that a task's programmatic session began.
type SessionStartedMsg struct {
	TaskID    core.TaskID
	SessionID string
}

// SessionOutputMsg carries an incremental output chunk for a task's
// active session.
type SessionOutputMsg struct {
	TaskID core.TaskID
	Output string
}

// SessionStoppedMsg reports that the agent finished its current turn;
// FullOutput is the accumulated transcript scanned for QA markers on
// a QA resume.
type SessionStoppedMsg struct {
	TaskID     core.TaskID
	FullOutput string
}

// SessionEndedMsg reports that a task's session terminated for any
// reason; delivered so the orchestrator never blocks waiting on it.
type SessionEndedMsg struct{ TaskID core.TaskID }

// SummarizedTitleMsg carries the co-process's response to a
// summarize_title call issued for a new task.
type SummarizedTitleMsg struct {
	TaskID       core.TaskID
	Title        string
	Abbreviation string
	Spec         string
}

// Hook-bus events (C3), decoded from signal files dropped by agent
// hooks.

// HookStoppedMsg mirrors an out-of-band `stopped` hook signal,
// delivered independently of the co-process's own SessionStoppedMsg
// so CliInteractive sessions (no co-process notification) still
// drive the QA transition.
type HookStoppedMsg struct{ TaskID core.TaskID }

// HookNeedsInputMsg reports that an interactive session is waiting on
// the user (permission prompt, idle, or elicitation).
type HookNeedsInputMsg struct {
	TaskID  core.TaskID
	Subtype string
}

// HookInputProvidedMsg reports that the user answered a prompt inside
// an interactive session window.
type HookInputProvidedMsg struct{ TaskID core.TaskID }

// HookSessionEndedMsg mirrors an out-of-band session-ended signal.
type HookSessionEndedMsg struct{ TaskID core.TaskID }

// Multiplexer events (C2).

// WindowVanishedMsg reports that a task's multiplexer window
// disappeared unexpectedly (detected by the periodic poller).
type WindowVanishedMsg struct{ TaskID core.TaskID }

// QA outcomes (C6).

// QaPassMsg reports a passing QA scan.
type QaPassMsg struct{ TaskID core.TaskID }

// QaFailMsg reports a failing (or absent-at-session-end) QA scan.
type QaFailMsg struct {
	TaskID  core.TaskID
	Details string
}

// I/O outcomes (C8 and general command results).

// PersistedMsg confirms a SaveTasks call completed.
type PersistedMsg struct{ ProjectID string }

// LoadFailedMsg reports a non-fatal persistence failure; in-memory
// state continues and the mutation is retried on the next save.
type LoadFailedMsg struct{ Err error }

// GitOpResultMsg reports the outcome of a worktree-manager operation
// (create, remove, diff, apply, unapply, merge, rebase) issued for a
// task, or of an associated startup step (ensure_session, create_window,
// start_session, resume_session, send_keys, summarize_title) folded
// into the same message shape rather than growing the enum further.
type GitOpResultMsg struct {
	TaskID   core.TaskID
	Op       string
	Info     *core.WorktreeInfo
	Merge    *core.MergeResult
	Strategy core.MergeStrategy
	Err      error

	// sessionID and sessionMode are set by cmdStartTask's final step to
	// tell Update what to record on the task once it reaches InProgress.
	sessionID   string
	sessionMode core.SessionMode
}

// WindowReadyMsg reports that a newly created multiplexer window
// reached the ready prompt (or timed out waiting for it).
type WindowReadyMsg struct {
	TaskID core.TaskID
	Ready  bool
}

// ErrMsg surfaces a transient, non-task-scoped error as a status
// message; it never panics the loop.
type ErrMsg struct{ Err error }

// tickMsg drives the low-frequency window-death poller described in
// spec.md §4.2.
type tickMsg time.Time

// Crash-recovery reconciliation (spec.md §4.4, §7, invariant 6).

// ReconcileMsg requests a reconciliation pass against the co-process
// and worktree manager's actual state, fired once at startup and again
// on every co-process reconnect.
type ReconcileMsg struct{}

// ReconcileResultMsg carries what the co-process and worktree manager
// actually hold, for Update to compare against the persisted task
// list. HasCoprocess/HasWorktrees distinguish "queried and found
// nothing" from "could not query" so a reconcile triggered before the
// co-process is dialed doesn't wrongly demote every in-flight task.
type ReconcileResultMsg struct {
	ActiveSessions  map[core.TaskID]bool
	ActiveWorktrees map[core.TaskID]bool
	HasCoprocess    bool
	HasWorktrees    bool
	Err             error
}
