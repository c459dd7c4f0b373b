package core

import (
	"context"
	"time"
)

// =============================================================================
// WorktreeManager Port (C1)
// =============================================================================

// WorktreeManager isolates each task's filesystem and branch state in
// its own git worktree, and carries out the stash-disciplined
// apply/unapply/merge operations against the project's main worktree.
type WorktreeManager interface {
	// Create materializes a dedicated worktree on a new branch for task.
	Create(ctx context.Context, task *Task) (*WorktreeInfo, error)

	// Remove deletes a task's worktree and, unless keepBranch is set,
	// its branch.
	Remove(ctx context.Context, task *Task, keepBranch bool) error

	// Diff returns the patch of everything committed on the task's
	// branch relative to the branch point.
	Diff(ctx context.Context, task *Task) (string, error)

	// Apply stashes any uncommitted changes in the main worktree,
	// applies the task's diff on top, and leaves the stash in place
	// until Unapply or a confirmed restore. Returns ErrConflict if the
	// patch does not apply cleanly; the main worktree is left exactly
	// as it was before the call.
	Apply(ctx context.Context, task *Task) error

	// Unapply surgically reverses a previously applied patch and pops
	// the stash saved by Apply, restoring the main worktree to its
	// pre-Apply state.
	Unapply(ctx context.Context, task *Task) error

	// Merge integrates the task branch into the project's current
	// branch using the given strategy and returns whether the merge
	// needed a fast path (already merged).
	Merge(ctx context.Context, task *Task, strategy MergeStrategy) (*MergeResult, error)

	// Rebase replays the task branch onto the project's current HEAD.
	Rebase(ctx context.Context, task *Task) error

	// List returns every worktree this manager currently tracks.
	List(ctx context.Context) ([]*WorktreeInfo, error)

	// CleanupStale removes worktrees belonging to terminal tasks that
	// are no longer referenced.
	CleanupStale(ctx context.Context, liveTasks []TaskID) error
}

// MergeStrategy selects how a task branch is integrated.
type MergeStrategy string

const (
	MergeKeepHistory MergeStrategy = "merge_keep" // ordinary merge commit
	MergeSquash      MergeStrategy = "merge_squash"
)

// MergeResult reports the outcome of a Merge call.
type MergeResult struct {
	AlreadyMerged bool
	CommitSHA     string
}

// WorktreeInfo describes a task's materialized worktree.
type WorktreeInfo struct {
	TaskID    TaskID
	Path      string
	Branch    string
	CreatedAt time.Time
	Status    WorktreeStatus
}

// WorktreeStatus represents the lifecycle state of a worktree.
type WorktreeStatus string

const (
	WorktreeStatusActive  WorktreeStatus = "active"
	WorktreeStatusStale   WorktreeStatus = "stale"
	WorktreeStatusCleaned WorktreeStatus = "cleaned"
)

// =============================================================================
// Multiplexer Port (C2)
// =============================================================================

// Multiplexer drives a terminal multiplexer (tmux): one session per
// project, one window per task.
type Multiplexer interface {
	// EnsureSession creates the project's session if it doesn't exist.
	EnsureSession(ctx context.Context, project *Project) error

	// CreateWindow opens a task's window with the given environment and
	// launches the interactive agent CLI command in it.
	CreateWindow(ctx context.Context, project *Project, task *Task, env map[string]string, command string) error

	// SendKeys types text into a task's window, as if typed by a user.
	SendKeys(ctx context.Context, project *Project, task *Task, text string) error

	// CapturePane returns the last n lines of a task window's visible
	// output.
	CapturePane(ctx context.Context, project *Project, task *Task, n int) (string, error)

	// Focus switches the attached client's focus to a task's window.
	Focus(ctx context.Context, project *Project, task *Task) error

	// KillWindow destroys a task's window.
	KillWindow(ctx context.Context, project *Project, task *Task) error

	// WindowExists reports whether a task's window is still alive,
	// used by the window-death poller.
	WindowExists(ctx context.Context, project *Project, task *Task) (bool, error)
}

// =============================================================================
// HookBus Port (C3)
// =============================================================================

// HookBus watches the signals directory for files dropped by agent-CLI
// hooks and delivers decoded HookSignal values to subscribers.
type HookBus interface {
	// Start begins watching and returns a channel of decoded signals.
	// Closing ctx stops the watch and closes the channel.
	Start(ctx context.Context) (<-chan HookSignal, error)

	// Errors returns a channel of non-fatal errors encountered while
	// watching (e.g. a malformed file moved to quarantine).
	Errors() <-chan error
}

// =============================================================================
// CoprocessClient Port (C4)
// =============================================================================

// CoprocessClient is the JSON-RPC client talking to the agent-runtime
// co-process over a Unix domain socket.
type CoprocessClient interface {
	// StartSession starts (or resumes, if already active) the
	// programmatic session for a task.
	StartSession(ctx context.Context, taskID TaskID, prompt string) (sessionID string, err error)

	// StopSession aborts the underlying agent query and marks the
	// session inactive.
	StopSession(ctx context.Context, taskID TaskID) error

	// ResumeSession continues an existing session with a new prompt,
	// used to drive the QA directive.
	ResumeSession(ctx context.Context, taskID TaskID, prompt string) error

	// SendPrompt injects an additional prompt into a task's already-
	// active session, distinct from ResumeSession's start-if-absent
	// semantics.
	SendPrompt(ctx context.Context, taskID TaskID, prompt string) error

	// GetSession reports whether the co-process still holds a live
	// session for taskID.
	GetSession(ctx context.Context, taskID TaskID) (sessionID string, active bool, err error)

	// ListSessions returns the task ids the co-process currently holds
	// a live session for. The orchestrator calls this at startup and
	// after every reconnect to reconcile persisted task state against
	// reality (spec.md §4.4, §7).
	ListSessions(ctx context.Context) ([]TaskID, error)

	// SummarizeTitle asks the co-process to turn a messy description
	// into a short title, abbreviation, and structured spec.
	SummarizeTitle(ctx context.Context, taskID TaskID, description string) (title, abbreviation, spec string, err error)

	// Notifications returns the demultiplexed stream of
	// server-initiated session events.
	Notifications() <-chan SessionEvent

	// Close shuts down the connection.
	Close() error
}

// =============================================================================
// SessionRegistry Port (C5)
// =============================================================================

// SessionRegistry tracks the orchestrator's view of live sessions: at
// most one per task, keyed by task id.
type SessionRegistry interface {
	Put(session *Session)
	Get(taskID TaskID) (*Session, bool)
	Remove(taskID TaskID)
	Active() []*Session
}

// =============================================================================
// QARunner Port (C6)
// =============================================================================

// QAOutcome is the decoded result of a QA pass.
type QAOutcome string

const (
	QAPass QAOutcome = "pass"
	QAFail QAOutcome = "fail"
	QANone QAOutcome = "none" // no terminal marker found yet
)

// QARunner decides whether accumulated session output represents a
// passing or failing QA pass.
type QARunner interface {
	// Directive returns the prompt sent to resume a session for QA.
	Directive(task *Task) string

	// Scan inspects accumulated output for a terminal QA marker.
	Scan(fullOutput string) QAOutcome
}

// =============================================================================
// StateStore Port (C8)
// =============================================================================

// StateStore persists a project's task list and the global registry.
type StateStore interface {
	// LoadTasks reads <project>/.kanblam/tasks.json, tolerating
	// unknown fields for forward compatibility. Returns an empty slice
	// if the file does not exist.
	LoadTasks(ctx context.Context, project *Project) ([]*Task, error)

	// SaveTasks atomically persists a project's task list.
	SaveTasks(ctx context.Context, project *Project, tasks []*Task) error

	// LoadRegistry reads the global ~/.kanblam/config.json registry.
	LoadRegistry(ctx context.Context) (*RegistryConfig, error)

	// SaveRegistry atomically persists the global registry.
	SaveRegistry(ctx context.Context, reg *RegistryConfig) error
}
