// Package core holds the domain types shared by every adapter: tasks,
// projects, sessions, hook signals, and the port interfaces that bind
// them together.
package core

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TaskStatus is the lifecycle state of a task's kanban card.
type TaskStatus string

const (
	StatusPlanned    TaskStatus = "planned"
	StatusQueued     TaskStatus = "queued"
	StatusInProgress TaskStatus = "in_progress"
	StatusTesting    TaskStatus = "testing"
	StatusNeedsWork  TaskStatus = "needs_work"
	StatusReview     TaskStatus = "review"
	StatusDone       TaskStatus = "done"
	StatusDiscarded  TaskStatus = "discarded"
)

// IsValid reports whether s is one of the known statuses.
func (s TaskStatus) IsValid() bool {
	switch s {
	case StatusPlanned, StatusQueued, StatusInProgress, StatusTesting,
		StatusNeedsWork, StatusReview, StatusDone, StatusDiscarded:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusDiscarded
}

// transitions enumerates the legal (from -> to) edges of the task state
// machine. Discarded is reachable from every non-terminal state and is
// therefore handled separately in CanTransition.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPlanned:    {StatusQueued},
	StatusQueued:     {StatusInProgress},
	StatusInProgress: {StatusTesting, StatusNeedsWork, StatusReview},
	StatusTesting:    {StatusReview, StatusNeedsWork, StatusInProgress},
	StatusNeedsWork:  {StatusInProgress, StatusQueued},
	StatusReview:     {StatusDone, StatusNeedsWork},
	StatusDone:       {},
	StatusDiscarded:  {},
}

// CanTransition reports whether moving from `from` to `to` is legal.
// Discarded and Planned (via user-reset) are reachable from any
// non-terminal state and are handled here rather than in the edge
// table, since every other state would otherwise need to repeat them.
func CanTransition(from, to TaskStatus) bool {
	if to == StatusDiscarded || to == StatusPlanned {
		return !from.IsTerminal() && from != to
	}
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// SessionMode describes how a task's agent interaction is carried out.
type SessionMode string

const (
	SessionSdkManaged     SessionMode = "sdk_managed"
	SessionCliInteractive SessionMode = "cli_interactive"
	SessionNone           SessionMode = "none"
)

// TaskID uniquely identifies a task. ShortID is cached because it is
// used repeatedly to build worktree paths and branch names, and must
// stay stable across process restarts.
type TaskID struct {
	UUID    uuid.UUID
	ShortID string
}

// NewTaskID mints a new random task identity.
func NewTaskID() TaskID {
	id := uuid.New()
	return TaskID{UUID: id, ShortID: id.String()[:8]}
}

// ParseTaskID reconstructs a TaskID from its canonical UUID string.
func ParseTaskID(s string) (TaskID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return TaskID{}, ErrValidation("INVALID_TASK_ID", fmt.Sprintf("invalid task id %q", s)).WithCause(err)
	}
	return TaskID{UUID: id, ShortID: id.String()[:8]}, nil
}

func (t TaskID) String() string { return t.UUID.String() }

// Branch returns the git branch name derived from this task's identity.
// Branch names are derived only from the task id and are never reused.
func (t TaskID) Branch() string { return "claude/" + t.ShortID }

// Task is a single kanban card: a unit of agent work bound to a
// dedicated worktree, an optional multiplexer window, and an optional
// programmatic session.
type Task struct {
	ID           TaskID
	Title        string
	Abbreviation string // optional 4-letter human-memorable tag
	Description  string
	SpecDocument string
	ImagePaths   []string

	Status TaskStatus

	WorktreePath string
	WindowName   string
	SessionMode  SessionMode
	SessionID    string // opaque id assigned by the agent runtime, if any

	QAAttempts int

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	LastCostUSD float64
	LastUsage   map[string]int
}

// NewTask creates a task in the Planned state.
func NewTask(title string) *Task {
	return &Task{
		ID:          NewTaskID(),
		Title:       title,
		Status:      StatusPlanned,
		SessionMode: SessionNone,
		CreatedAt:   time.Now(),
	}
}

// WithDescription sets the free-form description and returns the task
// for chaining.
func (t *Task) WithDescription(desc string) *Task {
	t.Description = desc
	return t
}

// WithSpecDocument attaches a structured spec document.
func (t *Task) WithSpecDocument(doc string) *Task {
	t.SpecDocument = doc
	return t
}

// WithAbbreviation sets the human-memorable short tag.
func (t *Task) WithAbbreviation(abbr string) *Task {
	t.Abbreviation = abbr
	return t
}

// WithImages appends attached image paths.
func (t *Task) WithImages(paths ...string) *Task {
	t.ImagePaths = append(t.ImagePaths, paths...)
	return t
}

// Branch returns this task's derived branch name.
func (t *Task) Branch() string { return t.ID.Branch() }

// transition attempts to move the task to `to`, returning a DomainError
// if the edge is illegal.
func (t *Task) transition(to TaskStatus) error {
	if !CanTransition(t.Status, to) {
		return ErrState(CodeIllegalTransition,
			fmt.Sprintf("cannot move task %s from %s to %s", t.ID.ShortID, t.Status, to))
	}
	t.Status = to
	return nil
}

// MarkQueued moves a Planned task to Queued.
func (t *Task) MarkQueued() error { return t.transition(StatusQueued) }

// MarkInProgress moves a task to InProgress, recording the start time
// on first entry.
func (t *Task) MarkInProgress() error {
	if err := t.transition(StatusInProgress); err != nil {
		return err
	}
	if t.StartedAt == nil {
		now := time.Now()
		t.StartedAt = &now
	}
	return nil
}

// MarkTesting moves an InProgress task into the QA loop, counting this
// round against the attempt budget. Attempts are counted on entry
// rather than on the fail/retry exit so a single pass leaves
// QAAttempts at 1 and three straight fails leave it at 3, regardless
// of whether the third fail retries or exhausts.
func (t *Task) MarkTesting() error {
	if err := t.transition(StatusTesting); err != nil {
		return err
	}
	t.QAAttempts++
	return nil
}

// MarkNeedsWork routes a task back for more agent work. The QA
// attempt already counted on the MarkTesting entry that preceded this
// call (if any); this does not count again.
func (t *Task) MarkNeedsWork() error {
	return t.transition(StatusNeedsWork)
}

// MarkRetry routes a failing-QA task back for another round of agent
// work (qa-fail with attempts below the project's max). The attempt
// was already counted on the MarkTesting entry that preceded this
// call; the next QA round counts itself when it re-enters Testing.
// Distinct from MarkNeedsWork, which is the qa-fail-at-max /
// window-death path.
func (t *Task) MarkRetry() error {
	return t.transition(StatusInProgress)
}

// MarkPlanned resets a task back to Planned from any non-terminal
// state (user-reset), clearing worktree/window/session bookkeeping.
// The caller is responsible for tearing down the actual worktree,
// branch, and multiplexer window before or after calling this.
func (t *Task) MarkPlanned() error {
	if err := t.transition(StatusPlanned); err != nil {
		return err
	}
	t.WorktreePath = ""
	t.WindowName = ""
	t.SessionMode = SessionNone
	t.SessionID = ""
	t.QAAttempts = 0
	t.StartedAt = nil
	t.CompletedAt = nil
	return nil
}

// MarkReview moves a task to human review, either straight from
// InProgress (QA disabled) or after a passing QA pass.
func (t *Task) MarkReview() error { return t.transition(StatusReview) }

// MarkDone completes a task and records the completion time.
func (t *Task) MarkDone() error {
	if err := t.transition(StatusDone); err != nil {
		return err
	}
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// MarkDiscarded abandons a task from any non-terminal state.
func (t *Task) MarkDiscarded() error {
	if err := t.transition(StatusDiscarded); err != nil {
		return err
	}
	now := time.Now()
	t.CompletedAt = &now
	return nil
}

// Validate checks structural invariants and returns a DomainError
// describing the first violation found, or nil.
func (t *Task) Validate() error {
	if t.Title == "" {
		return ErrValidation(CodeEmptyTitle, "task title must not be empty")
	}
	if !t.Status.IsValid() {
		return ErrValidation(CodeInvalidState, fmt.Sprintf("unknown task status %q", t.Status))
	}
	if t.QAAttempts < 0 {
		return ErrValidation("NEGATIVE_QA_ATTEMPTS", "qa attempt counter cannot be negative")
	}
	return nil
}

// IsTerminal reports whether the task has reached Done or Discarded.
func (t *Task) IsTerminal() bool { return t.Status.IsTerminal() }

// Duration returns the time elapsed between start and completion (or
// now, if still running). Zero if the task never started.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return end.Sub(*t.StartedAt)
}
