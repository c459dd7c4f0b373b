package core

import "time"

// HookEventType enumerates the events an agent-CLI hook can report.
type HookEventType string

const (
	HookStopped      HookEventType = "stopped"
	HookNeedsInput   HookEventType = "needs_input"
	HookInputGiven   HookEventType = "input_provided"
	HookSessionEnded HookEventType = "session_ended"
)

// HookSignal is a single event read from a
// signal-<event>-*.json file dropped by an agent-CLI hook into the
// signals directory. Correlated to a task either by an explicit
// TaskID field or by matching ProjectDir against a known worktree
// path.
type HookSignal struct {
	Event      HookEventType
	TaskID     string // may be empty; correlate via ProjectDir instead
	ProjectDir string
	Message    string
	ReceivedAt time.Time
}

// Validate checks that the signal carries enough information to be
// correlated to a task.
func (h HookSignal) Validate() error {
	if h.Event == "" {
		return ErrValidation("EMPTY_HOOK_EVENT", "hook signal missing event")
	}
	if h.TaskID == "" && h.ProjectDir == "" {
		return ErrValidation("UNCORRELATABLE_HOOK_SIGNAL", "hook signal has neither task id nor project dir")
	}
	return nil
}
