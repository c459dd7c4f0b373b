package core

import "context"

// Session is the co-process's live record of a task's programmatic
// agent session. The co-process owns live sessions; the orchestrator
// owns the task-id -> session-id mapping recorded on Task.SessionID.
type Session struct {
	TaskID      TaskID
	SessionID   string
	WorkDir     string
	Active      bool
	cancel      context.CancelFunc
}

// NewSession creates a session record bound to a cancellation handle.
func NewSession(taskID TaskID, sessionID, workDir string, cancel context.CancelFunc) *Session {
	return &Session{
		TaskID:    taskID,
		SessionID: sessionID,
		WorkDir:   workDir,
		Active:    true,
		cancel:    cancel,
	}
}

// Cancel aborts the underlying agent query and marks the session
// inactive. Safe to call multiple times.
func (s *Session) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
	s.Active = false
}

// SessionEventType enumerates the co-process notifications relayed to
// the orchestrator for a session.
type SessionEventType string

const (
	SessionEventStarted    SessionEventType = "started"
	SessionEventStopped    SessionEventType = "stopped"
	SessionEventEnded      SessionEventType = "ended"
	SessionEventNeedsInput SessionEventType = "needs_input"
	SessionEventWorking    SessionEventType = "working"
	SessionEventToolUse    SessionEventType = "tool_use"
	SessionEventOutput     SessionEventType = "output"

	// SessionEventReconnected is synthesized by the CoprocessClient
	// itself (never sent by the co-process) when the underlying socket
	// reconnects after a drop. It carries no TaskID; it is a cue for
	// the orchestrator to reconcile the whole board via ListSessions.
	SessionEventReconnected SessionEventType = "reconnected"
)

// SessionEvent is a single co-process notification about a task's
// session, decoded from the JSON-RPC notification stream.
type SessionEvent struct {
	TaskID     TaskID
	Event      SessionEventType
	SessionID  string
	Message    string
	ToolName   string
	Output     string
	FullOutput string
	CostUSD    float64
	Usage      map[string]int
}

// IsTerminal reports whether this event ends the session regardless of
// cause, so the orchestrator never blocks waiting on it.
func (e SessionEvent) IsTerminal() bool {
	return e.Event == SessionEventEnded || e.Event == SessionEventStopped
}
