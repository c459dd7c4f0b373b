package orchestrator

import (
	"time"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/logging"
)

// Dependencies wires the orchestrator to its leaf adapters (C1-C6,
// C8). The orchestrator never talks to git, tmux, or the filesystem
// directly; every effect flows through one of these ports, satisfying
// spec.md §2's "C7 is the only component that mutates the task model;
// all other components are effectful leaves."
type Dependencies struct {
	Worktrees core.WorktreeManager
	Mux       core.Multiplexer
	Hooks     core.HookBus
	Coprocess core.CoprocessClient
	Sessions  core.SessionRegistry
	QA        core.QARunner
	Store     core.StateStore
	Logger    *logging.Logger

	// AgentCommand is the shell command launched in a task's
	// multiplexer window for CliInteractive sessions.
	AgentCommand string

	// DefaultSessionMode selects SdkManaged or CliInteractive for
	// newly started tasks when a task doesn't already carry one.
	DefaultSessionMode core.SessionMode

	// ReadyPattern and ReadyTimeout bound the post-launch window
	// readiness poll (spec.md §4.2).
	ReadyPattern string
	ReadyTimeout time.Duration

	// WindowPollInterval is the period of the window-death poller.
	WindowPollInterval time.Duration
}

func (d Dependencies) logger() *logging.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return logging.NewNop()
}

func (d Dependencies) sessionMode() core.SessionMode {
	if d.DefaultSessionMode != "" {
		return d.DefaultSessionMode
	}
	return core.SessionCliInteractive
}

func (d Dependencies) readyTimeout() time.Duration {
	if d.ReadyTimeout > 0 {
		return d.ReadyTimeout
	}
	return 10 * time.Second
}

func (d Dependencies) windowPollInterval() time.Duration {
	if d.WindowPollInterval > 0 {
		return d.WindowPollInterval
	}
	return 5 * time.Second
}
