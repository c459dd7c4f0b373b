package orchestrator

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kanblam/kanblam/internal/core"
)

// taskSnapshot copies a task so a command handler can hand adapters a
// *core.Task to read (and, for Create's WorktreePath side effect,
// harmlessly mutate a throwaway copy of) without touching the model's
// own Task pointer from outside Update.
func taskSnapshot(t *core.Task) *core.Task {
	cp := *t
	return &cp
}

// enqueue wraps fn so it runs on the task's private queue and returns
// its result as a tea.Msg once the job completes. Jobs for different
// tasks run concurrently; jobs for the same task run one at a time.
func (m *Model) enqueue(id core.TaskID, fn func(ctx context.Context) tea.Msg) tea.Cmd {
	q := m.queues.get(id)
	return func() tea.Msg {
		resultCh := make(chan tea.Msg, 1)
		q.submit(func() {
			resultCh <- fn(context.Background())
		})
		return <-resultCh
	}
}

// enqueueMain wraps fn so it runs on the shared main-worktree queue,
// serializing apply/unapply/merge globally across tasks.
func (m *Model) enqueueMain(fn func(ctx context.Context) tea.Msg) tea.Cmd {
	q := m.main
	return func() tea.Msg {
		resultCh := make(chan tea.Msg, 1)
		q.submit(func() {
			resultCh <- fn(context.Background())
		})
		return <-resultCh
	}
}

// cmdStartTask materializes the worktree, multiplexer window, and
// (for SdkManaged tasks) the programmatic session for a Planned or
// Queued task.
func (m *Model) cmdStartTask(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	project := m.project
	deps := m.deps
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		info, err := deps.Worktrees.Create(ctx, snap)
		if err != nil {
			return GitOpResultMsg{TaskID: snap.ID, Op: "create", Err: err}
		}
		snap.WorktreePath = info.Path

		if err := deps.Mux.EnsureSession(ctx, project); err != nil {
			return GitOpResultMsg{TaskID: snap.ID, Op: "ensure_session", Err: err}
		}

		env := map[string]string{
			"KANBLAM_TASK_ID":      snap.ID.String(),
			"KANBLAM_PROJECT_SLUG": project.Slug,
			"KANBLAM_ORCHESTRATED": "1",
		}
		command := deps.AgentCommand
		if command == "" {
			command = "claude"
		}
		if err := deps.Mux.CreateWindow(ctx, project, snap, env, command); err != nil {
			return GitOpResultMsg{TaskID: snap.ID, Op: "create_window", Err: err}
		}

		mode := snap.SessionMode
		if mode == "" || mode == core.SessionNone {
			mode = deps.sessionMode()
		}
		if mode == core.SessionSdkManaged && deps.Coprocess != nil {
			prompt := snap.Description
			sessionID, err := deps.Coprocess.StartSession(ctx, snap.ID, prompt)
			if err != nil {
				return GitOpResultMsg{TaskID: snap.ID, Op: "start_session", Err: err}
			}
			return GitOpResultMsg{
				TaskID: snap.ID,
				Op:     "create",
				Info:   info,
				Merge:  nil,
			}.withSession(sessionID, core.SessionSdkManaged)
		}

		return GitOpResultMsg{TaskID: snap.ID, Op: "create", Info: info}.withSession("", core.SessionCliInteractive)
	})
}

// withSession attaches session-start bookkeeping to a GitOpResultMsg
// without widening its exported field set for every other Op.
func (r GitOpResultMsg) withSession(sessionID string, mode core.SessionMode) GitOpResultMsg {
	r.sessionID = sessionID
	r.sessionMode = mode
	return r
}

// cmdContinue resumes a task's session (programmatic or interactive)
// with a new prompt, used for Review/NeedsWork -> InProgress.
func (m *Model) cmdContinue(task *core.Task, prompt string) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	project := m.project
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		if snap.SessionMode == core.SessionSdkManaged && deps.Coprocess != nil {
			if err := deps.Coprocess.ResumeSession(ctx, snap.ID, prompt); err != nil {
				return GitOpResultMsg{TaskID: snap.ID, Op: "resume_session", Err: err}
			}
			return GitOpResultMsg{TaskID: snap.ID, Op: "resume_session"}
		}
		if err := deps.Mux.SendKeys(ctx, project, snap, prompt); err != nil {
			return GitOpResultMsg{TaskID: snap.ID, Op: "send_keys", Err: err}
		}
		return GitOpResultMsg{TaskID: snap.ID, Op: "send_keys"}
	})
}

// cmdQAResume resumes a task's session with the QA directive.
func (m *Model) cmdQAResume(task *core.Task) tea.Cmd {
	directive := m.deps.QA.Directive(task)
	return m.cmdContinue(task, directive)
}

// cmdApply, cmdUnapply, and cmdMerge run against the shared main
// worktree queue: spec.md §5 requires these to be globally serialized
// across tasks even though per-task queues allow independent tasks'
// other commands to run concurrently.
func (m *Model) cmdApply(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	return m.enqueueMain(func(ctx context.Context) tea.Msg {
		err := deps.Worktrees.Apply(ctx, snap)
		return GitOpResultMsg{TaskID: snap.ID, Op: "apply", Err: err}
	})
}

func (m *Model) cmdUnapply(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	return m.enqueueMain(func(ctx context.Context) tea.Msg {
		err := deps.Worktrees.Unapply(ctx, snap)
		return GitOpResultMsg{TaskID: snap.ID, Op: "unapply", Err: err}
	})
}

func (m *Model) cmdMerge(task *core.Task, strategy core.MergeStrategy) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	return m.enqueueMain(func(ctx context.Context) tea.Msg {
		result, err := deps.Worktrees.Merge(ctx, snap, strategy)
		return GitOpResultMsg{TaskID: snap.ID, Op: "merge", Merge: result, Strategy: strategy, Err: err}
	})
}

// cmdDiscard tears down a task's worktree, branch, and window without
// merging.
func (m *Model) cmdDiscard(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	project := m.project
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		if deps.Coprocess != nil && snap.SessionMode == core.SessionSdkManaged {
			_ = deps.Coprocess.StopSession(ctx, snap.ID)
		}
		_ = deps.Mux.KillWindow(ctx, project, snap)
		err := deps.Worktrees.Remove(ctx, snap, false)
		return GitOpResultMsg{TaskID: snap.ID, Op: "discard", Err: err}
	})
}

// cmdReset tears down materialized state and returns a task to
// Planned, same teardown as Discard but distinct intent (the task
// stays on the board rather than being abandoned).
func (m *Model) cmdReset(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	project := m.project
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		if deps.Coprocess != nil && snap.SessionMode == core.SessionSdkManaged {
			_ = deps.Coprocess.StopSession(ctx, snap.ID)
		}
		if snap.WindowName != "" {
			_ = deps.Mux.KillWindow(ctx, project, snap)
		}
		var err error
		if snap.WorktreePath != "" {
			err = deps.Worktrees.Remove(ctx, snap, false)
		}
		return GitOpResultMsg{TaskID: snap.ID, Op: "reset", Err: err}
	})
}

// cmdSummarizeTitle issues a one-shot summarize_title call for a
// freshly created task.
func (m *Model) cmdSummarizeTitle(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		if deps.Coprocess == nil {
			return SummarizedTitleMsg{TaskID: snap.ID, Title: snap.Description}
		}
		title, abbr, spec, err := deps.Coprocess.SummarizeTitle(ctx, snap.ID, snap.Description)
		if err != nil {
			return GitOpResultMsg{TaskID: snap.ID, Op: "summarize_title", Err: err}
		}
		return SummarizedTitleMsg{TaskID: snap.ID, Title: title, Abbreviation: abbr, Spec: spec}
	})
}

// cmdPersist atomically saves the full task list for the active
// project. Runs outside any per-task queue since it touches every
// task at once.
func (m *Model) cmdPersist() tea.Cmd {
	project := m.project
	tasks := m.Tasks()
	store := m.deps.Store
	if project == nil || store == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.SaveTasks(ctx, project, tasks); err != nil {
			return LoadFailedMsg{Err: err}
		}
		return PersistedMsg{ProjectID: project.ID}
	}
}

// listenHookSignals returns a command that waits for the next
// HookSignal from the bus and translates it to the matching message,
// rescheduling itself so the listener never misses a signal. Grounded
// on the teacher's waitForEventBusUpdate channel-drain idiom.
func listenHookSignals(bus core.HookBus) tea.Cmd {
	ctx := context.Background()
	ch, err := bus.Start(ctx)
	if err != nil {
		return func() tea.Msg { return ErrMsg{Err: err} }
	}
	return waitForHookSignal(ch)
}

func waitForHookSignal(ch <-chan core.HookSignal) tea.Cmd {
	return func() tea.Msg {
		sig, ok := <-ch
		if !ok {
			return nil
		}
		return hookSignalToMsg(sig, ch)
	}
}

func hookSignalToMsg(sig core.HookSignal, ch <-chan core.HookSignal) tea.Msg {
	id, _ := core.ParseTaskID(sig.TaskID)
	switch sig.Event {
	case core.HookStopped:
		return chainedHookMsg{HookStoppedMsg{TaskID: id}, ch}
	case core.HookNeedsInput:
		return chainedHookMsg{HookNeedsInputMsg{TaskID: id, Subtype: sig.Message}, ch}
	case core.HookInputGiven:
		return chainedHookMsg{HookInputProvidedMsg{TaskID: id}, ch}
	case core.HookSessionEnded:
		return chainedHookMsg{HookSessionEndedMsg{TaskID: id}, ch}
	default:
		return chainedHookMsg{nil, ch}
	}
}

// chainedHookMsg carries both the decoded message and the channel so
// Update can immediately re-arm the listener with a single Cmd,
// keeping the "one outstanding listen at a time" invariant without a
// background goroutine racing the orchestrator loop.
type chainedHookMsg struct {
	inner tea.Msg
	ch    <-chan core.HookSignal
}

// listenCoprocessNotifications mirrors listenHookSignals for the
// co-process's session-event stream.
func listenCoprocessNotifications(client core.CoprocessClient) tea.Cmd {
	return waitForNotification(client.Notifications())
}

func waitForNotification(ch <-chan core.SessionEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return nil
		}
		return chainedNotificationMsg{sessionEventToMsg(ev), ch}
	}
}

func sessionEventToMsg(ev core.SessionEvent) tea.Msg {
	switch ev.Event {
	case core.SessionEventStarted:
		return SessionStartedMsg{TaskID: ev.TaskID, SessionID: ev.SessionID}
	case core.SessionEventStopped:
		return SessionStoppedMsg{TaskID: ev.TaskID, FullOutput: ev.FullOutput}
	case core.SessionEventEnded:
		return SessionEndedMsg{TaskID: ev.TaskID}
	case core.SessionEventOutput, core.SessionEventWorking, core.SessionEventToolUse:
		return SessionOutputMsg{TaskID: ev.TaskID, Output: ev.Output}
	case core.SessionEventReconnected:
		return ReconcileMsg{}
	default:
		return nil
	}
}

type chainedNotificationMsg struct {
	inner tea.Msg
	ch    <-chan core.SessionEvent
}

// windowDeathTick schedules the next periodic window-existence poll.
func windowDeathTick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// cmdPollWindows checks every non-terminal task's multiplexer window
// and reports any that vanished unexpectedly.
func (m *Model) cmdPollWindows() tea.Cmd {
	deps := m.deps
	project := m.project
	if project == nil || deps.Mux == nil {
		return windowDeathTick(deps.windowPollInterval())
	}
	var candidates []*core.Task
	for _, t := range m.tasks {
		if t.Status == core.StatusInProgress || t.Status == core.StatusTesting {
			candidates = append(candidates, taskSnapshot(t))
		}
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var vanished []core.TaskID
		for _, t := range candidates {
			exists, err := deps.Mux.WindowExists(ctx, project, t)
			if err == nil && !exists {
				vanished = append(vanished, t.ID)
			}
		}
		return windowPollResultMsg{vanished: vanished, interval: deps.windowPollInterval()}
	}
}

type windowPollResultMsg struct {
	vanished []core.TaskID
	interval time.Duration
}

// cmdShutdown drains every outstanding queue job before the runtime
// actually quits, giving in-flight worktree/co-process calls a chance
// to finish rather than being abandoned mid-operation.
func (m *Model) cmdShutdown() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := m.Shutdown(ctx); err != nil {
			return ErrMsg{Err: err}
		}
		return nil
	}
}

// cmdReconcile queries the co-process and worktree manager for what
// they actually hold, run once at startup and again on every
// co-process reconnect (spec.md §4.4, §7, invariant 6). It runs
// outside any per-task queue since it touches every task at once.
func (m *Model) cmdReconcile() tea.Cmd {
	deps := m.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result := ReconcileResultMsg{
			ActiveSessions:  make(map[core.TaskID]bool),
			ActiveWorktrees: make(map[core.TaskID]bool),
		}

		if deps.Coprocess != nil {
			ids, err := deps.Coprocess.ListSessions(ctx)
			if err != nil {
				result.Err = err
			} else {
				result.HasCoprocess = true
				for _, id := range ids {
					result.ActiveSessions[id] = true
				}
			}
		}

		if deps.Worktrees != nil {
			infos, err := deps.Worktrees.List(ctx)
			if err != nil {
				if result.Err == nil {
					result.Err = err
				}
			} else {
				result.HasWorktrees = true
				for _, info := range infos {
					result.ActiveWorktrees[info.TaskID] = true
				}
			}
		}

		return result
	}
}
