package orchestrator

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kanblam/kanblam/internal/core"
)

// update is the pure state-transition function: it mutates m in place
// (Model is owned exclusively by this function, per spec.md §5) and
// returns the side-effect commands the runtime should execute. It
// never blocks; every branch either returns immediately or hands back
// a tea.Cmd for the async runtime to execute later.
func update(m *Model, msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	// --- user input intents ---
	case StartTaskMsg:
		return m, m.handleStartTask(msg.TaskID)
	case ContinueMsg:
		return m, m.handleContinue(msg.TaskID, msg.Prompt)
	case ApplyMsg:
		return m, m.handleApply(msg.TaskID)
	case UnapplyMsg:
		return m, m.handleUnapply(msg.TaskID)
	case MergeMsg:
		return m, m.handleMerge(msg.TaskID, msg.Strategy)
	case DiscardMsg:
		return m, m.handleDiscard(msg.TaskID)
	case ResetMsg:
		return m, m.handleReset(msg.TaskID)
	case EditMsg:
		return m, m.handleEdit(msg.TaskID, msg.Description)
	case NewTaskMsg:
		return m, m.handleNewTask(msg.Description)
	case OpenProjectMsg:
		return m, m.cmdOpenProject(msg.Path)
	case SwitchProjectMsg:
		m.setStatus("switch project requested: %s (board stays on the active project; use a fresh OpenProjectMsg to load another)", msg.ProjectID)
		return m, nil
	case QuitMsg:
		m.quitting = true
		return m, tea.Batch(m.cmdShutdown(), tea.Quit)

	// --- co-process outcomes ---
	case SessionStartedMsg:
		return m, m.handleSessionStarted(msg)
	case SessionOutputMsg:
		m.setStatus("[%s] %s", msg.TaskID.ShortID, firstLine(msg.Output))
		return m, nil
	case SessionStoppedMsg:
		return m, m.handleSessionStopped(msg.TaskID, msg.FullOutput)
	case SessionEndedMsg:
		return m, m.handleSessionEnded(msg.TaskID)
	case SummarizedTitleMsg:
		return m, m.handleSummarizedTitle(msg)

	// --- hook-bus events ---
	case HookStoppedMsg:
		return m, m.handleHookStopped(msg.TaskID)
	case HookNeedsInputMsg:
		m.setStatus("[%s] waiting on you (%s)", msg.TaskID.ShortID, msg.Subtype)
		return m, nil
	case HookInputProvidedMsg:
		m.setStatus("[%s] input provided", msg.TaskID.ShortID)
		return m, nil
	case HookSessionEndedMsg:
		return m, m.handleSessionEnded(msg.TaskID)

	// --- multiplexer events ---
	case WindowVanishedMsg:
		return m, m.handleWindowVanished(msg.TaskID)

	// --- QA outcomes ---
	case QaPassMsg:
		return m, m.handleQaPass(msg.TaskID)
	case QaFailMsg:
		return m, m.handleQaFail(msg.TaskID)

	// --- I/O outcomes ---
	case PersistedMsg:
		m.err = nil
		return m, nil
	case LoadFailedMsg:
		m.setErr(msg.Err)
		return m, nil
	case GitOpResultMsg:
		return m, m.handleGitOpResult(msg)

	// --- internal plumbing ---
	case projectLoadedMsg:
		m.LoadProject(msg.project, msg.tasks)
		m.setStatus("opened %s", msg.project.Name)
		return m, nil
	case chainedHookMsg:
		var cmd tea.Cmd
		if msg.inner != nil {
			_, cmd = update(m, msg.inner)
		}
		return m, tea.Batch(cmd, waitForHookSignal(msg.ch))
	case chainedNotificationMsg:
		var cmd tea.Cmd
		if msg.inner != nil {
			_, cmd = update(m, msg.inner)
		}
		return m, tea.Batch(cmd, waitForNotification(msg.ch))
	case windowPollResultMsg:
		var cmds []tea.Cmd
		for _, id := range msg.vanished {
			_, cmd := update(m, WindowVanishedMsg{TaskID: id})
			cmds = append(cmds, cmd)
		}
		cmds = append(cmds, windowDeathTick(msg.interval))
		return m, tea.Batch(cmds...)
	case tickMsg:
		return m, m.cmdPollWindows()
	case ErrMsg:
		m.setErr(msg.Err)
		return m, nil

	// --- crash-recovery reconciliation ---
	case ReconcileMsg:
		return m, m.cmdReconcile()
	case ReconcileResultMsg:
		return m, m.handleReconcileResult(msg)
	}

	return m, nil
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func (m *Model) handleStartTask(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	switch t.Status {
	case core.StatusPlanned:
		if err := t.MarkQueued(); err != nil {
			m.setErr(err)
			return nil
		}
	case core.StatusQueued:
		// already queued, e.g. retrying after a failed create; fall through.
	default:
		m.setErr(core.ErrState(core.CodeIllegalTransition, fmt.Sprintf("task %s is not startable from %s", t.ID.ShortID, t.Status)))
		return nil
	}
	return m.cmdStartTask(t)
}

func (m *Model) handleContinue(id core.TaskID, prompt string) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	if err := t.MarkInProgress(); err != nil {
		m.setErr(err)
		return nil
	}
	return tea.Batch(m.cmdContinue(t, prompt), m.cmdPersist())
}

func (m *Model) handleApply(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	return m.cmdApply(t)
}

func (m *Model) handleUnapply(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	return m.cmdUnapply(t)
}

func (m *Model) handleMerge(id core.TaskID, strategy core.MergeStrategy) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	return m.cmdMerge(t, strategy)
}

func (m *Model) handleDiscard(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	return m.cmdDiscard(t)
}

func (m *Model) handleReset(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	return m.cmdReset(t)
}

func (m *Model) handleEdit(id core.TaskID, description string) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		m.setErr(core.ErrNotFound("task", id.String()))
		return nil
	}
	t.Description = description
	return m.cmdPersist()
}

func (m *Model) handleNewTask(description string) tea.Cmd {
	t := core.NewTask(description).WithDescription(description)
	m.addTask(t)
	return tea.Batch(m.cmdSummarizeTitle(t), m.cmdPersist())
}

func (m *Model) handleSummarizedTitle(msg SummarizedTitleMsg) tea.Cmd {
	t, ok := m.tasks[msg.TaskID]
	if !ok {
		return nil
	}
	if msg.Title != "" {
		t.Title = msg.Title
	}
	if msg.Abbreviation != "" {
		t.Abbreviation = msg.Abbreviation
	}
	if msg.Spec != "" {
		t.SpecDocument = msg.Spec
	}
	return m.cmdPersist()
}

func (m *Model) handleSessionStarted(msg SessionStartedMsg) tea.Cmd {
	t, ok := m.tasks[msg.TaskID]
	if !ok {
		return nil
	}
	t.SessionID = msg.SessionID
	if m.deps.Sessions != nil {
		coprocess := m.deps.Coprocess
		cancel := func() {
			if coprocess != nil {
				ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = coprocess.StopSession(ctx, msg.TaskID)
			}
		}
		m.deps.Sessions.Put(core.NewSession(msg.TaskID, msg.SessionID, t.WorktreePath, cancel))
	}
	return nil
}

// handleSessionStopped implements the agent-stopped transition
// (spec.md §3/§4.6): InProgress -> Testing (QA enabled) or -> Review
// (QA disabled); a stop arriving while already in Testing is the end
// of a QA resume round and is scanned for the pass/fail marker.
func (m *Model) handleSessionStopped(id core.TaskID, fullOutput string) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	switch t.Status {
	case core.StatusInProgress:
		if m.project != nil && m.project.Settings.QAEnabled {
			if err := t.MarkTesting(); err != nil {
				m.setErr(err)
				return nil
			}
			return m.cmdQAResume(t)
		}
		if err := t.MarkReview(); err != nil {
			m.setErr(err)
			return nil
		}
		return m.cmdPersist()
	case core.StatusTesting:
		outcome := m.deps.QA.Scan(fullOutput)
		if outcome == core.QAPass {
			_, cmd := update(m, QaPassMsg{TaskID: id})
			return cmd
		}
		_, cmd := update(m, QaFailMsg{TaskID: id, Details: fullOutput})
		return cmd
	default:
		return nil
	}
}

func (m *Model) handleQaPass(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	if err := t.MarkReview(); err != nil {
		m.setErr(err)
		return nil
	}
	return m.cmdPersist()
}

// handleQaFail implements the bounded-retry boundary from spec.md §8:
// a failure that would push the attempt counter below max retries
// back into InProgress with feedback; a failure at the max routes to
// NeedsWork with a warning indicator, no further retry.
func (m *Model) handleQaFail(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	max := 3
	if m.project != nil && m.project.Settings.MaxQAAttempts > 0 {
		max = m.project.Settings.MaxQAAttempts
	}
	if t.QAAttempts < max {
		if err := t.MarkRetry(); err != nil {
			m.setErr(err)
			return nil
		}
		return tea.Batch(m.cmdQAResume(t), m.cmdPersist())
	}
	if err := t.MarkNeedsWork(); err != nil {
		m.setErr(err)
		return nil
	}
	m.setStatus("[%s] QA exhausted after %d attempts, needs work", t.ID.ShortID, t.QAAttempts)
	return m.cmdPersist()
}

func (m *Model) handleSessionEnded(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	if m.deps.Sessions != nil {
		m.deps.Sessions.Remove(id)
	}
	if t.Status == core.StatusInProgress || t.Status == core.StatusTesting {
		if err := t.MarkNeedsWork(); err != nil {
			m.setErr(err)
			return nil
		}
		return m.cmdPersist()
	}
	return nil
}

// handleHookStopped mirrors handleSessionStopped for CliInteractive
// tasks, which have no co-process notification stream: the pane's
// visible output stands in for the accumulated transcript.
func (m *Model) handleHookStopped(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	if t.SessionMode != core.SessionCliInteractive || m.deps.Mux == nil {
		return nil
	}
	switch t.Status {
	case core.StatusInProgress, core.StatusTesting:
		return m.cmdCapturePaneForQA(t)
	default:
		return nil
	}
}

func (m *Model) cmdCapturePaneForQA(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	project := m.project
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		output, err := deps.Mux.CapturePane(ctx, project, snap, 500)
		if err != nil {
			return GitOpResultMsg{TaskID: snap.ID, Op: "capture_pane", Err: err}
		}
		return SessionStoppedMsg{TaskID: snap.ID, FullOutput: output}
	})
}

func (m *Model) handleWindowVanished(id core.TaskID) tea.Cmd {
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	if t.Status != core.StatusInProgress {
		return nil
	}
	if err := t.MarkNeedsWork(); err != nil {
		m.setErr(err)
		return nil
	}
	m.setStatus("[%s] window vanished, needs work", t.ID.ShortID)
	return m.cmdPersist()
}

// handleReconcileResult compares persisted InProgress/Testing tasks
// against what the co-process and worktree manager actually hold
// (spec.md §4.4, §7, invariant 6): a task whose session or worktree no
// longer exists moves to NeedsWork without the worktree itself being
// touched, since the reconciliation query that detected the loss is
// the only thing that ran. A query that failed outright (HasCoprocess/
// HasWorktrees false) is treated as "unknown", never as "gone", so a
// reconcile fired before the co-process finishes dialing can't wrongly
// demote every in-flight task.
func (m *Model) handleReconcileResult(msg ReconcileResultMsg) tea.Cmd {
	if msg.Err != nil {
		m.setErr(msg.Err)
	}

	stale := make(map[core.TaskID]bool)
	for id, t := range m.tasks {
		if t.Status != core.StatusInProgress && t.Status != core.StatusTesting {
			continue
		}
		if msg.HasCoprocess && t.SessionMode == core.SessionSdkManaged && !msg.ActiveSessions[id] {
			stale[id] = true
		}
		if msg.HasWorktrees && t.WorktreePath != "" && !msg.ActiveWorktrees[id] {
			stale[id] = true
		}
	}

	if len(stale) == 0 {
		return nil
	}

	for id := range stale {
		t := m.tasks[id]
		if err := t.MarkNeedsWork(); err != nil {
			m.setErr(err)
			continue
		}
		m.setStatus("[%s] lost session or worktree across restart, needs work", t.ID.ShortID)
	}
	return m.cmdPersist()
}

// handleGitOpResult routes the outcome of every worktree-manager
// operation issued through cmdStartTask/cmdApply/cmdUnapply/cmdMerge/
// cmdDiscard/cmdReset back into the task state machine.
func (m *Model) handleGitOpResult(msg GitOpResultMsg) tea.Cmd {
	t, ok := m.tasks[msg.TaskID]
	if !ok {
		return nil
	}
	if msg.Err != nil {
		m.setErr(msg.Err)
		if msg.Op == "apply" || msg.Op == "unapply" || msg.Op == "merge" {
			// Main-worktree operations restore their own pre-op state on
			// failure (spec.md §4.1); the task stays exactly where it was.
			return nil
		}
		return nil
	}

	switch msg.Op {
	case "create":
		if msg.Info != nil {
			t.WorktreePath = msg.Info.Path
		}
		t.WindowName = "task-" + t.ID.ShortID
		t.SessionMode = msg.sessionMode
		t.SessionID = msg.sessionID
		if err := t.MarkInProgress(); err != nil {
			m.setErr(err)
			return nil
		}
		m.setStatus("[%s] started", t.ID.ShortID)
		return m.cmdPersist()

	case "merge":
		if err := t.MarkDone(); err != nil {
			m.setErr(err)
			return nil
		}
		if msg.Strategy == core.MergeSquash {
			return tea.Batch(m.cmdRemoveAfterMerge(t), m.cmdPersist())
		}
		return m.cmdPersist()

	case "discard":
		if err := t.MarkDiscarded(); err != nil {
			m.setErr(err)
			return nil
		}
		m.queues.drop(t.ID)
		return m.cmdPersist()

	case "reset":
		if err := t.MarkPlanned(); err != nil {
			m.setErr(err)
			return nil
		}
		return m.cmdPersist()

	default:
		return nil
	}
}

func (m *Model) cmdRemoveAfterMerge(task *core.Task) tea.Cmd {
	snap := taskSnapshot(task)
	deps := m.deps
	return m.enqueue(task.ID, func(ctx context.Context) tea.Msg {
		err := deps.Worktrees.Remove(ctx, snap, false)
		return GitOpResultMsg{TaskID: snap.ID, Op: "remove_after_merge", Err: err}
	})
}

// projectLoadedMsg is an internal result of cmdOpenProject, not part
// of the message enum's external surface.
type projectLoadedMsg struct {
	project *core.Project
	tasks   []*core.Task
}

func (m *Model) cmdOpenProject(path string) tea.Cmd {
	store := m.deps.Store
	return func() tea.Msg {
		project, err := core.NewProject(path, "")
		if err != nil {
			return LoadFailedMsg{Err: err}
		}
		if store == nil {
			return projectLoadedMsg{project: project}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		tasks, err := store.LoadTasks(ctx, project)
		if err != nil {
			return LoadFailedMsg{Err: err}
		}
		for _, t := range tasks {
			project.AddTask(t.ID)
		}
		return projectLoadedMsg{project: project, tasks: tasks}
	}
}
