package orchestrator

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/kanblam/kanblam/internal/core"
)

// Model owns the task board for the active project. It is mutated
// only inside Update (spec.md §5: "the task model is owned exclusively
// by the orchestrator and mutated only inside update"). Every other
// field access from a command handler must go through a read-only
// snapshot (see taskSnapshot in commands.go).
type Model struct {
	deps Dependencies

	project *core.Project
	tasks   map[core.TaskID]*core.Task
	order   []core.TaskID // board order, mirrors project.TaskIDs

	selected int
	status   string
	err      error

	queues *queueRegistry
	main   *taskQueue

	quitting bool
}

// New creates an orchestrator Model with no active project. Call
// OpenProjectMsg (via Update) or LoadProject to populate one.
func New(deps Dependencies) *Model {
	return &Model{
		deps:   deps,
		tasks:  make(map[core.TaskID]*core.Task),
		queues: newQueueRegistry(),
		main:   newTaskQueue(),
	}
}

var _ tea.Model = (*Model)(nil)

// Init starts the hook-signal listener, the window-death poller, and
// a crash-recovery reconciliation pass against whatever the co-process
// and worktree manager actually hold (spec.md §4.4, §7).
func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{windowDeathTick(m.deps.windowPollInterval()), m.cmdReconcile()}
	if m.deps.Hooks != nil {
		cmds = append(cmds, listenHookSignals(m.deps.Hooks))
	}
	if m.deps.Coprocess != nil {
		cmds = append(cmds, listenCoprocessNotifications(m.deps.Coprocess))
	}
	return tea.Batch(cmds...)
}

// Update is the single entry point mutating the model; see update.go
// for the dispatch table.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return update(m, msg)
}

// View renders a minimal textual summary of the board. Full kanban
// rendering is a thin view-layer collaborator outside this package's
// scope (spec.md §1); this exists only so Model satisfies tea.Model
// end-to-end and so headless callers (tests, the signal subcommand's
// smoke checks) have something to print.
func (m *Model) View() string {
	if m.project == nil {
		return "no project open\n"
	}
	out := fmt.Sprintf("%s (%d tasks)\n", m.project.Name, len(m.order))
	for i, id := range m.order {
		t := m.tasks[id]
		marker := "  "
		if i == m.selected {
			marker = "> "
		}
		out += fmt.Sprintf("%s[%s] %-8s %s\n", marker, t.ID.ShortID, t.Status, t.Title)
	}
	if m.status != "" {
		out += "\n" + m.status + "\n"
	}
	if m.err != nil {
		out += "error: " + m.err.Error() + "\n"
	}
	return out
}

// LoadProject sets the active project and its tasks directly, used by
// callers (cmd/kanblam) that load synchronously at startup instead of
// dispatching OpenProjectMsg through the message loop.
func (m *Model) LoadProject(project *core.Project, tasks []*core.Task) {
	m.project = project
	m.tasks = make(map[core.TaskID]*core.Task, len(tasks))
	m.order = m.order[:0]
	for _, t := range tasks {
		m.tasks[t.ID] = t
		m.order = append(m.order, t.ID)
	}
}

// Project returns the active project, or nil.
func (m *Model) Project() *core.Project { return m.project }

// Tasks returns the board's tasks in display order.
func (m *Model) Tasks() []*core.Task {
	out := make([]*core.Task, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.tasks[id])
	}
	return out
}

// Task looks up a single task by id.
func (m *Model) Task(id core.TaskID) (*core.Task, bool) {
	t, ok := m.tasks[id]
	return t, ok
}

// Status returns the current transient status message.
func (m *Model) Status() string { return m.status }

// Err returns the last transient error, if any.
func (m *Model) Err() error { return m.err }

// Quitting reports whether shutdown has been requested.
func (m *Model) Quitting() bool { return m.quitting }

func (m *Model) addTask(t *core.Task) {
	m.tasks[t.ID] = t
	m.order = append(m.order, t.ID)
	if m.project != nil {
		m.project.AddTask(t.ID)
	}
}

func (m *Model) removeTask(id core.TaskID) {
	delete(m.tasks, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	if m.project != nil {
		m.project.RemoveTask(id)
	}
	m.queues.drop(id)
}

func (m *Model) setStatus(format string, args ...interface{}) {
	m.status = fmt.Sprintf(format, args...)
}

func (m *Model) setErr(err error) { m.err = err }

// Shutdown drains every per-task queue and the shared main-worktree
// queue before the process exits, so a quit request never truncates a
// job already in flight. Bounded by ctx; a queue that doesn't drain in
// time is reported but doesn't block the others.
func (m *Model) Shutdown(ctx context.Context) error {
	m.main.close()
	mainErr := m.main.awaitDrain(ctx)
	queuesErr := m.queues.CloseAll(ctx)
	if mainErr != nil {
		return mainErr
	}
	return queuesErr
}
