package orchestrator

import (
	"testing"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/qa"
)

func newTestModel(t *testing.T, maxQAAttempts int) *Model {
	t.Helper()
	project := &core.Project{
		ID:       "proj-1",
		Path:     t.TempDir(),
		Name:     "test",
		Slug:     "test",
		Settings: core.Settings{QAEnabled: true, MaxQAAttempts: maxQAAttempts},
	}
	m := New(Dependencies{QA: qa.New()})
	m.LoadProject(project, nil)
	return m
}

func inProgressTask(t *testing.T) *core.Task {
	t.Helper()
	task := core.NewTask("do the thing")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	return task
}

func TestHandleQaFail_RetriesUnderBound(t *testing.T) {
	m := newTestModel(t, 3)
	task := inProgressTask(t)
	if err := task.MarkTesting(); err != nil {
		t.Fatalf("MarkTesting: %v", err)
	}
	m.addTask(task)

	m.handleQaFail(task.ID)

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusInProgress {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusInProgress)
	}
	if got.QAAttempts != 1 {
		t.Errorf("QAAttempts = %d, want 1", got.QAAttempts)
	}
	if m.err != nil {
		t.Errorf("unexpected error: %v", m.err)
	}
}

func TestHandleQaFail_ExhaustsToNeedsWork(t *testing.T) {
	m := newTestModel(t, 3)
	task := inProgressTask(t)
	if err := task.MarkTesting(); err != nil {
		t.Fatalf("MarkTesting: %v", err)
	}
	task.QAAttempts = 3 // this Testing round is already the 3rd attempt, at the bound

	m.addTask(task)
	m.handleQaFail(task.ID)

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusNeedsWork {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusNeedsWork)
	}
	if got.QAAttempts != 3 {
		t.Errorf("QAAttempts = %d, want 3", got.QAAttempts)
	}
}

func TestHandleSessionStopped_InProgressWithQA_GoesToTesting(t *testing.T) {
	m := newTestModel(t, 3)
	task := inProgressTask(t)
	m.addTask(task)

	m.handleSessionStopped(task.ID, "")

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusTesting {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusTesting)
	}
}

func TestHandleSessionStopped_TestingScan_Pass(t *testing.T) {
	m := newTestModel(t, 3)
	task := inProgressTask(t)
	if err := task.MarkTesting(); err != nil {
		t.Fatalf("MarkTesting: %v", err)
	}
	m.addTask(task)

	m.handleSessionStopped(task.ID, "all good\n[QA:PASS]\n")

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusReview {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusReview)
	}
	if got.QAAttempts != 1 {
		t.Errorf("QAAttempts = %d, want 1 (one QA round ran before the pass)", got.QAAttempts)
	}
}

func TestHandleSessionStopped_TestingScan_Fail(t *testing.T) {
	m := newTestModel(t, 3)
	task := inProgressTask(t)
	if err := task.MarkTesting(); err != nil {
		t.Fatalf("MarkTesting: %v", err)
	}
	m.addTask(task)

	m.handleSessionStopped(task.ID, "broken\n[QA:FAIL]\n")

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusInProgress {
		t.Errorf("Status = %v, want %v (retried)", got.Status, core.StatusInProgress)
	}
	if got.QAAttempts != 1 {
		t.Errorf("QAAttempts = %d, want 1", got.QAAttempts)
	}
}

func TestHandleWindowVanished_InProgressGoesToNeedsWork(t *testing.T) {
	m := newTestModel(t, 3)
	task := inProgressTask(t)
	m.addTask(task)

	m.handleWindowVanished(task.ID)

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusNeedsWork {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusNeedsWork)
	}
}

func TestHandleWindowVanished_IgnoredOutsideInProgress(t *testing.T) {
	m := newTestModel(t, 3)
	task := core.NewTask("still planned")
	m.addTask(task)

	m.handleWindowVanished(task.ID)

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusPlanned {
		t.Errorf("Status = %v, want unchanged %v", got.Status, core.StatusPlanned)
	}
}

func TestHandleGitOpResult_Create_MarksInProgress(t *testing.T) {
	m := newTestModel(t, 3)
	task := core.NewTask("new task")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	m.addTask(task)

	m.handleGitOpResult(GitOpResultMsg{
		TaskID: task.ID,
		Op:     "create",
		Info:   &core.WorktreeInfo{TaskID: task.ID, Path: "/tmp/wt", Branch: task.Branch()},
	})

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusInProgress {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusInProgress)
	}
	if got.WorktreePath != "/tmp/wt" {
		t.Errorf("WorktreePath = %q, want /tmp/wt", got.WorktreePath)
	}
}

func TestHandleGitOpResult_Merge_MarksDone(t *testing.T) {
	m := newTestModel(t, 3)
	task := core.NewTask("reviewed task")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	if err := task.MarkInProgress(); err != nil {
		t.Fatalf("MarkInProgress: %v", err)
	}
	if err := task.MarkReview(); err != nil {
		t.Fatalf("MarkReview: %v", err)
	}
	m.addTask(task)

	m.handleGitOpResult(GitOpResultMsg{TaskID: task.ID, Op: "merge"})

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusDone {
		t.Errorf("Status = %v, want %v", got.Status, core.StatusDone)
	}
}

func TestHandleGitOpResult_CreateError_LeavesTaskUntouched(t *testing.T) {
	m := newTestModel(t, 3)
	task := core.NewTask("will fail to start")
	if err := task.MarkQueued(); err != nil {
		t.Fatalf("MarkQueued: %v", err)
	}
	m.addTask(task)

	m.handleGitOpResult(GitOpResultMsg{
		TaskID: task.ID,
		Op:     "create",
		Err:    core.ErrValidation(core.CodeBranchExists, "branch already exists"),
	})

	got, _ := m.Task(task.ID)
	if got.Status != core.StatusQueued {
		t.Errorf("Status = %v, want unchanged %v", got.Status, core.StatusQueued)
	}
	if m.err == nil {
		t.Error("expected m.err to be set from the failed git op")
	}
}
