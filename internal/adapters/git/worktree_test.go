package git_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kanblam/kanblam/internal/adapters/git"
	"github.com/kanblam/kanblam/internal/core"
)

// testRepo is a temporary git repository used to exercise the
// Worktree Manager (C1) against a real git binary, the same shape as
// the teacher's internal/testutil.GitRepo fixture, inlined here since
// that shared helper package was not carried over (see DESIGN.md).
type testRepo struct {
	t    *testing.T
	path string
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()
	r := &testRepo{t: t, path: dir}
	r.run("init")
	r.run("config", "user.email", "test@example.com")
	r.run("config", "user.name", "Test User")
	r.run("checkout", "-b", "main")
	return r
}

func (r *testRepo) run(args ...string) string {
	r.t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = r.path
	out, err := cmd.CombinedOutput()
	if err != nil {
		r.t.Fatalf("git %v: %s: %v", args, out, err)
	}
	return strings.TrimSpace(string(out))
}

func (r *testRepo) writeFile(name, content string) {
	r.t.Helper()
	full := filepath.Join(r.path, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		r.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		r.t.Fatalf("writefile: %v", err)
	}
}

func (r *testRepo) readFile(name string) string {
	r.t.Helper()
	data, err := os.ReadFile(filepath.Join(r.path, name))
	if err != nil {
		r.t.Fatalf("readfile: %v", err)
	}
	return string(data)
}

func (r *testRepo) commit(message string) string {
	r.t.Helper()
	r.run("add", "-A")
	r.run("commit", "-m", message, "--allow-empty")
	return r.run("rev-parse", "HEAD")
}

func (r *testRepo) gitClient(t *testing.T) *git.Client {
	t.Helper()
	client, err := git.NewClient(r.path)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func newTaskWorktreeManager(t *testing.T, r *testRepo) (*git.TaskWorktreeManager, *git.Client) {
	t.Helper()
	client, err := git.NewClient(r.path)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	baseDir := filepath.Join(r.path, "worktrees")
	mgr := git.NewTaskWorktreeManager(client, baseDir)
	return mgr, client
}

func newPlannedTask(title string) *core.Task {
	return core.NewTask(title)
}

func TestTaskWorktreeManager_Create(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("README.md", "# hello\n")
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")

	info, err := mgr.Create(ctx, task)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Branch != task.Branch() {
		t.Errorf("Branch = %q, want %q", info.Branch, task.Branch())
	}
	wantPath := filepath.Join(repo.path, "worktrees", "task-"+task.ID.ShortID)
	if info.Path != wantPath {
		t.Errorf("Path = %q, want %q", info.Path, wantPath)
	}
	if _, err := os.Stat(info.Path); err != nil {
		t.Errorf("worktree directory missing: %v", err)
	}
	if task.WorktreePath != info.Path {
		t.Errorf("task.WorktreePath not updated")
	}
}

func TestTaskWorktreeManager_Create_BranchExists(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("README.md", "# hello\n")
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")

	if _, err := mgr.Create(ctx, task); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := mgr.Remove(ctx, task, true); err != nil { // leaves the branch, like a crashed session
		t.Fatalf("Remove: %v", err)
	}

	_, err := mgr.Create(ctx, task)
	if err == nil {
		t.Fatal("expected BranchExists error on second Create, got nil")
	}
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("expected validation category, got %v", core.GetCategory(err))
	}
}

func TestTaskWorktreeManager_Remove(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("README.md", "# hello\n")
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")

	info, err := mgr.Create(ctx, task)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := mgr.Remove(ctx, task, false); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(info.Path); !os.IsNotExist(err) {
		t.Errorf("worktree directory still exists after Remove, stat err = %v", err)
	}
	if exists, err := repo.gitClient(t).BranchExists(ctx, task.Branch()); err != nil {
		t.Fatalf("BranchExists: %v", err)
	} else if exists {
		t.Error("branch should be deleted when keepBranch is false")
	}

	// Removing an already-removed worktree surfaces a not-found error
	// rather than silently succeeding.
	err = mgr.Remove(ctx, task, false)
	if !core.IsCategory(err, core.ErrCatNotFound) {
		t.Errorf("expected not_found category on double Remove, got %v", core.GetCategory(err))
	}
}

func TestTaskWorktreeManager_Diff_ExcludesProtectedPath(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("README.md", "# hello\n")
	repo.writeFile(".kanblam/tasks.json", `{"tasks":[]}`)
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")
	info, err := mgr.Create(ctx, task)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	taskRepo := &testRepo{t: t, path: info.Path}
	taskRepo.writeFile("src/x.txt", "task change\n")
	taskRepo.writeFile(".kanblam/tasks.json", `{"tasks":["poisoned"]}`)
	taskRepo.commit("task work")

	patch, err := mgr.Diff(ctx, task)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(patch, "src/x.txt") {
		t.Errorf("expected diff to contain src/x.txt, got: %s", patch)
	}
	if strings.Contains(patch, ".kanblam") {
		t.Errorf("diff must exclude .kanblam, got: %s", patch)
	}
}

// TestTaskWorktreeManager_ApplyUnapply_RoundTrip exercises invariant 5
// from spec.md §8: after Apply followed by Unapply with no intervening
// user edits, the main worktree is byte-identical to its pre-apply
// state, including the user's stashed uncommitted edit.
func TestTaskWorktreeManager_ApplyUnapply_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("src/x.txt", "original\n")
	repo.writeFile("README.md", "# hello\n")
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")
	info, err := mgr.Create(ctx, task)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	taskRepo := &testRepo{t: t, path: info.Path}
	taskRepo.writeFile("src/y.txt", "new file from task\n")
	taskRepo.commit("task work")

	// Simulate the user's uncommitted edit in the main worktree.
	repo.writeFile("README.md", "# hello, locally edited\n")

	if err := mgr.Apply(ctx, task); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := repo.readFile("src/y.txt"); got != "new file from task\n" {
		t.Errorf("after Apply, src/y.txt = %q", got)
	}
	// The user's uncommitted edit is stashed away for the duration of
	// the review, so the committed content shows through until Unapply
	// pops it back.
	if got := repo.readFile("README.md"); got != "# hello\n" {
		t.Errorf("after Apply, README.md = %q, want committed content while the local edit is stashed", got)
	}

	if err := mgr.Unapply(ctx, task); err != nil {
		t.Fatalf("Unapply: %v", err)
	}
	if _, err := os.Stat(filepath.Join(repo.path, "src", "y.txt")); !os.IsNotExist(err) {
		t.Errorf("after Unapply, src/y.txt should not exist, stat err = %v", err)
	}
	if got := repo.readFile("README.md"); got != "# hello, locally edited\n" {
		t.Errorf("after Unapply, README.md = %q, want local edit restored", got)
	}
}

func TestTaskWorktreeManager_Merge_AlreadyMerged(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("README.md", "# hello\n")
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")
	if _, err := mgr.Create(ctx, task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	result, err := mgr.Merge(ctx, task, core.MergeKeepHistory)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !result.AlreadyMerged {
		t.Error("expected AlreadyMerged for a fresh branch merged into its own ancestor")
	}
}

func TestTaskWorktreeManager_Merge_KeepHistory(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	repo.writeFile("README.md", "# hello\n")
	repo.commit("initial")

	mgr, _ := newTaskWorktreeManager(t, repo)
	task := newPlannedTask("add feature")
	info, err := mgr.Create(ctx, task)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	taskRepo := &testRepo{t: t, path: info.Path}
	taskRepo.writeFile("src/new.txt", "feature\n")
	taskRepo.commit("add feature")

	result, err := mgr.Merge(ctx, task, core.MergeKeepHistory)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if result.AlreadyMerged {
		t.Error("did not expect AlreadyMerged")
	}
	if got := repo.readFile("src/new.txt"); got != "feature\n" {
		t.Errorf("src/new.txt = %q after merge", got)
	}
}
