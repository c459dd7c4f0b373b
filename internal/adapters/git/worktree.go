package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kanblam/kanblam/internal/core"
	"github.com/kanblam/kanblam/internal/logging"
)

// Compile-time interface conformance check.
var _ core.WorktreeManager = (*TaskWorktreeManager)(nil)

// resolvePath resolves symlinks and returns an absolute path.
// Needed for cross-platform path comparison (e.g. macOS /var -> /private/var).
func resolvePath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		abs, err := filepath.Abs(path)
		if err != nil {
			return path
		}
		return abs
	}
	return resolved
}

func validateWorktreeName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return core.ErrValidation("WORKTREE_NAME_REQUIRED", "worktree name required")
	}
	if strings.Contains(trimmed, "..") || strings.ContainsAny(trimmed, "/\\") {
		return core.ErrValidation("WORKTREE_NAME_INVALID", "worktree name contains invalid path characters")
	}
	return nil
}

func validateWorktreeBranch(branch string) error {
	trimmed := strings.TrimSpace(branch)
	if trimmed == "" {
		return core.ErrValidation("WORKTREE_BRANCH_REQUIRED", "worktree branch required")
	}
	if strings.Contains(trimmed, " ") || strings.Contains(trimmed, "..") {
		return core.ErrValidation("WORKTREE_BRANCH_INVALID", "worktree branch contains invalid characters")
	}
	return nil
}

// WorktreeManager manages git worktrees rooted under a base directory
// (conventionally <repo>/worktrees), keeping the main worktree
// untouched by task work until an explicit Apply/Merge.
type WorktreeManager struct {
	git     *Client
	baseDir string
	prefix  string
}

// NewWorktreeManager creates a new worktree manager.
func NewWorktreeManager(git *Client, baseDir string) *WorktreeManager {
	if baseDir == "" {
		baseDir = filepath.Join(git.RepoPath(), "worktrees")
	}
	return &WorktreeManager{git: git, baseDir: baseDir, prefix: "task-"}
}

// Worktree represents a git worktree.
type Worktree struct {
	Path      string
	Branch    string
	Commit    string
	Detached  bool
	Locked    bool
	Prunable  bool
	CreatedAt time.Time
}

// Create creates a new worktree for a branch off HEAD.
func (m *WorktreeManager) Create(ctx context.Context, name, branch string) (*Worktree, error) {
	return m.CreateFromBranch(ctx, name, branch, "")
}

// CreateFromBranch creates a new worktree for a branch, optionally from
// a base branch. If branch already exists it's checked out as-is.
func (m *WorktreeManager) CreateFromBranch(ctx context.Context, name, branch, baseBranch string) (*Worktree, error) {
	if err := validateWorktreeName(name); err != nil {
		return nil, err
	}
	if err := validateWorktreeBranch(branch); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating worktree directory: %w", err)
	}

	worktreePath := filepath.Join(m.baseDir, m.prefix+name)
	if _, err := os.Stat(worktreePath); err == nil {
		return nil, core.ErrValidation(core.CodeWorktreeExists,
			fmt.Sprintf("worktree %s already exists", name))
	}

	branches, err := m.git.ListBranches(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing branches: %w", err)
	}
	branchExists := false
	for _, b := range branches {
		if b == branch {
			branchExists = true
			break
		}
	}

	var args []string
	switch {
	case branchExists:
		args = []string{"worktree", "add", worktreePath, branch}
	case baseBranch != "":
		args = []string{"worktree", "add", "-b", branch, worktreePath, baseBranch}
	default:
		args = []string{"worktree", "add", "-b", branch, worktreePath}
	}

	if _, err := m.git.run(ctx, args...); err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	return &Worktree{Path: worktreePath, Branch: branch, CreatedAt: time.Now()}, nil
}

// Remove removes a worktree this manager owns.
func (m *WorktreeManager) Remove(ctx context.Context, path string, force bool) error {
	resolvedPath := resolvePath(path)
	resolvedBase := resolvePath(m.baseDir)
	if !strings.HasPrefix(resolvedPath, resolvedBase) {
		return core.ErrValidation("INVALID_WORKTREE", "worktree is not managed by this manager")
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	_, err := m.git.run(ctx, args...)
	return err
}

// List returns all worktrees known to git.
func (m *WorktreeManager) List(ctx context.Context) ([]Worktree, error) {
	output, err := m.git.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktreeList(output), nil
}

func parseWorktreeList(output string) []Worktree {
	worktrees := make([]Worktree, 0)
	var current *Worktree

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				worktrees = append(worktrees, *current)
			}
			current = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case current != nil:
			switch {
			case strings.HasPrefix(line, "HEAD "):
				current.Commit = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch "):
				current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
			case line == "detached":
				current.Detached = true
			case line == "locked":
				current.Locked = true
			case line == "prunable":
				current.Prunable = true
			}
		}
	}
	if current != nil {
		worktrees = append(worktrees, *current)
	}
	return worktrees
}

// ListManaged returns only worktrees created by this manager.
func (m *WorktreeManager) ListManaged(ctx context.Context) ([]Worktree, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	resolvedBase := resolvePath(m.baseDir)
	managed := make([]Worktree, 0)
	for _, wt := range all {
		if strings.HasPrefix(resolvePath(wt.Path), resolvedBase) {
			managed = append(managed, wt)
		}
	}
	return managed, nil
}

// Get returns a specific worktree by name.
func (m *WorktreeManager) Get(ctx context.Context, name string) (*Worktree, error) {
	path := filepath.Join(m.baseDir, m.prefix+name)
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	resolvedPath := resolvePath(path)
	for _, wt := range worktrees {
		if resolvePath(wt.Path) == resolvedPath {
			return &wt, nil
		}
	}
	return nil, core.ErrNotFound("worktree", name)
}

// Prune removes stale worktree entries.
func (m *WorktreeManager) Prune(ctx context.Context, dryRun bool) ([]string, error) {
	args := []string{"worktree", "prune"}
	if dryRun {
		args = append(args, "--dry-run")
	}
	args = append(args, "--verbose")

	output, err := m.git.run(ctx, args...)
	if err != nil {
		return nil, err
	}

	pruned := make([]string, 0)
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, "Removing") {
			parts := strings.Fields(line)
			if len(parts) >= 2 {
				pruned = append(pruned, parts[1])
			}
		}
	}
	return pruned, nil
}

// BaseDir returns the base directory for worktrees.
func (m *WorktreeManager) BaseDir() string { return m.baseDir }

// =============================================================================
// TaskWorktreeManager - implements core.WorktreeManager
// =============================================================================

// TaskWorktreeManager layers task identity, stash-disciplined
// apply/unapply, and merge/rebase on top of the low-level
// WorktreeManager.
type TaskWorktreeManager struct {
	manager *WorktreeManager
	main    *Client // client rooted at the project's main worktree
	logger  *logging.Logger
}

// NewTaskWorktreeManager creates a new task-aware worktree manager.
// main is a Client rooted at the project's primary worktree, against
// which Apply/Unapply/Merge operate.
func NewTaskWorktreeManager(main *Client, baseDir string) *TaskWorktreeManager {
	return &TaskWorktreeManager{
		manager: NewWorktreeManager(main, baseDir),
		main:    main,
		logger:  logging.NewNop(),
	}
}

// WithLogger sets the logger used for worktree manager warnings.
func (m *TaskWorktreeManager) WithLogger(logger *logging.Logger) *TaskWorktreeManager {
	if logger != nil {
		m.logger = logger
	}
	return m
}

func (m *TaskWorktreeManager) worktreeName(task *core.Task) string {
	return task.ID.ShortID
}

// Create materializes a dedicated worktree on task.Branch() for task,
// forked from the project's default branch. Fails with
// core.CodeBranchExists if the branch is already present (a possible
// leftover from a crashed session); the orchestrator decides whether
// to reclaim it (via Reset, which deletes it) or surface the error.
func (m *TaskWorktreeManager) Create(ctx context.Context, task *core.Task) (*core.WorktreeInfo, error) {
	name := m.worktreeName(task)
	exists, err := m.main.BranchExists(ctx, task.Branch())
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, core.ErrValidation(core.CodeBranchExists,
			fmt.Sprintf("branch %s already exists", task.Branch()))
	}
	base, err := m.main.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	wt, err := m.manager.CreateFromBranch(ctx, name, task.Branch(), base)
	if err != nil {
		return nil, err
	}
	task.WorktreePath = wt.Path
	return &core.WorktreeInfo{
		TaskID:    task.ID,
		Path:      wt.Path,
		Branch:    wt.Branch,
		CreatedAt: wt.CreatedAt,
		Status:    core.WorktreeStatusActive,
	}, nil
}

// Remove cleans up a task's worktree and, unless keepBranch is set,
// its branch too.
func (m *TaskWorktreeManager) Remove(ctx context.Context, task *core.Task, keepBranch bool) error {
	name := m.worktreeName(task)
	wt, err := m.manager.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := m.manager.Remove(ctx, wt.Path, true); err != nil {
		return err
	}
	if !keepBranch {
		_ = m.main.DeleteBranchForce(ctx, task.Branch())
	}
	return nil
}

// protectedPath is excluded from every diff, apply, unapply, and merge
// against the main worktree: it belongs to the main worktree's own
// state, never to a task branch.
const protectedPath = ".kanblam"

// Diff returns the patch of everything committed on the task's branch
// relative to its branch point off the project's default branch,
// excluding protectedPath.
func (m *TaskWorktreeManager) Diff(ctx context.Context, task *core.Task) (string, error) {
	base, err := m.main.DefaultBranch(ctx)
	if err != nil {
		return "", err
	}
	return m.main.run(ctx, "diff", base+"..."+task.Branch(), "--", ".", ":!"+protectedPath)
}

// Apply stashes uncommitted changes in the main worktree, applies the
// task's diff on top, and leaves the stash until Unapply restores it.
// On conflict the main worktree is left exactly as it was.
//
// This deliberately holds the stash across the whole applied-for-
// testing window rather than popping it immediately on top of the
// applied patch: the task's patch is meant to sit in the main worktree
// for the user to exercise until they explicitly Unapply, and an
// immediate pop would mix the user's pre-apply edits back in underneath
// it right away. Round-trip correctness (apply then unapply restores
// the main worktree byte-for-byte) still holds either way, since
// Unapply reverses the patch before touching the stash.
func (m *TaskWorktreeManager) Apply(ctx context.Context, task *core.Task) error {
	clean, err := m.main.IsClean(ctx)
	if err != nil {
		return err
	}
	stashed := false
	if !clean {
		if err := m.main.Stash(ctx, "kanblam: auto-stash before apply "+task.ID.ShortID); err != nil {
			return core.ErrConflict("STASH_FAILED", "could not stash main worktree").WithCause(err)
		}
		stashed = true
	}

	patch, err := m.Diff(ctx, task)
	if err != nil {
		if stashed {
			_ = m.main.StashPop(ctx)
		}
		return err
	}
	if patch == "" {
		return nil
	}

	if err := m.applyPatch(ctx, patch, false); err != nil {
		// Restore the main worktree exactly as it was before Apply.
		if stashed {
			_ = m.main.StashPop(ctx)
		}
		return core.ErrConflict(core.CodeMergeConflict, "task patch does not apply cleanly").WithCause(err)
	}
	return nil
}

// Unapply surgically reverses a previously applied patch and restores
// the stash saved by Apply.
func (m *TaskWorktreeManager) Unapply(ctx context.Context, task *core.Task) error {
	patch, err := m.Diff(ctx, task)
	if err != nil {
		return err
	}
	if patch != "" {
		if err := m.applyPatch(ctx, patch, true); err != nil {
			return core.ErrConflict("UNAPPLY_FAILED", "could not reverse applied patch").WithCause(err)
		}
	}
	// Pop the stash only after the reversal is confirmed, never before.
	_ = m.main.StashPop(ctx)
	return nil
}

func (m *TaskWorktreeManager) applyPatch(ctx context.Context, patch string, reverse bool) error {
	tmp, err := os.CreateTemp("", "kanblam-*.patch")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(patch); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	args := []string{"apply"}
	if reverse {
		args = append(args, "-R")
	}
	args = append(args, tmp.Name())
	_, _, err = m.main.runWithOutput(ctx, args...)
	return err
}

// Merge integrates the task branch into the project's current branch.
func (m *TaskWorktreeManager) Merge(ctx context.Context, task *core.Task, strategy core.MergeStrategy) (*core.MergeResult, error) {
	base, err := m.main.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	isAncestor, err := m.main.IsAncestor(ctx, task.Branch(), base)
	if err == nil && isAncestor {
		return &core.MergeResult{AlreadyMerged: true}, nil
	}

	preMergeHead, err := m.main.CurrentCommit(ctx)
	if err != nil {
		return nil, err
	}

	opts := MergeOptions{Message: fmt.Sprintf("merge task %s", task.ID.ShortID)}
	if strategy == core.MergeSquash {
		opts.Squash = true
	}
	if err := m.main.Merge(ctx, task.Branch(), opts); err != nil {
		return nil, core.ErrConflict(core.CodeMergeConflict, "merge failed").WithCause(err)
	}
	// Never let a task branch overwrite the main worktree's own state:
	// restore protectedPath to exactly what it was pre-merge.
	if err := m.restoreProtectedPath(ctx, preMergeHead); err != nil {
		m.logger.Warn("failed to restore protected path after merge", "error", err)
	}
	if strategy == core.MergeSquash {
		if _, err := m.main.Commit(ctx, opts.Message); err != nil {
			return nil, err
		}
	}
	sha, err := m.main.CurrentCommit(ctx)
	if err != nil {
		return nil, err
	}
	return &core.MergeResult{CommitSHA: sha}, nil
}

// restoreProtectedPath checks out protectedPath from ref, undoing
// anything the merge brought in, and removes it if it didn't exist at
// ref either.
func (m *TaskWorktreeManager) restoreProtectedPath(ctx context.Context, ref string) error {
	if _, err := m.main.run(ctx, "ls-tree", ref, protectedPath); err == nil {
		_, err := m.main.run(ctx, "checkout", ref, "--", protectedPath)
		return err
	}
	full := filepath.Join(m.main.RepoPath(), protectedPath)
	if _, err := os.Stat(full); err == nil {
		_, _ = m.main.run(ctx, "reset", "--", protectedPath)
	}
	return nil
}

// Rebase replays the task branch onto the project's current HEAD.
func (m *TaskWorktreeManager) Rebase(ctx context.Context, task *core.Task) error {
	client, err := NewClient(task.WorktreePath)
	if err != nil {
		return err
	}
	base, err := m.main.DefaultBranch(ctx)
	if err != nil {
		return err
	}
	return client.Rebase(ctx, base)
}

// List returns every worktree this manager currently tracks.
func (m *TaskWorktreeManager) List(ctx context.Context) ([]*core.WorktreeInfo, error) {
	managed, err := m.manager.ListManaged(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]*core.WorktreeInfo, 0, len(managed))
	for _, wt := range managed {
		name := strings.TrimPrefix(filepath.Base(wt.Path), m.manager.prefix)
		id, err := core.ParseTaskID(name)
		if err != nil {
			// Not a task worktree we minted (e.g. manually created); skip.
			continue
		}
		status := core.WorktreeStatusActive
		if wt.Prunable {
			status = core.WorktreeStatusStale
		}
		result = append(result, &core.WorktreeInfo{
			TaskID: id, Path: wt.Path, Branch: wt.Branch, Status: status,
		})
	}
	return result, nil
}

// CleanupStale removes worktrees whose task is not in liveTasks.
func (m *TaskWorktreeManager) CleanupStale(ctx context.Context, liveTasks []core.TaskID) error {
	live := make(map[string]bool, len(liveTasks))
	for _, id := range liveTasks {
		live[id.String()] = true
	}

	all, err := m.List(ctx)
	if err != nil {
		return err
	}
	for _, wt := range all {
		if live[wt.TaskID.String()] {
			continue
		}
		if err := m.manager.Remove(ctx, wt.Path, true); err != nil {
			m.logger.Warn("failed to remove stale worktree", "path", wt.Path, "error", err)
		}
	}
	_, _ = m.manager.Prune(ctx, false)
	return nil
}

// Manager returns the underlying low-level WorktreeManager.
func (m *TaskWorktreeManager) Manager() *WorktreeManager { return m.manager }
