package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roverdev/rover/internal/task"
	"github.com/roverdev/rover/internal/workflow"
	"github.com/roverdev/rover/internal/workspace"
)

// fakeWorkspace records calls and simulates worktree creation on disk so
// delete-tolerance scenarios can remove the directory out of band.
type fakeWorkspace struct {
	root            string
	createErr       error
	removed         []string
	deletedBranches []string
	pruned          int
	pushed          []string
}

func (f *fakeWorkspace) WorktreePath(taskID int) string {
	return filepath.Join(f.root, "worktrees", "task-"+strconv.Itoa(taskID))
}

func (f *fakeWorkspace) CreateWorktree(taskID int, branch, base string) (string, error) {
	if f.createErr != nil {
		return "", f.createErr
	}
	path := f.WorktreePath(taskID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeWorkspace) RemoveWorktree(path string, force bool) error {
	f.removed = append(f.removed, path)
	return os.RemoveAll(path)
}

func (f *fakeWorkspace) DeleteBranch(branch string) error {
	f.deletedBranches = append(f.deletedBranches, branch)
	return nil
}

func (f *fakeWorkspace) PruneWorktrees() error {
	f.pruned++
	return nil
}

func (f *fakeWorkspace) CurrentBranch() (string, error) { return "main", nil }

func (f *fakeWorkspace) PushBranch(remote, branch string) error {
	f.pushed = append(f.pushed, remote+" "+branch)
	return nil
}

type fakeSandbox struct {
	startErr error
	started  int
	stopped  int
}

func (f *fakeSandbox) CreateAndStart(_ context.Context, record *task.Record) (string, error) {
	f.started++
	if f.startErr != nil {
		return "", f.startErr
	}
	return fmt.Sprintf("container-%d-%d", record.ID, f.started), nil
}

func (f *fakeSandbox) StopAndRemove(context.Context, *task.Record) error {
	f.stopped++
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *task.Store, *fakeWorkspace, *fakeSandbox) {
	t.Helper()
	root := t.TempDir()
	store, err := task.NewStore(root, nil)
	require.NoError(t, err)
	ws := &fakeWorkspace{root: root}
	sb := &fakeSandbox{}
	o, err := New(store, ws, sb, nil, workflow.NewRegistry(store.Root()), nil)
	require.NoError(t, err)
	return o, store, ws, sb
}

func TestCreate_HappyPath(t *testing.T) {
	o, store, _, sb := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "fix the login retry loop"})
	require.NoError(t, err)
	assert.True(t, result.Started)

	record, err := store.Load(result.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, record.Status)
	assert.Equal(t, "fix the login retry loop", record.Title)
	assert.NotEmpty(t, record.WorktreePath)
	assert.Equal(t, "rover/task-1", record.BranchName)
	assert.NotEmpty(t, record.ContainerID)
	assert.Equal(t, 1, sb.started)

	iterations, err := store.LoadIterations(record.ID)
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	assert.Equal(t, "fix the login retry loop", iterations[0].Description)
}

func TestCreate_SandboxFailureLeavesLoadableNewTask(t *testing.T) {
	o, store, _, sb := newTestOrchestrator(t)
	sb.startErr = errors.New("docker daemon unreachable")

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Started)
	assert.Contains(t, result.RetryHint, "restart")

	// The task must be loadable in new, not absent and not stuck.
	record, loadErr := store.Load(result.Record.ID)
	require.NoError(t, loadErr)
	assert.Equal(t, task.StatusNew, record.Status)
	assert.Empty(t, record.ContainerID)
	assert.Equal(t, "do X", record.Description)
}

func TestCreate_WorktreeFailureLeavesTaskInspectable(t *testing.T) {
	o, store, ws, sb := newTestOrchestrator(t)
	ws.createErr = errors.New("branch already checked out")

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.Error(t, err)
	require.NotNil(t, result)

	record, loadErr := store.Load(result.Record.ID)
	require.NoError(t, loadErr)
	assert.Equal(t, task.StatusNew, record.Status)
	assert.Empty(t, record.WorktreePath)
	assert.Zero(t, sb.started)
}

func TestCreate_MissingRequiredInputRejectedBeforeSideEffects(t *testing.T) {
	o, store, _, sb := newTestOrchestrator(t)

	_, err := o.Create(t.Context(), CreateOptions{Description: "   "})
	require.ErrorIs(t, err, workflow.ErrMissingInput)

	records, listErr := store.List()
	require.NoError(t, listErr)
	assert.Empty(t, records)
	assert.Zero(t, sb.started)
}

func TestStart_RejectsNonNewNamingStatus(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)

	_, err = o.Start(t.Context(), result.Record.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in_progress")
}

func TestStop_MakesTaskRetryable(t *testing.T) {
	o, store, _, sb := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)
	id := result.Record.ID

	record, err := o.Stop(t.Context(), id, StopOptions{KeepIterations: true})
	require.NoError(t, err)
	assert.Equal(t, task.StatusNew, record.Status)
	assert.Empty(t, record.ContainerID)
	assert.Empty(t, record.WorktreePath)
	assert.Empty(t, record.BranchName)
	assert.Equal(t, 1, sb.stopped)

	// Retryable: start succeeds again from new.
	restarted, err := o.Start(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, restarted.Status)

	persisted, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, persisted.Status)
}

func TestStop_RemoveWorktreeTearsDownGitState(t *testing.T) {
	o, _, ws, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)

	_, err = o.Stop(t.Context(), result.Record.ID, StopOptions{RemoveWorktree: true, KeepIterations: true})
	require.NoError(t, err)
	assert.Len(t, ws.removed, 1)
	assert.Equal(t, []string{"rover/task-1"}, ws.deletedBranches)
}

func TestStop_DefaultDiscardsIterations(t *testing.T) {
	o, store, _, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)

	_, err = o.Stop(t.Context(), result.Record.ID, StopOptions{})
	require.NoError(t, err)

	iterations, err := store.LoadIterations(result.Record.ID)
	require.NoError(t, err)
	assert.Empty(t, iterations)
}

func TestStop_KeepIterationsPreservesSummaries(t *testing.T) {
	o, store, _, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)
	id := result.Record.ID

	iterations, err := store.LoadIterations(id)
	require.NoError(t, err)
	require.Len(t, iterations, 1)
	iterations[0].Complete(task.IterationCompleted, "did the thing")
	require.NoError(t, store.SaveIteration(id, iterations[0]))

	_, err = o.Stop(t.Context(), id, StopOptions{KeepIterations: true})
	require.NoError(t, err)

	summaries, err := store.IterationSummaries(id)
	require.NoError(t, err)
	assert.Equal(t, []string{"did the thing"}, summaries)
}

// initGitRepo builds a real repository with one commit on main.
func initGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	steps := [][]string{
		{"init", "-b", "main"},
		{"config", "user.email", "test@example.com"},
		{"config", "user.name", "Test"},
	}
	for _, args := range steps {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))
	for _, args := range [][]string{{"add", "-A"}, {"commit", "-m", "initial commit"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}
	return dir
}

func TestStopThenStart_RebindsSurvivingWorktree(t *testing.T) {
	dir := initGitRepo(t)
	store, err := task.NewStore(dir, nil)
	require.NoError(t, err)
	manager, err := workspace.NewManager(dir, nil)
	require.NoError(t, err)
	sb := &fakeSandbox{}
	o, err := New(store, manager, sb, nil, workflow.NewRegistry(store.Root()), nil)
	require.NoError(t, err)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)
	id := result.Record.ID
	worktree := result.Record.WorktreePath

	// A plain stop keeps the worktree on disk but clears the binding.
	stopped, err := o.Stop(t.Context(), id, StopOptions{KeepIterations: true})
	require.NoError(t, err)
	assert.Empty(t, stopped.WorktreePath)
	_, statErr := os.Stat(worktree)
	require.NoError(t, statErr)

	restarted, err := o.Start(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, restarted.Status)
	assert.Equal(t, worktree, restarted.WorktreePath)
	assert.Equal(t, 2, sb.started)
}

func TestRestart_OpensFreshIteration(t *testing.T) {
	o, store, _, sb := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)
	id := result.Record.ID

	record, err := o.Restart(t.Context(), id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusInProgress, record.Status)
	assert.Equal(t, 2, record.Iterations)
	assert.Equal(t, 2, sb.started)

	iterations, err := store.LoadIterations(id)
	require.NoError(t, err)
	require.Len(t, iterations, 2)
	assert.Equal(t, 2, iterations[1].Number)
}

func TestDelete_ToleratesMissingWorktree(t *testing.T) {
	o, store, _, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)
	id := result.Record.ID

	// Simulate out-of-band deletion of the worktree directory.
	require.NoError(t, os.RemoveAll(result.Record.WorktreePath))

	require.NoError(t, o.Delete(t.Context(), id))

	_, err = store.Load(id)
	require.ErrorIs(t, err, task.ErrNotFound)

	records, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestDelete_MissingTask(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	err := o.Delete(t.Context(), 99)
	require.ErrorIs(t, err, task.ErrNotFound)
}

func TestPush_RequiresCompletedTask(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)

	_, err = o.Push(t.Context(), result.Record.ID, "origin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only completed tasks")
}

func TestPush_MarksPushed(t *testing.T) {
	o, store, ws, _ := newTestOrchestrator(t)

	result, err := o.Create(t.Context(), CreateOptions{Description: "do X"})
	require.NoError(t, err)
	id := result.Record.ID

	record, err := store.Load(id)
	require.NoError(t, err)
	require.NoError(t, record.MarkCompleted())
	require.NoError(t, store.Save(record))

	pushed, err := o.Push(t.Context(), id, "")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPushed, pushed.Status)
	assert.Equal(t, []string{"origin rover/task-1"}, ws.pushed)
}

func TestDeriveTitle(t *testing.T) {
	assert.Equal(t, "fix login", deriveTitle("fix login\nmore detail"))
	assert.Equal(t, "Untitled task", deriveTitle("   "))

	long := deriveTitle(strings.Repeat("a", 120))
	assert.LessOrEqual(t, len(long), maxTitleLength)
	assert.Contains(t, long, "...")
}
