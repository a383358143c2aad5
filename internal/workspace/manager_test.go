package workspace

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo builds a real repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGitCmd(t, dir, "init", "-b", "main")
	runGitCmd(t, dir, "config", "user.email", "test@example.com")
	runGitCmd(t, dir, "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# test\n"), 0o644))
	runGitCmd(t, dir, "add", "-A")
	runGitCmd(t, dir, "commit", "-m", "initial commit")
	return dir
}

func runGitCmd(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
}

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := initRepo(t)
	m, err := NewManager(dir, nil)
	require.NoError(t, err)
	return m, dir
}

func TestNewManager_RequiresRepoRoot(t *testing.T) {
	_, err := NewManager("", nil)
	require.Error(t, err)
}

func TestCreateWorktree_NewBranch(t *testing.T) {
	m, _ := newTestManager(t)

	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)
	assert.Equal(t, m.WorktreePath(1), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	exists, err := m.BranchExists(BranchName(1))
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateWorktree_ReusesSurvivingWorktree(t *testing.T) {
	m, _ := newTestManager(t)

	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)

	// A stopped task keeps its worktree on disk; binding it again must
	// return the surviving worktree instead of failing to add a second one.
	again, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestCreateWorktree_RecreatesAfterOutOfBandRemoval(t *testing.T) {
	m, _ := newTestManager(t)

	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(path))

	// The stale registration is pruned and the worktree re-added.
	again, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)
	assert.Equal(t, path, again)

	info, err := os.Stat(again)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateWorktree_MissingBase(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.CreateWorktree(1, BranchName(1), "does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestRemoveWorktree_ToleratesMissingDirectory(t *testing.T) {
	m, _ := newTestManager(t)
	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)

	// Simulate an out-of-band deletion.
	require.NoError(t, os.RemoveAll(path))
	require.NoError(t, m.RemoveWorktree(path, true))
}

func TestDeleteBranch_ToleratesMissing(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.DeleteBranch("rover/task-99"))
}

func TestHasUncommittedChanges(t *testing.T) {
	m, dir := newTestManager(t)

	dirty, err := m.HasUncommittedChanges(dir)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0o644))
	dirty, err = m.HasUncommittedChanges(dir)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestHasUncommittedChanges_IgnoresStateDir(t *testing.T) {
	m, dir := newTestManager(t)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".rover"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".rover", "settings.json"), []byte("{}\n"), 0o644))

	dirty, err := m.HasUncommittedChanges(dir)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestHasUnmergedCommits(t *testing.T) {
	m, _ := newTestManager(t)
	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)

	unmerged, err := m.HasUnmergedCommits(BranchName(1), "main")
	require.NoError(t, err)
	assert.False(t, unmerged)

	require.NoError(t, os.WriteFile(filepath.Join(path, "feature.txt"), []byte("feature\n"), 0o644))
	require.NoError(t, m.CommitAll(path, "add feature"))

	unmerged, err = m.HasUnmergedCommits(BranchName(1), "main")
	require.NoError(t, err)
	assert.True(t, unmerged)
}

func TestMergeBranch_CleanMerge(t *testing.T) {
	m, dir := newTestManager(t)
	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "feature.txt"), []byte("feature\n"), 0o644))
	require.NoError(t, m.CommitAll(path, "add feature"))

	require.NoError(t, m.MergeBranch(BranchName(1), "merge task 1"))

	_, err = os.Stat(filepath.Join(dir, "feature.txt"))
	require.NoError(t, err)

	unmerged, err := m.HasUnmergedCommits(BranchName(1), "main")
	require.NoError(t, err)
	assert.False(t, unmerged)
}

func TestMergeBranch_ConflictDetectedByStateQuery(t *testing.T) {
	m, dir := newTestManager(t)
	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)

	// Diverge the same file on both branches.
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("# task version\n"), 0o644))
	require.NoError(t, m.CommitAll(path, "task edit"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# main version\n"), 0o644))
	require.NoError(t, m.CommitAll(dir, "main edit"))

	mergeErr := m.MergeBranch(BranchName(1), "merge task 1")
	require.Error(t, mergeErr)

	inProgress, err := m.MergeInProgress()
	require.NoError(t, err)
	assert.True(t, inProgress)

	files, err := m.ConflictedFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md"}, files)

	require.NoError(t, m.AbortMerge())

	inProgress, err = m.MergeInProgress()
	require.NoError(t, err)
	assert.False(t, inProgress)

	dirty, err := m.HasUncommittedChanges(dir)
	require.NoError(t, err)
	assert.False(t, dirty)
}

func TestResolveAndContinueMerge(t *testing.T) {
	m, dir := newTestManager(t)
	path, err := m.CreateWorktree(1, BranchName(1), "main")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("# task version\n"), 0o644))
	require.NoError(t, m.CommitAll(path, "task edit"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# main version\n"), 0o644))
	require.NoError(t, m.CommitAll(dir, "main edit"))

	require.Error(t, m.MergeBranch(BranchName(1), "merge task 1"))

	// Resolve the conflict the way the coordinator would: overwrite, stage,
	// continue.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# merged version\n"), 0o644))
	require.NoError(t, m.StagePath("README.md"))
	require.NoError(t, m.ContinueMerge())

	inProgress, err := m.MergeInProgress()
	require.NoError(t, err)
	assert.False(t, inProgress)
}

func TestCurrentBranch(t *testing.T) {
	m, _ := newTestManager(t)
	branch, err := m.CurrentBranch()
	require.NoError(t, err)
	assert.Equal(t, "main", branch)
}

func TestRecentCommits(t *testing.T) {
	m, dir := newTestManager(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))
	require.NoError(t, m.CommitAll(dir, "second commit\n\nwith body"))

	commits, err := m.RecentCommits(10)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, "second commit", commits[0].Subject)
	assert.Equal(t, "initial commit", commits[1].Subject)

	limited, err := m.RecentCommits(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, "second commit", limited[0].Subject)
}

func TestBranchName(t *testing.T) {
	assert.Equal(t, "rover/task-12", BranchName(12))
}
