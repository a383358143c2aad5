// Package workspace manages the isolated git worktree and branch pair each
// task executes in, and the git operations the merge flow needs.
package workspace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/logging"
)

const (
	// worktreesDirName is where task worktrees live, relative to the repo
	// root. The whole .rover tree is ignored when judging repo dirtiness.
	worktreesDirName = ".rover/worktrees"
	worktreeDirMode  = 0o755
	taskDirPrefix    = "task-"
	branchPrefix     = "rover/task-"
)

// Manager coordinates task worktrees and branches with git.
type Manager struct {
	repoRoot string
	logger   *logging.Logger
}

// NewManager constructs a Manager rooted at the provided repository root.
func NewManager(repoRoot string, logger *logging.Logger) (*Manager, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve absolute repo root %s: %w", repoRoot, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat repo root %s: %w", absRoot, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo root %s is not a directory", absRoot)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{repoRoot: absRoot, logger: logger.Named("workspace")}, nil
}

// RepoRoot returns the repository root the manager operates on.
func (m *Manager) RepoRoot() string {
	return m.repoRoot
}

// WorktreePath returns the deterministic worktree path for a task.
func (m *Manager) WorktreePath(taskID int) string {
	return filepath.Join(m.repoRoot, filepath.FromSlash(worktreesDirName), taskDirPrefix+strconv.Itoa(taskID))
}

// BranchName returns the task's dedicated branch name.
func BranchName(taskID int) string {
	return branchPrefix + strconv.Itoa(taskID)
}

// CreateWorktree creates the task's worktree on its branch, creating the
// branch from base when it does not exist yet. A surviving worktree
// already checked out to the branch is reused as-is, so a stopped task
// (which keeps its worktree on disk by default) starts again cleanly.
// Returns the worktree path.
func (m *Manager) CreateWorktree(taskID int, branch, base string) (string, error) {
	if strings.TrimSpace(branch) == "" {
		return "", errors.New("branch is required")
	}
	path := m.WorktreePath(taskID)

	if info, statErr := os.Stat(path); statErr == nil && info.IsDir() {
		out, err := runGitIn(path, "rev-parse", "--abbrev-ref", "HEAD")
		if err == nil && strings.TrimSpace(out) == branch {
			return path, nil
		}
		return "", fmt.Errorf("worktree path %s exists but is not checked out to %s", path, branch)
	}

	if err := os.MkdirAll(filepath.Dir(path), worktreeDirMode); err != nil {
		return "", fmt.Errorf("create worktrees directory: %w", err)
	}
	if err := m.ensureStateIgnored(); err != nil {
		return "", err
	}
	// The directory may have been removed out of band while its
	// registration lingers; prune so worktree add does not refuse.
	if err := m.PruneWorktrees(); err != nil {
		return "", err
	}

	exists, err := m.BranchExists(branch)
	if err != nil {
		return "", err
	}
	if exists {
		if _, err := m.runGit("worktree", "add", path, branch); err != nil {
			return "", err
		}
		return path, nil
	}

	if strings.TrimSpace(base) == "" {
		base, err = m.CurrentBranch()
		if err != nil {
			return "", err
		}
	}
	baseExists, err := m.BranchExists(base)
	if err != nil {
		return "", err
	}
	if !baseExists {
		return "", fmt.Errorf("base branch %q does not exist", base)
	}
	if _, err := m.runGit("worktree", "add", "-b", branch, path, base); err != nil {
		return "", err
	}
	m.logger.Debug("created worktree",
		zap.Int("task_id", taskID),
		zap.String("branch", branch),
		zap.String("base", base),
	)
	return path, nil
}

// ensureStateIgnored writes .rover/.gitignore with a wildcard so git never
// sees the state directory, embedded task worktrees included.
func (m *Manager) ensureStateIgnored() error {
	ignorePath := filepath.Join(m.repoRoot, ".rover", ".gitignore")
	if _, err := os.Stat(ignorePath); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", ignorePath, err)
	}
	if err := os.MkdirAll(filepath.Dir(ignorePath), worktreeDirMode); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	if err := os.WriteFile(ignorePath, []byte("*\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", ignorePath, err)
	}
	return nil
}

// RemoveWorktree removes a worktree registration and its directory. A
// worktree that is already gone is not an error.
func (m *Manager) RemoveWorktree(path string, force bool) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("worktree path is required")
	}
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := m.runGit(args...); err != nil {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			// Directory is gone; prune the stale registration and move on.
			_ = m.PruneWorktrees()
			return nil
		}
		return err
	}
	return nil
}

// DeleteBranch force-deletes a local branch. A missing branch is not an
// error.
func (m *Manager) DeleteBranch(branch string) error {
	exists, err := m.BranchExists(branch)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	_, err = m.runGit("branch", "-D", branch)
	return err
}

// PushBranch pushes a local branch to the named remote, creating the
// upstream ref if needed.
func (m *Manager) PushBranch(remote, branch string) error {
	if strings.TrimSpace(remote) == "" || strings.TrimSpace(branch) == "" {
		return errors.New("remote and branch are required")
	}
	_, err := m.runGit("push", "-u", remote, branch)
	return err
}

// PruneWorktrees drops stale worktree metadata.
func (m *Manager) PruneWorktrees() error {
	_, err := m.runGit("worktree", "prune")
	return err
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(branch string) (bool, error) {
	if strings.TrimSpace(branch) == "" {
		return false, errors.New("branch is required")
	}
	_, err := m.runGit("show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if isExitStatus(err, 1) {
		return false, nil
	}
	return false, err
}

// CurrentBranch resolves the branch checked out at the repo root.
func (m *Manager) CurrentBranch() (string, error) {
	out, err := m.runGit("rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// HasUncommittedChanges reports whether the directory has uncommitted or
// untracked files. Rover's own state directory is ignored so task worktrees
// living under .rover never count as dirt.
func (m *Manager) HasUncommittedChanges(dir string) (bool, error) {
	out, err := runGitIn(dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		path := strings.TrimSpace(line[3:])
		if strings.HasPrefix(path, ".rover/") || path == ".rover" {
			continue
		}
		return true, nil
	}
	return false, nil
}

// HasUnmergedCommits reports whether branch has commits not reachable from
// target.
func (m *Manager) HasUnmergedCommits(branch, target string) (bool, error) {
	if strings.TrimSpace(branch) == "" || strings.TrimSpace(target) == "" {
		return false, errors.New("branch and target are required")
	}
	out, err := m.runGit("rev-list", "--count", target+".."+branch)
	if err != nil {
		return false, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return false, fmt.Errorf("parse rev-list count %q: %w", out, err)
	}
	return count > 0, nil
}

// CommitAll stages and commits everything in the directory.
func (m *Manager) CommitAll(dir, message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("commit message is required")
	}
	if _, err := runGitIn(dir, "add", "-A"); err != nil {
		return err
	}
	if _, err := runGitIn(dir, "commit", "-m", message); err != nil {
		return err
	}
	return nil
}

// MergeBranch merges branch into the branch checked out at the repo root,
// always producing a merge commit. The error is returned as git reported
// it; callers decide whether a conflict happened by querying repository
// state, not by parsing the message.
func (m *Manager) MergeBranch(branch, message string) error {
	if strings.TrimSpace(branch) == "" {
		return errors.New("branch is required")
	}
	args := []string{"merge", "--no-ff"}
	if strings.TrimSpace(message) != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	_, err := m.runGit(args...)
	return err
}

// MergeInProgress reports whether the repository is mid-merge.
func (m *Manager) MergeInProgress() (bool, error) {
	out, err := m.runGit("rev-parse", "--git-dir")
	if err != nil {
		return false, err
	}
	gitDir := strings.TrimSpace(out)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(m.repoRoot, gitDir)
	}
	_, statErr := os.Stat(filepath.Join(gitDir, "MERGE_HEAD"))
	if statErr == nil {
		return true, nil
	}
	if errors.Is(statErr, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat MERGE_HEAD: %w", statErr)
}

// ConflictedFiles lists paths with unresolved merge conflicts.
func (m *Manager) ConflictedFiles() ([]string, error) {
	out, err := m.runGit("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// StagePath stages one path at the repo root.
func (m *Manager) StagePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("path is required")
	}
	_, err := m.runGit("add", "--", path)
	return err
}

// AbortMerge restores the pre-merge state.
func (m *Manager) AbortMerge() error {
	_, err := m.runGit("merge", "--abort")
	return err
}

// ContinueMerge finalizes a merge whose conflicts have all been staged.
func (m *Manager) ContinueMerge() error {
	_, err := m.runGit("commit", "--no-edit")
	return err
}

// runGit executes a git command at the repo root.
func (m *Manager) runGit(args ...string) (string, error) {
	return runGitIn(m.repoRoot, args...)
}

// runGitIn runs a git command in the provided directory.
func runGitIn(dir string, args ...string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("git directory is required")
	}
	if len(args) == 0 {
		return "", errors.New("git arguments are required")
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// isExitStatus reports whether the error is an exec.ExitError with the given status.
func isExitStatus(err error, status int) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == status
}
