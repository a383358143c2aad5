// Package merge lands a completed task's work on the current branch:
// commit the worktree, merge the task branch, resolve conflicts with the
// agent, and never leave the repository mid-merge.
package merge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/agent"
	"github.com/roverdev/rover/internal/logging"
	"github.com/roverdev/rover/internal/task"
	"github.com/roverdev/rover/internal/workspace"
)

const (
	// attributionTrailer is appended to every commit message the merge
	// flow writes on the agent's behalf.
	attributionTrailer = "Co-authored-by: Rover <rover@noreply.local>"

	recentCommitLimit = 10
)

// GitWorkspace is the slice of git operations the merge flow needs.
// *workspace.Manager satisfies it.
type GitWorkspace interface {
	RepoRoot() string
	CurrentBranch() (string, error)
	HasUncommittedChanges(dir string) (bool, error)
	HasUnmergedCommits(branch, target string) (bool, error)
	CommitAll(dir, message string) error
	MergeBranch(branch, message string) error
	MergeInProgress() (bool, error)
	ConflictedFiles() ([]string, error)
	StagePath(path string) error
	AbortMerge() error
	ContinueMerge() error
	RecentCommits(limit int) ([]workspace.Commit, error)
}

var _ GitWorkspace = (*workspace.Manager)(nil)

// Approver decides whether an agent-resolved merge may be finalized.
// Interactive callers show the resolved files and ask; automated callers
// pass nil, which auto-approves.
type Approver func(ctx context.Context, resolvedFiles []string) (bool, error)

// Result reports what the merge attempt did. A "nothing to merge" outcome
// is Success with both Merged and Committed false.
type Result struct {
	Success   bool   `json:"success"`
	Merged    bool   `json:"merged"`
	Committed bool   `json:"committed"`
	Message   string `json:"message,omitempty"`
}

// Coordinator orchestrates the commit-merge-resolve flow for one task.
type Coordinator struct {
	store    *task.Store
	git      GitWorkspace
	agent    agent.Tool
	approver Approver
	logger   *logging.Logger
}

// New builds a Coordinator. The agent tool is optional for commit
// messages (a templated fallback exists) but conflict resolution requires
// it; without one, a conflicted merge aborts.
func New(store *task.Store, git GitWorkspace, tool agent.Tool, approver Approver, logger *logging.Logger) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if git == nil {
		return nil, errors.New("git workspace is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Coordinator{
		store:    store,
		git:      git,
		agent:    tool,
		approver: approver,
		logger:   logger.Named("merge"),
	}, nil
}

// Merge lands the task's work on the currently checked-out branch.
// Re-invocation after a completed merge is safe: dirtiness is re-evaluated
// every time and an already-landed task reports the no-op outcome.
func (c *Coordinator) Merge(ctx context.Context, id int) (*Result, error) {
	record, err := c.store.Load(id)
	if err != nil {
		return nil, err
	}
	if !record.IsCompleted() {
		return nil, fmt.Errorf("task %d is %s; check its status and logs before merging", id, record.Status)
	}
	if record.WorktreePath == "" {
		return nil, fmt.Errorf("task %d has no worktree bound", id)
	}
	if _, err := os.Stat(record.WorktreePath); err != nil {
		return nil, fmt.Errorf("no worktree found for task %d at %s", id, record.WorktreePath)
	}

	target, err := c.git.CurrentBranch()
	if err != nil {
		return nil, err
	}
	dirty, err := c.git.HasUncommittedChanges(c.git.RepoRoot())
	if err != nil {
		return nil, err
	}
	if dirty {
		return nil, fmt.Errorf("branch %s has uncommitted changes; commit or stash them before merging task %d", target, id)
	}

	result := &Result{}

	worktreeChanges, err := c.git.HasUncommittedChanges(record.WorktreePath)
	if err != nil {
		return nil, err
	}
	if worktreeChanges {
		message, err := c.commitMessage(ctx, record)
		if err != nil {
			return nil, err
		}
		if err := c.git.CommitAll(record.WorktreePath, message); err != nil {
			return nil, fmt.Errorf("commit worktree for task %d: %w", id, err)
		}
		result.Committed = true
		c.logger.Info("committed worktree changes", zap.Int("task_id", id))
	}

	unmerged, err := c.git.HasUnmergedCommits(record.BranchName, target)
	if err != nil {
		return nil, err
	}
	if !result.Committed && !unmerged {
		result.Success = true
		result.Message = "nothing to merge"
		return result, nil
	}

	mergeMessage := fmt.Sprintf("Merge branch '%s' (task %d: %s)", record.BranchName, id, record.Title)
	mergeErr := c.git.MergeBranch(record.BranchName, mergeMessage)
	if mergeErr != nil {
		// Conflict detection is a repository state query, never an error
		// message match.
		inProgress, stateErr := c.git.MergeInProgress()
		if stateErr != nil {
			return nil, stateErr
		}
		if !inProgress {
			return nil, fmt.Errorf("merge task %d: %w", id, mergeErr)
		}
		if err := c.resolveConflicts(ctx, record); err != nil {
			return nil, err
		}
	}

	result.Success = true
	result.Merged = true
	if err := record.MarkMerged(); err != nil {
		return nil, err
	}
	if err := c.store.Save(record); err != nil {
		return nil, err
	}
	c.logger.Info("merged task branch",
		zap.Int("task_id", id),
		zap.String("branch", record.BranchName),
		zap.String("target", target),
	)
	return result, nil
}

// commitMessage drafts the worktree commit message: agent first, template
// fallback, fixed attribution trailer either way.
func (c *Coordinator) commitMessage(ctx context.Context, record *task.Record) (string, error) {
	message := ""
	if c.agent != nil {
		summaries, err := c.store.IterationSummaries(record.ID)
		if err != nil {
			return "", err
		}
		commits, err := c.git.RecentCommits(recentCommitLimit)
		if err != nil {
			c.logger.Warn("could not read recent commits", zap.Error(err))
			commits = nil
		}
		subjects := make([]string, 0, len(commits))
		for _, commit := range commits {
			subjects = append(subjects, commit.Subject)
		}
		drafted, err := c.agent.GenerateCommitMessage(ctx, agent.CommitMessageRequest{
			Title:              record.Title,
			Description:        record.Description,
			RecentCommits:      subjects,
			IterationSummaries: summaries,
		})
		if err != nil {
			c.logger.Warn("agent commit message failed, using template", zap.Error(err))
		} else {
			message = drafted
		}
	}
	if strings.TrimSpace(message) == "" {
		message = record.Title
		if strings.TrimSpace(record.Description) != "" {
			message += "\n\n" + record.Description
		}
	}
	return message + "\n\n" + attributionTrailer, nil
}

// resolveConflicts asks the agent to resolve every conflicted file. Any
// single unresolved file aborts the whole merge; partial resolutions are
// never left in the index.
func (c *Coordinator) resolveConflicts(ctx context.Context, record *task.Record) error {
	files, err := c.git.ConflictedFiles()
	if err != nil {
		c.abort(record.ID)
		return err
	}
	if c.agent == nil {
		c.abort(record.ID)
		return fmt.Errorf("merge of task %d hit conflicts in %s and no agent is configured to resolve them", record.ID, strings.Join(files, ", "))
	}

	historyContext := record.Title
	if record.Description != "" {
		historyContext += "\n\n" + record.Description
	}
	if commits, err := c.git.RecentCommits(recentCommitLimit); err != nil {
		c.logger.Warn("could not read recent commits", zap.Error(err))
	} else if len(commits) > 0 {
		subjects := make([]string, 0, len(commits))
		for _, commit := range commits {
			subjects = append(subjects, commit.Subject)
		}
		historyContext += "\n\nRecent commits:\n" + strings.Join(subjects, "\n")
	}

	for _, file := range files {
		path := filepath.Join(c.git.RepoRoot(), file)
		content, err := os.ReadFile(path)
		if err != nil {
			c.abort(record.ID)
			return fmt.Errorf("read conflicted file %s: %w", file, err)
		}
		resolved, err := c.agent.ResolveMergeConflicts(ctx, file, historyContext, string(content))
		if err != nil || strings.TrimSpace(resolved) == "" {
			c.abort(record.ID)
			if err == nil {
				err = errors.New("agent declined")
			}
			return fmt.Errorf("failed to resolve conflict in %s: %w", file, err)
		}
		if err := os.WriteFile(path, []byte(resolved), 0o644); err != nil {
			c.abort(record.ID)
			return fmt.Errorf("write resolved file %s: %w", file, err)
		}
		if err := c.git.StagePath(file); err != nil {
			c.abort(record.ID)
			return fmt.Errorf("stage resolved file %s: %w", file, err)
		}
		c.logger.Info("resolved merge conflict",
			zap.Int("task_id", record.ID),
			zap.String("file", file),
		)
	}

	if c.approver != nil {
		approved, err := c.approver(ctx, files)
		if err != nil {
			c.abort(record.ID)
			return err
		}
		if !approved {
			c.abort(record.ID)
			return fmt.Errorf("merge of task %d rejected; repository restored to its pre-merge state", record.ID)
		}
	}

	if err := c.git.ContinueMerge(); err != nil {
		c.abort(record.ID)
		return fmt.Errorf("finalize merge of task %d: %w", record.ID, err)
	}
	return nil
}

// abort best-effort restores the pre-merge state.
func (c *Coordinator) abort(taskID int) {
	if err := c.git.AbortMerge(); err != nil {
		c.logger.Error("could not abort merge",
			zap.Int("task_id", taskID),
			zap.Error(err),
		)
	}
}
