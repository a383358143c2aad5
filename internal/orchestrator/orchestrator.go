// Package orchestrator drives the task lifecycle: it is the only component
// that mutates task records, and it keeps the record, the git workspace,
// and the sandbox consistent across failures.
//
// The record is mutated to reflect an external operation's outcome only
// after that outcome is known. The one deliberate exception is the
// mark-in-progress-then-start pattern, a compensating transaction that
// resets the task to new when the sandbox start fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/agent"
	"github.com/roverdev/rover/internal/logging"
	"github.com/roverdev/rover/internal/task"
	"github.com/roverdev/rover/internal/workflow"
	"github.com/roverdev/rover/internal/workspace"
)

// maxTitleLength bounds the title derived from a raw description when the
// agent declines to expand it.
const maxTitleLength = 72

// Workspace is the slice of git operations the lifecycle needs.
// *workspace.Manager satisfies it; tests substitute fakes.
type Workspace interface {
	WorktreePath(taskID int) string
	CreateWorktree(taskID int, branch, base string) (string, error)
	RemoveWorktree(path string, force bool) error
	DeleteBranch(branch string) error
	PruneWorktrees() error
	CurrentBranch() (string, error)
	PushBranch(remote, branch string) error
}

// Sandbox mirrors sandbox.Runner without importing its concrete backend.
type Sandbox interface {
	CreateAndStart(ctx context.Context, record *task.Record) (string, error)
	StopAndRemove(ctx context.Context, record *task.Record) error
}

var _ Workspace = (*workspace.Manager)(nil)

// Orchestrator coordinates task records, workspaces, and sandboxes.
type Orchestrator struct {
	store     *task.Store
	workspace Workspace
	sandbox   Sandbox
	agent     agent.Tool
	workflows *workflow.Registry
	logger    *logging.Logger
}

// New builds an Orchestrator. The agent tool is optional; without one,
// task expansion is skipped and raw descriptions are used as-is.
func New(store *task.Store, ws Workspace, sb Sandbox, tool agent.Tool, workflows *workflow.Registry, logger *logging.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if ws == nil {
		return nil, errors.New("workspace is required")
	}
	if sb == nil {
		return nil, errors.New("sandbox is required")
	}
	if workflows == nil {
		return nil, errors.New("workflow registry is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		store:     store,
		workspace: ws,
		sandbox:   sb,
		agent:     tool,
		workflows: workflows,
		logger:    logger.Named("orchestrator"),
	}, nil
}

// CreateOptions carries the inputs to task creation.
type CreateOptions struct {
	Description  string
	SourceBranch string
	WorkflowName string
	Agent        string
	Inputs       map[string]string
}

// CreateResult reports the created task and, on partial failure, a hint
// telling the user how to retry.
type CreateResult struct {
	Record    *task.Record
	Started   bool
	RetryHint string
}

// Create allocates a task, binds its workspace, and starts its first run.
//
// Failure boundaries: workflow-input validation happens before any side
// effect; a worktree failure leaves the task in new with no workspace
// bound; a sandbox failure resets the task to new and returns a retry
// hint. In every outcome the returned id is loadable.
func (o *Orchestrator) Create(ctx context.Context, opts CreateOptions) (*CreateResult, error) {
	wf, err := o.workflows.Load(opts.WorkflowName)
	if err != nil {
		return nil, err
	}
	provided := make(map[string]string, len(opts.Inputs)+1)
	for k, v := range opts.Inputs {
		provided[k] = v
	}
	if _, ok := provided["description"]; !ok && strings.TrimSpace(opts.Description) != "" {
		provided["description"] = opts.Description
	}
	inputs, err := wf.ResolveInputs(provided)
	if err != nil {
		return nil, err
	}

	title, description := o.expand(ctx, opts.Description)

	id, err := o.store.NextID()
	if err != nil {
		return nil, err
	}

	record := task.NewRecord(id, title, description)
	record.Inputs = inputs
	record.WorkflowName = wf.Name
	record.Agent = opts.Agent
	record.SourceBranch = opts.SourceBranch
	if err := o.store.Create(record); err != nil {
		return nil, err
	}
	o.logger.Info("created task", zap.Int("task_id", id), zap.String("title", title))

	result := &CreateResult{Record: record}

	if err := o.bindWorkspace(record); err != nil {
		// Task stays in new with no workspace: inspectable and deletable,
		// never silently lost.
		return result, fmt.Errorf("create workspace for task %d: %w", id, err)
	}

	iteration := task.NewIteration(1, description, inputs)
	if err := o.store.SaveIteration(id, iteration); err != nil {
		return result, err
	}

	if err := o.launch(ctx, record); err != nil {
		result.RetryHint = retryHint(id)
		return result, err
	}
	result.Started = true
	return result, nil
}

// Start (re)launches execution for a task in new. Any other status is
// rejected with an error naming it so the caller can decide to stop first.
func (o *Orchestrator) Start(ctx context.Context, id int) (*task.Record, error) {
	lock, err := o.store.AcquireLock(id)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	record, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if record.Status != task.StatusNew {
		return nil, fmt.Errorf("task %d is %s, not new; stop it first to make it restartable", id, record.Status)
	}

	if record.WorktreePath == "" {
		if err := o.bindWorkspace(record); err != nil {
			return nil, fmt.Errorf("create workspace for task %d: %w", id, err)
		}
	}
	if err := o.launch(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

// StopOptions controls what stop tears down beyond the sandbox.
type StopOptions struct {
	// RemoveWorktree also removes the git worktree and deletes the branch.
	RemoveWorktree bool
	// RemoveAll implies RemoveWorktree and additionally discards the
	// iteration history.
	RemoveAll bool
	// KeepIterations preserves iteration records through a plain stop so
	// their summaries stay available to a later merge. RemoveAll wins.
	KeepIterations bool
}

// Stop is the universal make-retryable operation: it tears down the
// sandbox (tolerating one that is already gone), optionally removes the
// workspace, and resets the task to new.
func (o *Orchestrator) Stop(ctx context.Context, id int, opts StopOptions) (*task.Record, error) {
	lock, err := o.store.AcquireLock(id)
	if err != nil {
		return nil, err
	}
	defer lock.Release()
	return o.stopLocked(ctx, id, opts)
}

func (o *Orchestrator) stopLocked(ctx context.Context, id int, opts StopOptions) (*task.Record, error) {
	record, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}

	if err := o.sandbox.StopAndRemove(ctx, record); err != nil {
		return nil, fmt.Errorf("stop sandbox for task %d: %w", id, err)
	}

	if opts.RemoveAll || opts.RemoveWorktree {
		o.removeWorkspace(record)
	}
	if opts.RemoveAll || !opts.KeepIterations {
		if err := o.store.RemoveIterations(id); err != nil {
			o.logger.Warn("could not remove iterations", zap.Int("task_id", id), zap.Error(err))
		}
	}

	record.ResetToNew()
	if err := o.store.Save(record); err != nil {
		return nil, err
	}
	o.logger.Info("stopped task", zap.Int("task_id", id))
	return record, nil
}

// Restart stops the task, opens a fresh iteration, and starts it again.
func (o *Orchestrator) Restart(ctx context.Context, id int) (*task.Record, error) {
	lock, err := o.store.AcquireLock(id)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	record, err := o.stopLocked(ctx, id, StopOptions{KeepIterations: true})
	if err != nil {
		return nil, err
	}

	number := record.BeginIteration()
	iteration := task.NewIteration(number, record.Description, record.Inputs)
	if err := o.store.SaveIteration(id, iteration); err != nil {
		return nil, err
	}

	if record.WorktreePath == "" {
		if err := o.bindWorkspace(record); err != nil {
			return nil, fmt.Errorf("create workspace for task %d: %w", id, err)
		}
	}
	if err := o.launch(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

// Delete removes the task and best-effort cleans its git state. The
// primary guarantee is that the task no longer appears in listings, even
// when worktree or branch cleanup fails.
func (o *Orchestrator) Delete(ctx context.Context, id int) error {
	lock, err := o.store.AcquireLock(id)
	if err != nil {
		return err
	}
	// The lock file lives inside the task directory, which Delete removes.
	defer lock.Release()

	record, err := o.store.Load(id)
	if err != nil {
		return err
	}

	if err := o.sandbox.StopAndRemove(ctx, record); err != nil {
		o.logger.Warn("could not stop sandbox during delete", zap.Int("task_id", id), zap.Error(err))
	}
	o.removeWorkspace(record)

	if err := o.store.Delete(id); err != nil {
		return err
	}
	o.logger.Info("deleted task", zap.Int("task_id", id))
	return nil
}

// Push pushes the task branch to the named remote and marks the task
// pushed. Requires a completed task with a known branch.
func (o *Orchestrator) Push(ctx context.Context, id int, remote string) (*task.Record, error) {
	lock, err := o.store.AcquireLock(id)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	record, err := o.store.Load(id)
	if err != nil {
		return nil, err
	}
	if !record.IsCompleted() {
		return nil, fmt.Errorf("task %d is %s; only completed tasks can be pushed", id, record.Status)
	}
	branch := record.BranchName
	if branch == "" {
		branch = workspace.BranchName(id)
	}
	if remote == "" {
		remote = "origin"
	}
	if err := o.workspace.PushBranch(remote, branch); err != nil {
		return nil, fmt.Errorf("push task %d: %w", id, err)
	}
	if err := record.MarkPushed(); err != nil {
		return nil, err
	}
	if err := o.store.Save(record); err != nil {
		return nil, err
	}
	return record, nil
}

// Get loads one task record.
func (o *Orchestrator) Get(id int) (*task.Record, error) {
	return o.store.Load(id)
}

// List returns all loadable task records.
func (o *Orchestrator) List() ([]*task.Record, error) {
	return o.store.List()
}

// bindWorkspace creates the task's worktree+branch and persists the
// binding.
func (o *Orchestrator) bindWorkspace(record *task.Record) error {
	branch := workspace.BranchName(record.ID)
	path, err := o.workspace.CreateWorktree(record.ID, branch, record.SourceBranch)
	if err != nil {
		return err
	}
	record.SetWorkspace(path, branch)
	return o.store.Save(record)
}

// launch marks the task in progress and starts its sandbox; a sandbox
// failure compensates by resetting the task to new so it stays retryable.
func (o *Orchestrator) launch(ctx context.Context, record *task.Record) error {
	if err := record.MarkInProgress(); err != nil {
		return err
	}
	if err := o.store.Save(record); err != nil {
		return err
	}

	containerID, err := o.sandbox.CreateAndStart(ctx, record)
	if err != nil {
		record.ResetToNew()
		if saveErr := o.store.Save(record); saveErr != nil {
			o.logger.Error("could not persist reset after sandbox failure",
				zap.Int("task_id", record.ID), zap.Error(saveErr))
		}
		return fmt.Errorf("start sandbox for task %d: %w (%s)", record.ID, err, retryHint(record.ID))
	}

	record.SetContainerInfo(containerID, "running")
	if err := o.store.Save(record); err != nil {
		return err
	}
	o.logger.Info("started task",
		zap.Int("task_id", record.ID),
		zap.String("container_id", containerID),
	)
	return nil
}

// removeWorkspace best-effort tears down the task's worktree and branch
// and clears the binding. Missing pieces are logged, not fatal.
func (o *Orchestrator) removeWorkspace(record *task.Record) {
	path := record.WorktreePath
	if path == "" {
		path = o.workspace.WorktreePath(record.ID)
	}
	if err := o.workspace.RemoveWorktree(path, true); err != nil {
		o.logger.Warn("could not remove worktree",
			zap.Int("task_id", record.ID), zap.String("path", path), zap.Error(err))
	}
	branch := record.BranchName
	if branch == "" {
		branch = workspace.BranchName(record.ID)
	}
	if err := o.workspace.DeleteBranch(branch); err != nil {
		o.logger.Warn("could not delete branch",
			zap.Int("task_id", record.ID), zap.String("branch", branch), zap.Error(err))
	}
	if err := o.workspace.PruneWorktrees(); err != nil {
		o.logger.Warn("could not prune worktrees", zap.Error(err))
	}
	record.SetWorkspace("", "")
}

// expand asks the agent to turn a raw description into a title and
// refined description; the raw text stands in when the agent declines or
// errors.
func (o *Orchestrator) expand(ctx context.Context, rawDescription string) (title, description string) {
	description = rawDescription
	title = deriveTitle(rawDescription)
	if o.agent == nil {
		return title, description
	}
	expansion, err := o.agent.ExpandTask(ctx, rawDescription, o.workspaceRoot())
	if err != nil {
		o.logger.Warn("task expansion failed, using raw description", zap.Error(err))
		return title, description
	}
	if expansion == nil {
		return title, description
	}
	return expansion.Title, expansion.Description
}

func (o *Orchestrator) workspaceRoot() string {
	if m, ok := o.workspace.(*workspace.Manager); ok {
		return m.RepoRoot()
	}
	return ""
}

// deriveTitle takes the first line of a description, truncated.
func deriveTitle(description string) string {
	line := strings.TrimSpace(description)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}
	if len(line) > maxTitleLength {
		line = strings.TrimSpace(line[:maxTitleLength-3]) + "..."
	}
	if line == "" {
		return "Untitled task"
	}
	return line
}

func retryHint(id int) string {
	return fmt.Sprintf("use \"rover restart %d\" to retry", id)
}
