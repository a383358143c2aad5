package task

import (
	"strings"
	"time"
)

// RecordVersion is the current schema version written to task.json.
const RecordVersion = "1.1"

// Record is the persisted representation of one task.
//
// The record is the source of truth for a task's identity and lifecycle.
// Disk state outside the record (worktree directories, containers) is
// advisory: a recorded worktree path whose directory was removed out of
// band is not a validation failure.
type Record struct {
	Version     string `json:"version"`
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	WorktreePath string `json:"worktree_path,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`

	ContainerID     string `json:"container_id,omitempty"`
	ExecutionStatus string `json:"execution_status,omitempty"`

	Iterations int               `json:"iterations"`
	Inputs     map[string]string `json:"inputs,omitempty"`

	WorkflowName string `json:"workflow_name,omitempty"`
	Agent        string `json:"agent,omitempty"`
	SourceBranch string `json:"source_branch,omitempty"`

	Error string `json:"error,omitempty"`
}

// NewRecord initializes a task record in the new status.
func NewRecord(id int, title, description string) *Record {
	return &Record{
		Version:     RecordVersion,
		ID:          id,
		Title:       title,
		Description: description,
		Status:      StatusNew,
		CreatedAt:   time.Now().UTC(),
		Iterations:  1,
	}
}

// transition validates and applies a status change.
func (r *Record) transition(to Status) error {
	if !IsValidTransition(r.Status, to) {
		return &TransitionError{ID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	return nil
}

// MarkInProgress moves the task into execution. Only legal from new or
// failed; anything else means the caller is double-starting a running task
// and gets a loud error instead of a silent no-op.
func (r *Record) MarkInProgress() error {
	if r.Status != StatusNew && r.Status != StatusFailed {
		return &TransitionError{ID: r.ID, From: r.Status, To: StatusInProgress}
	}
	r.Status = StatusInProgress
	if r.StartedAt == nil {
		now := time.Now().UTC()
		r.StartedAt = &now
	}
	r.Error = ""
	return nil
}

// MarkIterating records that the agent requested another pass and bumps the
// attempt counter.
func (r *Record) MarkIterating() error {
	if err := r.transition(StatusIterating); err != nil {
		return err
	}
	r.Iterations++
	return nil
}

// ResumeFromIterating returns an iterating task to in_progress.
func (r *Record) ResumeFromIterating() error {
	if r.Status != StatusIterating {
		return &TransitionError{ID: r.ID, From: r.Status, To: StatusInProgress}
	}
	r.Status = StatusInProgress
	return nil
}

// MarkCompleted finishes the task successfully. CompletedAt is set only if
// absent so restarts of an already-finished task keep the original time.
func (r *Record) MarkCompleted() error {
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	if r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	return nil
}

// MarkFailed finishes the task unsuccessfully and stores the reason.
func (r *Record) MarkFailed(reason string) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	if r.CompletedAt == nil {
		now := time.Now().UTC()
		r.CompletedAt = &now
	}
	r.Error = reason
	return nil
}

// MarkMerged records that the task branch was merged. CompletedAt is never
// touched: completion time reflects when the agent finished, not post-hoc
// bookkeeping. Re-marking an already merged task is accepted unchanged.
func (r *Record) MarkMerged() error {
	return r.transition(StatusMerged)
}

// MarkPushed records that the task branch was pushed. Same CompletedAt rule
// as MarkMerged.
func (r *Record) MarkPushed() error {
	return r.transition(StatusPushed)
}

// ResetToNew is the universal escape hatch: legal from every status. It
// clears the container and workspace bindings so the task is immediately
// restartable, but preserves the attempt count and completion time as
// history.
func (r *Record) ResetToNew() {
	r.Status = StatusNew
	r.ContainerID = ""
	r.ExecutionStatus = ""
	r.WorktreePath = ""
	r.BranchName = ""
}

// BeginIteration bumps the attempt counter for a fresh run and returns the
// new iteration number. Used on restart, where the task is back in new and
// MarkIterating's in_progress precondition does not apply.
func (r *Record) BeginIteration() int {
	r.Iterations++
	return r.Iterations
}

// SetWorkspace attaches or replaces the workspace binding.
func (r *Record) SetWorkspace(path, branch string) {
	r.WorktreePath = path
	r.BranchName = branch
}

// SetContainerInfo attaches the sandbox binding.
func (r *Record) SetContainerInfo(id, status string) {
	r.ContainerID = id
	r.ExecutionStatus = status
}

// UpdateDescription updates title and description. Only meaningful while
// the task is still editable.
func (r *Record) UpdateDescription(title, description string) error {
	if r.Status != StatusNew && r.Status != StatusInProgress {
		return &TransitionError{ID: r.ID, From: r.Status, To: r.Status}
	}
	if strings.TrimSpace(title) != "" {
		r.Title = title
	}
	if strings.TrimSpace(description) != "" {
		r.Description = description
	}
	return nil
}

// IsCompleted reports whether the task reached a successful terminal state
// from which merging is allowed.
func (r *Record) IsCompleted() bool {
	return r.Status == StatusCompleted || r.Status == StatusMerged || r.Status == StatusPushed
}

// Running reports whether the task is bound to a live execution.
func (r *Record) Running() bool {
	return r.Status == StatusInProgress || r.Status == StatusIterating
}

// Validate checks structural invariants of a loaded record.
func (r *Record) Validate() error {
	if r.ID <= 0 {
		return invalidRecordf("id must be positive, got %d", r.ID)
	}
	if !r.Status.IsValid() {
		return invalidRecordf("unknown status %q", r.Status)
	}
	if r.CreatedAt.IsZero() {
		return invalidRecordf("created_at is required")
	}
	if r.Iterations < 1 {
		return invalidRecordf("iterations must be >= 1, got %d", r.Iterations)
	}
	if r.Status == StatusNew && r.ContainerID != "" {
		return invalidRecordf("status new must not carry container id %q", r.ContainerID)
	}
	return nil
}
