// Package task defines the persisted task record, its lifecycle state
// machine, and the file-backed store that owns task directories.
package task

// Status labels the lifecycle state of a task.
type Status string

const (
	// StatusNew indicates the task exists but is not executing.
	StatusNew Status = "new"
	// StatusInProgress indicates the agent is working on the task.
	StatusInProgress Status = "in_progress"
	// StatusIterating indicates the agent requested another pass.
	StatusIterating Status = "iterating"
	// StatusCompleted indicates the agent finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the agent run failed.
	StatusFailed Status = "failed"
	// StatusMerged indicates the task branch was merged back.
	StatusMerged Status = "merged"
	// StatusPushed indicates the task branch was pushed to a remote.
	StatusPushed Status = "pushed"
)

// allowedTransitions defines the permitted lifecycle status changes.
// ResetToNew is handled separately: it is legal from every status.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusNew: {
		StatusInProgress: {},
	},
	StatusInProgress: {
		StatusIterating: {},
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusIterating: {
		StatusInProgress: {},
		StatusCompleted:  {},
		StatusFailed:     {},
	},
	StatusCompleted: {
		StatusMerged: {},
		StatusPushed: {},
	},
	StatusFailed: {
		StatusInProgress: {},
	},
	// Merged and pushed re-entry is idempotent: marking an already merged
	// task merged again is accepted and leaves the record unchanged.
	StatusMerged: {
		StatusMerged: {},
		StatusPushed: {},
	},
	StatusPushed: {
		StatusPushed: {},
		StatusMerged: {},
	},
}

// IsValid reports whether the status is a known enum member.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusInProgress, StatusIterating, StatusCompleted,
		StatusFailed, StatusMerged, StatusPushed:
		return true
	}
	return false
}

// IsValidTransition reports whether the lifecycle allows the requested change.
func IsValidTransition(from Status, to Status) bool {
	if from == "" || to == "" {
		return false
	}
	allowed, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}
