package task

import (
	"time"

	"github.com/google/uuid"
)

// IterationStatus labels the outcome of one agent attempt.
type IterationStatus string

const (
	IterationRunning   IterationStatus = "running"
	IterationCompleted IterationStatus = "completed"
	IterationFailed    IterationStatus = "failed"
)

// Iteration is the persisted record of one execution attempt of a task.
// Created at task creation and at each restart; immutable afterward except
// for completion status and artifacts.
type Iteration struct {
	Number      int               `json:"number"`
	RunID       string            `json:"run_id"`
	Description string            `json:"description"`
	Inputs      map[string]string `json:"inputs,omitempty"`
	Status      IterationStatus   `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`

	// Completion artifacts written by the agent run, read back later as
	// context for commit-message generation.
	Summary    string `json:"summary,omitempty"`
	Validation string `json:"validation,omitempty"`
	Plan       string `json:"plan,omitempty"`
}

// NewIteration snapshots the task's current description and inputs into a
// fresh attempt record.
func NewIteration(number int, description string, inputs map[string]string) *Iteration {
	snapshot := make(map[string]string, len(inputs))
	for k, v := range inputs {
		snapshot[k] = v
	}
	return &Iteration{
		Number:      number,
		RunID:       uuid.New().String(),
		Description: description,
		Inputs:      snapshot,
		Status:      IterationRunning,
		CreatedAt:   time.Now().UTC(),
	}
}

// Complete records the attempt's outcome.
func (it *Iteration) Complete(status IterationStatus, summary string) {
	it.Status = status
	it.Summary = summary
	now := time.Now().UTC()
	it.CompletedAt = &now
}
