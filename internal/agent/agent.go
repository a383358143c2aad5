// Package agent defines the abstract AI capability the orchestrator and
// merge flow depend on, and the CLI-backed implementations of it.
//
// Every capability is best-effort except conflict resolution: callers have
// a deterministic fallback when a call errors or declines, but a declined
// conflict resolution aborts the merge because writing conflict markers
// back would corrupt files.
package agent

import (
	"context"
	"errors"
)

// ErrUnknownAgent indicates the requested agent identifier is not registered.
var ErrUnknownAgent = errors.New("unknown agent")

// Expansion is the result of expanding a raw task description.
type Expansion struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CommitMessageRequest carries the context for drafting a commit message.
type CommitMessageRequest struct {
	Title              string
	Description        string
	RecentCommits      []string
	IterationSummaries []string
}

// InputSpec describes one workflow input the agent may extract from an
// issue body.
type InputSpec struct {
	Name        string
	Description string
}

// Tool is the agent capability contract. A nil/empty result with a nil
// error means the agent declined; the caller applies its fallback.
type Tool interface {
	// ExpandTask turns a raw instruction into a concrete title and
	// description.
	ExpandTask(ctx context.Context, rawDescription, projectRoot string) (*Expansion, error)

	// GenerateCommitMessage drafts a commit message from the task and its
	// history context.
	GenerateCommitMessage(ctx context.Context, req CommitMessageRequest) (string, error)

	// ResolveMergeConflicts returns the fully resolved content for one
	// conflicted file, or empty when the agent cannot resolve it.
	ResolveMergeConflicts(ctx context.Context, filePath, historyContext, conflictedContent string) (string, error)

	// ExtractGithubInputs pulls workflow input values out of an issue body.
	ExtractGithubInputs(ctx context.Context, issueBody string, specs []InputSpec) (map[string]string, error)
}
