// Package sandbox abstracts the isolated execution environment an agent
// runs in. The core only needs create+start and stop+remove; the container
// backend is one implementation of that contract.
package sandbox

import (
	"context"
	"errors"

	"github.com/roverdev/rover/internal/task"
)

// ErrEngineNotFound indicates no supported container engine is installed.
var ErrEngineNotFound = errors.New("no container engine found (tried docker, podman)")

// Runner starts and tears down isolated agent executions. The returned
// container id is an opaque handle stored on the task record.
type Runner interface {
	// CreateAndStart builds and starts the execution environment for the
	// task. Fails if the environment cannot be started; partial creations
	// are cleaned up before returning.
	CreateAndStart(ctx context.Context, record *task.Record) (string, error)

	// StopAndRemove stops and removes the task's execution environment.
	// A container that is already stopped or gone is not an error.
	StopAndRemove(ctx context.Context, record *task.Record) error
}
