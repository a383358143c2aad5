package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/logging"
	"github.com/roverdev/rover/internal/task"
)

const (
	// workspaceMountPoint is where the task worktree appears inside the
	// container.
	workspaceMountPoint = "/workspace"

	// logMountPoint is where the iteration's host log directory appears
	// inside the container.
	logMountPoint = "/rover/logs"

	containerNamePrefix = "rover-task"
)

// Config describes how to build the agent container.
type Config struct {
	// Engine is "docker" or "podman". Empty means auto-detect.
	Engine string
	// Image is the container image the agent runs in.
	Image string
	// Command is the agent invocation executed inside the container.
	Command []string
	// Envs are KEY or KEY=VALUE entries injected into the container. Bare
	// KEY entries forward the host's current value.
	Envs []string
	// EnvsFile is an optional env file passed through to the engine.
	EnvsFile string
	// LogPath resolves the host-side agent log file for a task iteration.
	// When set, its directory is mounted into the container and the agent
	// is pointed at it via ROVER_LOG_FILE.
	LogPath func(taskID, iteration int) string
}

// ContainerRunner implements Runner by shelling out to docker or podman.
type ContainerRunner struct {
	engine string
	config Config
	logger *logging.Logger
}

// NewContainerRunner resolves the container engine and returns a runner.
func NewContainerRunner(cfg Config, logger *logging.Logger) (*ContainerRunner, error) {
	if cfg.Image == "" {
		return nil, errors.New("container image is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	engine := cfg.Engine
	if engine == "" {
		detected, err := detectEngine()
		if err != nil {
			return nil, err
		}
		engine = detected
	}
	return &ContainerRunner{
		engine: engine,
		config: cfg,
		logger: logger.Named("sandbox"),
	}, nil
}

// Engine returns the resolved container engine binary name.
func (r *ContainerRunner) Engine() string {
	return r.engine
}

// CreateAndStart launches the agent container detached and returns its id.
func (r *ContainerRunner) CreateAndStart(ctx context.Context, record *task.Record) (string, error) {
	if record == nil {
		return "", errors.New("task record is required")
	}
	if record.WorktreePath == "" {
		return "", fmt.Errorf("task %d has no worktree bound", record.ID)
	}

	name := containerName(record.ID)
	args, err := r.buildRunArgs(record, name)
	if err != nil {
		return "", err
	}

	out, err := r.run(ctx, args...)
	if err != nil {
		// docker run -d can leave a created-but-dead container behind.
		_ = r.removeByName(ctx, name)
		return "", fmt.Errorf("start sandbox for task %d: %w", record.ID, err)
	}
	id := strings.TrimSpace(out)
	if id == "" {
		return "", fmt.Errorf("start sandbox for task %d: engine returned no container id", record.ID)
	}
	r.logger.Debug("started sandbox container",
		zap.Int("task_id", record.ID),
		zap.String("container_id", id),
	)
	return id, nil
}

// StopAndRemove stops and removes the task's container. Missing or already
// stopped containers are tolerated so stop stays idempotent.
func (r *ContainerRunner) StopAndRemove(ctx context.Context, record *task.Record) error {
	if record == nil || record.ContainerID == "" {
		return nil
	}
	if _, err := r.run(ctx, "stop", record.ContainerID); err != nil && !isMissingContainer(err) {
		return fmt.Errorf("stop container %s: %w", record.ContainerID, err)
	}
	if _, err := r.run(ctx, "rm", "-f", record.ContainerID); err != nil && !isMissingContainer(err) {
		return fmt.Errorf("remove container %s: %w", record.ContainerID, err)
	}
	return nil
}

// Logs streams the container's output to w. With follow, the call blocks
// until the stream closes or ctx is canceled; cancellation only detaches
// the viewer.
func (r *ContainerRunner) Logs(ctx context.Context, containerID string, follow bool, w io.Writer) error {
	if containerID == "" {
		return errors.New("container id is required")
	}
	args := []string{"logs"}
	if follow {
		args = append(args, "-f")
	}
	args = append(args, containerID)

	cmd := exec.CommandContext(ctx, r.engine, args...)
	cmd.Stdout = w
	cmd.Stderr = w
	err := cmd.Run()
	if err != nil && ctx.Err() != nil {
		// Canceled follow is a detach, not a failure.
		return nil
	}
	return err
}

// buildRunArgs assembles the engine run invocation for the task.
func (r *ContainerRunner) buildRunArgs(record *task.Record, name string) ([]string, error) {
	args := []string{
		"run", "-d",
		"--name", name,
		"--label", "rover.task=" + strconv.Itoa(record.ID),
		"-v", record.WorktreePath + ":" + workspaceMountPoint,
		"-w", workspaceMountPoint,
	}

	envs, err := resolveEnvs(r.config.Envs)
	if err != nil {
		return nil, err
	}
	for _, env := range envs {
		args = append(args, "-e", env)
	}
	if r.config.EnvsFile != "" {
		if _, err := os.Stat(r.config.EnvsFile); err != nil {
			return nil, fmt.Errorf("envs file %s: %w", r.config.EnvsFile, err)
		}
		args = append(args, "--env-file", r.config.EnvsFile)
	}

	args = append(args, "-e", "ROVER_TASK_ID="+strconv.Itoa(record.ID))
	args = append(args, "-e", "ROVER_ITERATION="+strconv.Itoa(record.Iterations))

	if r.config.LogPath != nil {
		logDir := filepath.Dir(r.config.LogPath(record.ID, record.Iterations))
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log directory %s: %w", logDir, err)
		}
		args = append(args, "-v", logDir+":"+logMountPoint)
		args = append(args, "-e", "ROVER_LOG_FILE="+logMountPoint+"/agent.log")
	}

	args = append(args, r.config.Image)
	args = append(args, r.config.Command...)
	return args, nil
}

// resolveEnvs expands bare KEY entries with the host's current value.
// Unset bare keys are skipped rather than injected empty.
func resolveEnvs(entries []string) ([]string, error) {
	var resolved []string
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "=") {
			if strings.HasPrefix(entry, "=") {
				return nil, fmt.Errorf("invalid env entry %q", entry)
			}
			resolved = append(resolved, entry)
			continue
		}
		if value, ok := os.LookupEnv(entry); ok {
			resolved = append(resolved, entry+"="+value)
		}
	}
	return resolved, nil
}

// containerName builds a unique container name for one task launch. The
// uuid suffix keeps restarts from colliding with a slow removal.
func containerName(taskID int) string {
	return fmt.Sprintf("%s-%d-%s", containerNamePrefix, taskID, uuid.New().String()[:8])
}

func (r *ContainerRunner) removeByName(ctx context.Context, name string) error {
	_, err := r.run(ctx, "rm", "-f", name)
	return err
}

func (r *ContainerRunner) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.engine, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s failed: %w: %s", r.engine, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// detectEngine finds the first available container engine on PATH.
func detectEngine() (string, error) {
	for _, engine := range []string{"docker", "podman"} {
		if _, err := exec.LookPath(engine); err == nil {
			return engine, nil
		}
	}
	return "", ErrEngineNotFound
}

// isMissingContainer reports whether the engine error means the container
// is already gone.
func isMissingContainer(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") ||
		strings.Contains(msg, "is not running") ||
		strings.Contains(msg, "container state improper")
}
