// Package main implements the rover CLI: create, run, and land autonomous
// coding-agent tasks in isolated git worktrees and sandboxes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roverdev/rover/internal/agent"
	"github.com/roverdev/rover/internal/config"
	"github.com/roverdev/rover/internal/logging"
	"github.com/roverdev/rover/internal/merge"
	"github.com/roverdev/rover/internal/orchestrator"
	"github.com/roverdev/rover/internal/sandbox"
	"github.com/roverdev/rover/internal/task"
	"github.com/roverdev/rover/internal/workflow"
	"github.com/roverdev/rover/internal/workspace"
)

var (
	// version is stamped at build time.
	version = "dev"

	jsonOutput bool
	assumeYes  bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "rover",
	Short: "Run autonomous coding-agent tasks in isolated worktrees",
	Long: `rover creates a dedicated git branch, worktree, and sandbox for each
task, runs a coding agent against it, and merges the result back when
the task completes.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit a structured JSON result and suppress prompts")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "answer yes to confirmation prompts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app bundles the wired services every command needs.
type app struct {
	projectRoot string
	settings    *config.Settings
	logger      *logging.Logger
	store       *task.Store
	workspace   *workspace.Manager
	workflows   *workflow.Registry
	tool        agent.Tool
	orch        *orchestrator.Orchestrator
}

// newApp wires the services against the enclosing git repository. Commands
// other than init require a rover-initialized project.
func newApp(agentOverride string) (*app, error) {
	root, err := findProjectRoot()
	if err != nil {
		return nil, err
	}

	logCfg := logging.NewDefaultConfig()
	if verbose {
		logCfg = logging.NewVerboseConfig()
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, err
	}

	store, err := task.NewStore(root, logger)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(store.Root(), logger)
	if err != nil {
		return nil, err
	}
	manager, err := workspace.NewManager(root, logger)
	if err != nil {
		return nil, err
	}

	agentName := settings.Agent
	if agentOverride != "" {
		agentName = agentOverride
	}
	tool, err := agent.New(agentName, logger)
	if err != nil {
		return nil, err
	}

	runner, err := sandbox.NewContainerRunner(sandbox.Config{
		Engine:   settings.Sandbox.Engine,
		Image:    settings.Sandbox.Image,
		Command:  settings.Sandbox.Command,
		Envs:     settings.Envs,
		EnvsFile: settings.EnvsFile,
		LogPath:  store.LogPath,
	}, logger)
	if err != nil {
		return nil, err
	}

	workflows := workflow.NewRegistry(store.Root())
	orch, err := orchestrator.New(store, manager, runner, tool, workflows, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		projectRoot: root,
		settings:    settings,
		logger:      logger,
		store:       store,
		workspace:   manager,
		workflows:   workflows,
		tool:        tool,
		orch:        orch,
	}, nil
}

// merger builds the merge coordinator with the right approver for the
// current output mode.
func (a *app) merger() (*merge.Coordinator, error) {
	var approver merge.Approver
	if !jsonOutput && !assumeYes && !mergeForce {
		approver = func(_ context.Context, files []string) (bool, error) {
			fmt.Printf("Conflicts were resolved in: %s\n", strings.Join(files, ", "))
			return confirm("Finalize the merge with these resolutions?"), nil
		}
	}
	return merge.New(a.store, a.workspace, a.tool, approver, a.logger)
}

// findProjectRoot resolves the enclosing git repository's top level.
func findProjectRoot() (string, error) {
	out, err := exec.Command("git", "rev-parse", "--show-toplevel").Output()
	if err != nil {
		return "", fmt.Errorf("not inside a git repository")
	}
	return strings.TrimSpace(string(out)), nil
}

// parseTaskID validates the positional task id argument.
func parseTaskID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

// confirm asks a yes/no question on stdin. --yes and --json both skip it.
func confirm(question string) bool {
	if assumeYes || jsonOutput {
		return true
	}
	fmt.Printf("%s [y/N] ", question)
	var answer string
	fmt.Scanln(&answer)
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
