package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roverdev/rover/internal/config"
	"github.com/roverdev/rover/internal/task"
)

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite existing settings")
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize rover for this repository",
	Long: `Create the project state directory and a settings file with detected
languages and package manager. Settings live at .rover/settings.json and
are safe to edit by hand.

Examples:
  # Initialize the current repository
  rover init

  # Re-detect and overwrite existing settings
  rover init --force`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	root, err := findProjectRoot()
	if err != nil {
		return finish(cmd, 0, nil, "", err)
	}
	stateDir := filepath.Join(root, task.StateDirName)

	if !initForce {
		if _, err := os.Stat(config.SettingsPath(stateDir)); err == nil {
			return finish(cmd, 0, nil, "", errors.New("already initialized; use --force to overwrite settings"))
		}
	}

	settings := config.NewDefaultSettings(root)
	if err := config.Save(stateDir, settings); err != nil {
		return finish(cmd, 0, nil, "", err)
	}

	if !jsonOutput {
		fmt.Printf("Initialized rover in %s\n", stateDir)
		if len(settings.Languages) > 0 {
			fmt.Printf("  Detected languages: %v\n", settings.Languages)
		}
		if settings.PackageManager != "" {
			fmt.Printf("  Package manager:    %s\n", settings.PackageManager)
		}
		fmt.Printf("  Agent:              %s\n", settings.Agent)
		fmt.Printf("  Sandbox image:      %s\n", settings.Sandbox.Image)
	}
	return finish(cmd, 0, settings, "", nil)
}
