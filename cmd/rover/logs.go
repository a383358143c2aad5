package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roverdev/rover/internal/logs"
)

var logsFollow bool

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "stream the log as it grows")
}

var logsCmd = &cobra.Command{
	Use:   "logs <id> [iteration]",
	Short: "Show a task's agent log",
	Long: `Print the agent log for a task's iteration (latest by default). With
--follow the log is streamed until interrupted; detaching never affects
the running task.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return finish(cmd, 0, nil, "", err)
		}
		a, err := newApp("")
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		record, err := a.orch.Get(id)
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}

		iteration := record.Iterations
		if len(args) == 2 {
			iteration, err = strconv.Atoi(args[1])
			if err != nil || iteration < 1 {
				return finish(cmd, id, nil, "", fmt.Errorf("invalid iteration %q", args[1]))
			}
		}

		path := a.store.LogPath(id, iteration)
		if jsonOutput {
			if logsFollow {
				return finish(cmd, id, nil, "rerun without --json to stream the log",
					errors.New("--follow cannot produce a single JSON result"))
			}
			data, err := readLog(path)
			if err != nil {
				return finish(cmd, id, nil, "", err)
			}
			return finish(cmd, id, data, "", nil)
		}
		if logsFollow {
			err = logs.NewFollower(a.logger).Follow(cmd.Context(), path, os.Stdout)
		} else {
			err = logs.Copy(path, os.Stdout)
		}
		return finish(cmd, id, nil, "", err)
	},
}

// readLog loads the log contents for embedding in a structured result.
func readLog(path string) (map[string]string, error) {
	var buf bytes.Buffer
	if err := logs.Copy(path, &buf); err != nil {
		return nil, err
	}
	return map[string]string{"log": buf.String()}, nil
}
