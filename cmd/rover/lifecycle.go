package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roverdev/rover/internal/orchestrator"
)

var (
	stopRemoveWorktree bool
	stopRemoveAll      bool
	stopKeepIterations bool
)

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
	rootCmd.AddCommand(deleteCmd)

	stopCmd.Flags().BoolVar(&stopRemoveWorktree, "remove-git-worktree-and-branch", false, "also remove the task's worktree and delete its branch")
	stopCmd.Flags().BoolVar(&stopRemoveAll, "remove-all", false, "remove worktree, branch, and iteration history")
	stopCmd.Flags().BoolVar(&stopKeepIterations, "keep-iterations", false, "preserve iteration summaries for a later merge")
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("")
		if err != nil {
			return finish(cmd, 0, nil, "", err)
		}
		records, err := a.orch.List()
		if err != nil {
			return finish(cmd, 0, nil, "", err)
		}
		if !jsonOutput {
			if len(records) == 0 {
				fmt.Println("No tasks yet. Create one with: rover task \"<description>\"")
			}
			for _, record := range records {
				fmt.Println(renderTaskLine(record))
			}
		}
		return finish(cmd, 0, records, "", nil)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <id>",
	Short: "Show one task in detail",
	Args:  cobra.ExactArgs(1),
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
		if !jsonOutput {
			fmt.Print(renderTaskDetail(record))
		}
		return finish(cmd, id, record, "", nil)
	},
}

var startCmd = &cobra.Command{
	Use:   "start <id>",
	Short: "Start a task that is in the new state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return finish(cmd, 0, nil, "", err)
		}
		a, err := newApp("")
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		record, err := a.orch.Start(cmd.Context(), id)
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		if !jsonOutput {
			fmt.Printf("Started task %d (container %s)\n", id, record.ContainerID)
		}
		return finish(cmd, id, record, "", nil)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <id>",
	Short: "Stop a task and make it restartable",
	Long: `Stop a task's sandbox and reset the task to new so it can be started
again. The worktree and branch are preserved unless a removal flag is
set. Stopping discards the iteration scratch state by default; pass
--keep-iterations to retain the summaries a later merge uses for
commit-message context.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return finish(cmd, 0, nil, "", err)
		}
		a, err := newApp("")
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		record, err := a.orch.Stop(cmd.Context(), id, orchestrator.StopOptions{
			RemoveWorktree: stopRemoveWorktree,
			RemoveAll:      stopRemoveAll,
			KeepIterations: stopKeepIterations,
		})
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		if !jsonOutput {
			fmt.Printf("Stopped task %d; restart it with: rover start %d\n", id, id)
		}
		return finish(cmd, id, record, "", nil)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <id>",
	Short: "Stop a task and start a fresh iteration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTaskID(args[0])
		if err != nil {
			return finish(cmd, 0, nil, "", err)
		}
		a, err := newApp("")
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		record, err := a.orch.Restart(cmd.Context(), id)
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		if !jsonOutput {
			fmt.Printf("Restarted task %d (iteration %d)\n", id, record.Iterations)
		}
		return finish(cmd, id, record, "", nil)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a task, its worktree, and its branch",
	Args:  cobra.ExactArgs(1),
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
		if !confirm(fmt.Sprintf("Delete task %d (%s)? This cannot be undone.", id, record.Title)) {
			return finish(cmd, id, nil, "", fmt.Errorf("delete of task %d canceled", id))
		}
		if err := a.orch.Delete(cmd.Context(), id); err != nil {
			return finish(cmd, id, nil, "", err)
		}
		if !jsonOutput {
			fmt.Printf("Deleted task %d\n", id)
		}
		return finish(cmd, id, nil, "", nil)
	},
}
