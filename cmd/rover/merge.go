package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	pushRemote string
	mergeForce bool
)

func init() {
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(pushCmd)
	mergeCmd.Flags().BoolVar(&mergeForce, "force", false, "finalize agent-resolved conflicts without asking")
	pushCmd.Flags().StringVar(&pushRemote, "remote", "origin", "remote to push the task branch to")
}

var mergeCmd = &cobra.Command{
	Use:   "merge <id>",
	Short: "Merge a completed task into the current branch",
	Long: `Commit any remaining worktree changes, merge the task branch into the
currently checked-out branch, and resolve merge conflicts with the
agent. A task with nothing left to land reports a successful no-op.`,
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
		coordinator, err := a.merger()
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		result, err := coordinator.Merge(cmd.Context(), id)
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		if !jsonOutput {
			switch {
			case result.Merged:
				fmt.Printf("Merged task %d into the current branch\n", id)
			default:
				fmt.Printf("Nothing to merge for task %d\n", id)
			}
		}
		return finish(cmd, id, result, "", nil)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <id>",
	Short: "Push a completed task's branch to the remote",
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
		record, err := a.orch.Push(cmd.Context(), id, pushRemote)
		if err != nil {
			return finish(cmd, id, nil, "", err)
		}
		if !jsonOutput {
			fmt.Printf("Pushed %s to %s\n", record.BranchName, pushRemote)
		}
		return finish(cmd, id, record, "", nil)
	},
}
