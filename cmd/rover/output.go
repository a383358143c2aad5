package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/roverdev/rover/internal/task"
)

// jsonResult is the single structured object --json mode emits. Exit code
// is non-zero exactly when Success is false.
type jsonResult struct {
	Success bool   `json:"success"`
	TaskID  int    `json:"taskId,omitempty"`
	Error   string `json:"error,omitempty"`
	Hint    string `json:"hint,omitempty"`
	Data    any    `json:"data,omitempty"`
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	statusStyle = map[task.Status]lipgloss.Style{
		task.StatusNew:        lipgloss.NewStyle().Foreground(lipgloss.Color("7")),
		task.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		task.StatusIterating:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		task.StatusCompleted:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		task.StatusFailed:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		task.StatusMerged:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		task.StatusPushed:     lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
	}
)

// finish emits the command outcome in the active output mode and returns
// the error for cobra's exit handling.
func finish(cmd *cobra.Command, taskID int, data any, hint string, err error) error {
	if jsonOutput {
		result := jsonResult{Success: err == nil, TaskID: taskID, Data: data, Hint: hint}
		if err != nil {
			result.Error = err.Error()
		}
		encoded, encodeErr := json.Marshal(result)
		if encodeErr != nil {
			return encodeErr
		}
		fmt.Fprintln(os.Stdout, string(encoded))
		return err
	}
	if err != nil {
		if hint != "" {
			fmt.Fprintln(os.Stderr, dimStyle.Render(hint))
		}
		return err
	}
	return nil
}

// renderStatus colors a task status for human output.
func renderStatus(status task.Status) string {
	style, ok := statusStyle[status]
	if !ok {
		return string(status)
	}
	return style.Render(string(status))
}

// renderTaskLine formats one task for the list view.
func renderTaskLine(record *task.Record) string {
	return fmt.Sprintf("%4d  %-12s  %s", record.ID, renderStatus(record.Status), record.Title)
}

// renderTaskDetail formats the inspect view.
func renderTaskDetail(record *task.Record) string {
	out := titleStyle.Render(fmt.Sprintf("Task %d: %s", record.ID, record.Title)) + "\n"
	out += fmt.Sprintf("  Status:      %s\n", renderStatus(record.Status))
	out += fmt.Sprintf("  Created:     %s\n", record.CreatedAt.Local().Format(time.RFC1123))
	if record.StartedAt != nil {
		out += fmt.Sprintf("  Started:     %s\n", record.StartedAt.Local().Format(time.RFC1123))
	}
	if record.CompletedAt != nil {
		out += fmt.Sprintf("  Completed:   %s\n", record.CompletedAt.Local().Format(time.RFC1123))
	}
	out += fmt.Sprintf("  Iterations:  %d\n", record.Iterations)
	if record.BranchName != "" {
		out += fmt.Sprintf("  Branch:      %s\n", record.BranchName)
	}
	if record.WorktreePath != "" {
		out += fmt.Sprintf("  Worktree:    %s\n", record.WorktreePath)
	}
	if record.ContainerID != "" {
		out += fmt.Sprintf("  Container:   %s (%s)\n", record.ContainerID, record.ExecutionStatus)
	}
	if record.WorkflowName != "" {
		out += fmt.Sprintf("  Workflow:    %s\n", record.WorkflowName)
	}
	if record.Agent != "" {
		out += fmt.Sprintf("  Agent:       %s\n", record.Agent)
	}
	if record.Error != "" {
		out += fmt.Sprintf("  Error:       %s\n", errorStyle.Render(record.Error))
	}
	if record.Description != "" {
		out += "\n" + record.Description + "\n"
	}
	return out
}
