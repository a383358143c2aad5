package main

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roverdev/rover/internal/agent"
	"github.com/roverdev/rover/internal/githubinput"
	"github.com/roverdev/rover/internal/orchestrator"
)

var (
	taskAgent        string
	taskWorkflow     string
	taskSourceBranch string
	taskFromGithub   string
	taskInputs       []string
)

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.Flags().StringVar(&taskAgent, "agent", "", "agent to run (claude, codex, gemini, qwen, cursor)")
	taskCmd.Flags().StringVar(&taskWorkflow, "workflow", "", "workflow definition to use")
	taskCmd.Flags().StringVar(&taskSourceBranch, "source-branch", "", "branch to base the task branch on")
	taskCmd.Flags().StringVar(&taskFromGithub, "from-github", "", "create the task from a GitHub issue (owner/repo#number)")
	taskCmd.Flags().StringArrayVar(&taskInputs, "input", nil, "workflow input as key=value (repeatable)")
}

var taskCmd = &cobra.Command{
	Use:   "task [description]",
	Short: "Create a task and start its agent",
	Long: `Create a task, bind a dedicated branch and worktree to it, and start
the agent in a sandbox.

Examples:
  # Describe the task inline
  rover task "fix the retry loop in the login handler"

  # Create from a GitHub issue
  rover task --from-github roverdev/rover#42

  # Pick the workflow and agent explicitly
  rover task "add rate limiting" --workflow bugfix --agent codex`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	a, err := newApp(taskAgent)
	if err != nil {
		return finish(cmd, 0, nil, "", err)
	}

	opts := orchestrator.CreateOptions{
		SourceBranch: taskSourceBranch,
		WorkflowName: taskWorkflow,
		Agent:        taskAgent,
		Inputs:       map[string]string{},
	}
	if opts.Agent == "" {
		opts.Agent = a.settings.Agent
	}
	if opts.WorkflowName == "" {
		opts.WorkflowName = a.settings.Workflow
	}
	if len(args) == 1 {
		opts.Description = args[0]
	}

	for _, entry := range taskInputs {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return finish(cmd, 0, nil, "", fmt.Errorf("invalid --input %q (want key=value)", entry))
		}
		opts.Inputs[key] = value
	}

	if taskFromGithub != "" {
		if err := applyGithubIssue(cmd, a, &opts); err != nil {
			return finish(cmd, 0, nil, "", err)
		}
	}

	if strings.TrimSpace(opts.Description) == "" && !jsonOutput {
		fmt.Print("Describe the task: ")
		scanner := bufio.NewScanner(cmd.InOrStdin())
		if scanner.Scan() {
			opts.Description = scanner.Text()
		}
	}

	result, err := a.orch.Create(cmd.Context(), opts)
	if err != nil {
		taskID := 0
		hint := ""
		if result != nil && result.Record != nil {
			taskID = result.Record.ID
			hint = result.RetryHint
		}
		return finish(cmd, taskID, nil, hint, err)
	}

	if !jsonOutput {
		fmt.Printf("Created task %d: %s\n", result.Record.ID, titleStyle.Render(result.Record.Title))
		fmt.Printf("  Branch: %s\n", result.Record.BranchName)
		fmt.Printf("  Follow along with: rover logs %d --follow\n", result.Record.ID)
	}
	return finish(cmd, result.Record.ID, result.Record, "", nil)
}

// applyGithubIssue fills the create options from a GitHub issue: the issue
// text becomes the description, and the agent extracts workflow inputs
// from the body where it can.
func applyGithubIssue(cmd *cobra.Command, a *app, opts *orchestrator.CreateOptions) error {
	ref, err := githubinput.ParseIssueRef(taskFromGithub)
	if err != nil {
		return err
	}
	issue, err := githubinput.NewFetcher(cmd.Context(), a.logger).FetchIssue(cmd.Context(), ref)
	if err != nil {
		return err
	}

	opts.Description = issue.Title
	if strings.TrimSpace(issue.Body) != "" {
		opts.Description += "\n\n" + issue.Body
	}

	wf, err := a.workflows.Load(opts.WorkflowName)
	if err != nil {
		return err
	}
	specs := make([]agent.InputSpec, 0, len(wf.Inputs))
	for _, input := range wf.InputSpecs() {
		if input.Name == "description" {
			continue
		}
		specs = append(specs, agent.InputSpec{Name: input.Name, Description: input.Description})
	}
	if len(specs) == 0 {
		return nil
	}

	extracted, err := a.tool.ExtractGithubInputs(cmd.Context(), issue.Body, specs)
	if err != nil || extracted == nil {
		// Fall back to the raw body; required inputs are still validated
		// by the workflow before any side effect.
		return nil
	}
	for key, value := range extracted {
		if _, set := opts.Inputs[key]; !set {
			opts.Inputs[key] = value
		}
	}
	return nil
}
