package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/logging"
)

const promptPlaceholder = "{prompt}"

// cliTool drives a host agent CLI in one-shot mode. Every capability
// renders a prompt that asks for a machine-readable answer, runs the CLI,
// and parses the reply; a reply the tool cannot parse is treated as a
// decline rather than a failure.
type cliTool struct {
	def    Definition
	logger *logging.Logger
	// runCommand is swapped in tests.
	runCommand func(ctx context.Context, binary string, args []string) (string, error)
}

func newCLITool(def Definition, logger *logging.Logger) *cliTool {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &cliTool{
		def:        def,
		logger:     logger.Named("agent").With(zap.String("agent", def.Name)),
		runCommand: runHostCommand,
	}
}

func (t *cliTool) ExpandTask(ctx context.Context, rawDescription, projectRoot string) (*Expansion, error) {
	prompt := expandPrompt(rawDescription, projectRoot)
	out, err := t.invoke(ctx, prompt)
	if err != nil {
		return nil, err
	}
	var expansion Expansion
	if err := decodeReply(out, &expansion); err != nil {
		t.logger.Debug("unparseable expansion reply", zap.Error(err))
		return nil, nil
	}
	if strings.TrimSpace(expansion.Title) == "" || strings.TrimSpace(expansion.Description) == "" {
		return nil, nil
	}
	return &expansion, nil
}

func (t *cliTool) GenerateCommitMessage(ctx context.Context, req CommitMessageRequest) (string, error) {
	out, err := t.invoke(ctx, commitMessagePrompt(req))
	if err != nil {
		return "", err
	}
	var reply struct {
		Message string `json:"message"`
	}
	if err := decodeReply(out, &reply); err != nil {
		t.logger.Debug("unparseable commit message reply", zap.Error(err))
		return "", nil
	}
	return strings.TrimSpace(reply.Message), nil
}

func (t *cliTool) ResolveMergeConflicts(ctx context.Context, filePath, historyContext, conflictedContent string) (string, error) {
	out, err := t.invoke(ctx, resolvePrompt(filePath, historyContext, conflictedContent))
	if err != nil {
		return "", err
	}
	var reply struct {
		Resolved bool   `json:"resolved"`
		Content  string `json:"content"`
	}
	if err := decodeReply(out, &reply); err != nil {
		t.logger.Debug("unparseable conflict resolution reply",
			zap.String("file", filePath), zap.Error(err))
		return "", nil
	}
	if !reply.Resolved {
		return "", nil
	}
	if strings.Contains(reply.Content, "<<<<<<<") || strings.Contains(reply.Content, ">>>>>>>") {
		// Markers left behind mean the resolution is not usable.
		return "", nil
	}
	return reply.Content, nil
}

func (t *cliTool) ExtractGithubInputs(ctx context.Context, issueBody string, specs []InputSpec) (map[string]string, error) {
	if len(specs) == 0 {
		return map[string]string{}, nil
	}
	out, err := t.invoke(ctx, extractInputsPrompt(issueBody, specs))
	if err != nil {
		return nil, err
	}
	var reply map[string]string
	if err := decodeReply(out, &reply); err != nil {
		t.logger.Debug("unparseable input extraction reply", zap.Error(err))
		return nil, nil
	}
	// Only keep keys that were actually requested.
	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		known[spec.Name] = true
	}
	values := make(map[string]string)
	for key, value := range reply {
		if known[key] && strings.TrimSpace(value) != "" {
			values[key] = value
		}
	}
	return values, nil
}

// invoke renders the definition's arg template and runs the agent CLI.
func (t *cliTool) invoke(ctx context.Context, prompt string) (string, error) {
	args := make([]string, 0, len(t.def.Args))
	for _, arg := range t.def.Args {
		args = append(args, strings.ReplaceAll(arg, promptPlaceholder, prompt))
	}
	out, err := t.runCommand(ctx, t.def.Binary, args)
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", t.def.Name, err)
	}
	return out, nil
}

func runHostCommand(ctx context.Context, binary string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s failed: %w: %s", binary, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// decodeReply parses the first JSON object in the reply, tolerating prose
// and markdown fences around it.
func decodeReply(reply string, v any) error {
	raw := extractJSON(reply)
	if raw == "" {
		return errors.New("no JSON object in reply")
	}
	return json.Unmarshal([]byte(raw), v)
}

// extractJSON returns the outermost {...} block in s, or empty.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func expandPrompt(rawDescription, projectRoot string) string {
	var b strings.Builder
	b.WriteString("You are helping plan a coding task")
	if projectRoot != "" {
		fmt.Fprintf(&b, " in the repository at %s", projectRoot)
	}
	b.WriteString(".\n\nRaw instruction:\n")
	b.WriteString(rawDescription)
	b.WriteString("\n\nExpand it into a short imperative title and a concrete description ")
	b.WriteString("of what to change. Reply with only a JSON object: ")
	b.WriteString(`{"title": "...", "description": "..."}`)
	return b.String()
}

func commitMessagePrompt(req CommitMessageRequest) string {
	var b strings.Builder
	b.WriteString("Write a git commit message for the following completed task.\n\n")
	fmt.Fprintf(&b, "Task title: %s\n", req.Title)
	if req.Description != "" {
		fmt.Fprintf(&b, "Task description: %s\n", req.Description)
	}
	if len(req.RecentCommits) > 0 {
		b.WriteString("\nRecent commits on the target branch:\n")
		for _, subject := range req.RecentCommits {
			fmt.Fprintf(&b, "- %s\n", subject)
		}
	}
	if len(req.IterationSummaries) > 0 {
		b.WriteString("\nWhat was done, per iteration:\n")
		for _, summary := range req.IterationSummaries {
			fmt.Fprintf(&b, "- %s\n", summary)
		}
	}
	b.WriteString("\nMatch the style of the recent commits. Reply with only a JSON object: ")
	b.WriteString(`{"message": "..."}`)
	return b.String()
}

func resolvePrompt(filePath, historyContext, conflictedContent string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The file %s has unresolved git merge conflicts.\n", filePath)
	if historyContext != "" {
		b.WriteString("\nContext about the change being merged:\n")
		b.WriteString(historyContext)
		b.WriteString("\n")
	}
	b.WriteString("\nFile content with conflict markers:\n")
	b.WriteString(conflictedContent)
	b.WriteString("\n\nResolve the conflicts, keeping the intent of both sides. ")
	b.WriteString("Reply with only a JSON object: ")
	b.WriteString(`{"resolved": true, "content": "<full resolved file content>"}. `)
	b.WriteString(`If you cannot resolve it safely, reply {"resolved": false, "content": ""}.`)
	return b.String()
}

func extractInputsPrompt(issueBody string, specs []InputSpec) string {
	var b strings.Builder
	b.WriteString("Extract workflow input values from this GitHub issue body.\n\nInputs wanted:\n")
	for _, spec := range specs {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
	}
	b.WriteString("\nIssue body:\n")
	b.WriteString(issueBody)
	b.WriteString("\n\nReply with only a JSON object mapping input name to value. ")
	b.WriteString("Omit inputs the issue does not answer.")
	return b.String()
}
