package agent

import (
	"fmt"
	"sort"

	"github.com/roverdev/rover/internal/logging"
)

// Definition describes how one supported agent CLI is invoked. The command
// templates use {prompt} as the placeholder for the rendered prompt.
type Definition struct {
	// Name is the identifier used in settings and on the command line.
	Name string
	// Binary is the host executable for the agent CLI.
	Binary string
	// Args is the non-interactive invocation template.
	Args []string
}

// definitions holds every agent rover knows how to drive. All of them are
// invoked in one-shot print mode so the call returns when the model does.
var definitions = map[string]Definition{
	"claude": {
		Name:   "claude",
		Binary: "claude",
		Args:   []string{"-p", "{prompt}"},
	},
	"codex": {
		Name:   "codex",
		Binary: "codex",
		Args:   []string{"exec", "{prompt}"},
	},
	"gemini": {
		Name:   "gemini",
		Binary: "gemini",
		Args:   []string{"-p", "{prompt}"},
	},
	"qwen": {
		Name:   "qwen",
		Binary: "qwen",
		Args:   []string{"-p", "{prompt}"},
	},
	"cursor": {
		Name:   "cursor",
		Binary: "cursor-agent",
		Args:   []string{"-p", "{prompt}"},
	},
}

// DefaultAgent is used when settings do not name one.
const DefaultAgent = "claude"

// Names returns the supported agent identifiers, sorted.
func Names() []string {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup resolves an agent identifier to its definition.
func Lookup(name string) (Definition, error) {
	def, ok := definitions[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q (supported: %v)", ErrUnknownAgent, name, Names())
	}
	return def, nil
}

// New returns the Tool for the named agent, backed by its host CLI.
func New(name string, logger *logging.Logger) (Tool, error) {
	def, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	return newCLITool(def, logger), nil
}
