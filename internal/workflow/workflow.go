// Package workflow loads the workflow definitions tasks run under. A
// workflow is pure data: the core collects its inputs and hands them to the
// agent, it never evaluates steps itself.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// DefaultName is the workflow used when settings and flags name none.
const DefaultName = "default"

// workflowsDirName is where custom workflow definitions live, relative to
// the project's state directory.
const workflowsDirName = "workflows"

// ErrNotFound indicates no workflow with the requested name exists.
var ErrNotFound = errors.New("workflow not found")

// ErrMissingInput indicates a required input has no value and no default.
var ErrMissingInput = errors.New("missing required workflow input")

// Input declares one value a workflow expects from the user or the agent.
type Input struct {
	Name        string `koanf:"name" json:"name"`
	Description string `koanf:"description" json:"description"`
	Required    bool   `koanf:"required" json:"required"`
	Default     string `koanf:"default" json:"default"`
}

// Workflow is a named set of input declarations plus the instruction text
// the agent receives.
type Workflow struct {
	Name        string  `koanf:"name" json:"name"`
	Description string  `koanf:"description" json:"description"`
	Inputs      []Input `koanf:"inputs" json:"inputs"`
}

// builtin is the default workflow shipped with rover.
var builtin = Workflow{
	Name:        DefaultName,
	Description: "Implement the task as described, run the project's checks, and summarize the result.",
	Inputs: []Input{
		{
			Name:        "description",
			Description: "What the agent should do",
			Required:    true,
		},
	},
}

// Registry resolves workflow names against the built-in set and the
// project's custom definitions.
type Registry struct {
	dir string
}

// NewRegistry builds a registry over stateDir (the project's .rover
// directory). The custom workflows directory is optional.
func NewRegistry(stateDir string) *Registry {
	return &Registry{dir: filepath.Join(stateDir, workflowsDirName)}
}

// Load resolves a workflow by name. Custom definitions shadow the built-in
// one of the same name. Empty name means the default workflow.
func (r *Registry) Load(name string) (*Workflow, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	wf, err := r.loadFile(name)
	if err == nil {
		return wf, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if name == DefaultName {
		copied := builtin
		return &copied, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Names lists every resolvable workflow name, sorted.
func (r *Registry) Names() ([]string, error) {
	seen := map[string]bool{DefaultName: true}
	entries, err := os.ReadDir(r.dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read workflows directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		base := entry.Name()
		ext := filepath.Ext(base)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		seen[strings.TrimSuffix(base, ext)] = true
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Registry) loadFile(name string) (*Workflow, error) {
	var data []byte
	var err error
	for _, ext := range []string{".yaml", ".yml"} {
		data, err = os.ReadFile(filepath.Join(r.dir, name+ext))
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read workflow %s: %w", name, err)
		}
	}
	if err != nil {
		return nil, err
	}
	return Parse(name, data)
}

// Parse decodes a yaml workflow definition.
func Parse(name string, data []byte) (*Workflow, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse workflow %s: %w", name, err)
	}
	var wf Workflow
	if err := k.Unmarshal("", &wf); err != nil {
		return nil, fmt.Errorf("decode workflow %s: %w", name, err)
	}
	if wf.Name == "" {
		wf.Name = name
	}
	for i, input := range wf.Inputs {
		if strings.TrimSpace(input.Name) == "" {
			return nil, fmt.Errorf("workflow %s: input %d has no name", name, i)
		}
	}
	return &wf, nil
}

// ResolveInputs merges provided values with declared defaults and validates
// that every required input has a value. It never mutates provided.
func (w *Workflow) ResolveInputs(provided map[string]string) (map[string]string, error) {
	resolved := make(map[string]string, len(w.Inputs))
	var missing []string
	for _, input := range w.Inputs {
		value, ok := provided[input.Name]
		if !ok || strings.TrimSpace(value) == "" {
			value = input.Default
		}
		if strings.TrimSpace(value) == "" {
			if input.Required {
				missing = append(missing, input.Name)
			}
			continue
		}
		resolved[input.Name] = value
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, strings.Join(missing, ", "))
	}
	return resolved, nil
}

// InputSpecs returns the declared inputs in a name+description form usable
// for agent-side extraction.
func (w *Workflow) InputSpecs() []Input {
	specs := make([]Input, len(w.Inputs))
	copy(specs, w.Inputs)
	return specs
}
