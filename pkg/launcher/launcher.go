// Package launcher resolves agent ids to goal templates and runs them
// through an agent client. It backs the CLI's run command.
package launcher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
)

// agentIDPattern constrains launchable agent ids.
var agentIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ErrUnknownAgent is returned for an id not present in the registry.
var ErrUnknownAgent = fmt.Errorf("unknown agent id")

// MissingInputError reports required inputs that were not supplied.
type MissingInputError struct {
	Agent  string
	Inputs []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("agent %s is missing required inputs: %s", e.Agent, strings.Join(e.Inputs, ", "))
}

// AgentDef is one launchable goal template.
type AgentDef struct {
	// ID matches agentIDPattern.
	ID string
	// Description shown in listings.
	Description string
	// GoalTemplate is a text/template rendered against the inputs map.
	GoalTemplate string
	// Required inputs that must be present.
	Required []string
}

// Registry maps agent ids to definitions.
type Registry struct {
	agents map[string]AgentDef
}

// NewRegistry creates a registry with the built-in agents.
func NewRegistry() *Registry {
	r := &Registry{agents: make(map[string]AgentDef)}
	for _, def := range builtinAgents {
		// Built-ins are statically valid.
		_ = r.Register(def)
	}
	return r
}

// Register adds a definition, validating id and template.
func (r *Registry) Register(def AgentDef) error {
	if !agentIDPattern.MatchString(def.ID) {
		return fmt.Errorf("invalid agent id %q", def.ID)
	}
	if _, err := template.New(def.ID).Parse(def.GoalTemplate); err != nil {
		return fmt.Errorf("agent %s goal template: %w", def.ID, err)
	}
	r.agents[def.ID] = def
	return nil
}

// Lookup returns the definition for an id.
func (r *Registry) Lookup(id string) (AgentDef, bool) {
	def, ok := r.agents[id]
	return def, ok
}

// IDs lists registered agent ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.agents))
	for id := range r.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// builtinAgents ship with the launcher.
var builtinAgents = []AgentDef{
	{
		ID:           "hello-world",
		Description:  "create a file with given content in the workspace",
		GoalTemplate: "Create a file named {{.path}} containing exactly: {{.content}}",
		Required:     []string{"path", "content"},
	},
	{
		ID:           "code-review",
		Description:  "review the workspace and report issues",
		GoalTemplate: "Review the code in this workspace and report correctness issues.{{if .focus}} Focus on: {{.focus}}.{{end}}",
	},
	{
		ID:           "fix-failing-tests",
		Description:  "make the test suite pass",
		GoalTemplate: "Run the test suite, find the failures, and fix the code until all tests pass.",
	},
}

// ParseInputs splits key=value arguments on the first '='. Duplicate keys
// take last-wins; empty values produce empty strings.
func ParseInputs(args []string) (map[string]string, error) {
	inputs := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("input %q is not of the form key=value", arg)
		}
		inputs[key] = value
	}
	return inputs, nil
}

// GoalRunner abstracts the client for the launcher.
type GoalRunner interface {
	RunGoal(ctx context.Context, goal, workingDirectory string) (string, error)
}

// RenderGoal resolves the agent definition and renders its goal.
func (r *Registry) RenderGoal(id string, inputs map[string]string) (string, error) {
	if !agentIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}
	def, ok := r.Lookup(id)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAgent, id)
	}

	var missing []string
	for _, required := range def.Required {
		if _, present := inputs[required]; !present {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return "", &MissingInputError{Agent: id, Inputs: missing}
	}

	tmpl, err := template.New(def.ID).Parse(def.GoalTemplate)
	if err != nil {
		return "", fmt.Errorf("agent %s goal template: %w", id, err)
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, inputs); err != nil {
		return "", fmt.Errorf("render goal for %s: %w", id, err)
	}
	return sb.String(), nil
}
