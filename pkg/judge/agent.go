package judge

import (
	"context"
	"fmt"
	"strings"
	"text/template"
)

// AgentRunner runs a goal against a workspace and returns the agent's
// textual output. Satisfied by the agent client; declared here so the judge
// does not depend on it.
type AgentRunner interface {
	RunGoal(ctx context.Context, goal, workingDirectory string) (string, error)
}

// defaultAgentJudgePrompt asks a second agent to review the first one's
// work against the workspace itself.
const defaultAgentJudgePrompt = `Review the workspace and decide whether the following goal was accomplished:

{{.Goal}}

Inspect the files; do not take the previous agent's claims at face value.`

// AgentJudgeConfig configures an agent-backed judge.
type AgentJudgeConfig struct {
	// Name identifies the judge. Required.
	Name string
	// Description for humans.
	Description string
	// Runner executes the evaluation goal. Required.
	Runner AgentRunner
	// GoalTemplate overrides the default review goal (text/template over
	// the judgment context).
	GoalTemplate string
}

type agentJudge struct {
	metadata Metadata
	runner   AgentRunner
	goal     *template.Template
}

// NewAgentJudge builds a judge that delegates to another agent.
func NewAgentJudge(cfg AgentJudgeConfig) (Judge, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent judge requires a name")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("agent judge requires a runner")
	}
	goalText := cfg.GoalTemplate
	if goalText == "" {
		goalText = defaultAgentJudgePrompt
	}
	goal, err := template.New(cfg.Name).Parse(goalText)
	if err != nil {
		return nil, fmt.Errorf("agent judge goal template: %w", err)
	}
	return &agentJudge{
		metadata: Metadata{Name: cfg.Name, Description: cfg.Description, Type: TypeAgent},
		runner:   cfg.Runner,
		goal:     goal,
	}, nil
}

func (j *agentJudge) Metadata() Metadata { return j.metadata }

func (j *agentJudge) Judge(ctx context.Context, jctx Context) Judgment {
	var sb strings.Builder
	if err := j.goal.Execute(&sb, jctx); err != nil {
		return Errorf(err, fmt.Sprintf("failed to render review goal: %v", err))
	}
	sb.WriteString("\n\n")
	sb.WriteString(responseFormatInstructions)

	output, err := j.runner.RunGoal(ctx, sb.String(), jctx.Workspace)
	if err != nil {
		return Errorf(err, fmt.Sprintf("review agent call failed: %v", err))
	}

	judgment := parseEvaluation(output)
	judgment.Metadata["reviewer_output_bytes"] = len(output)
	return judgment
}
