package judge

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/codeready-toolchain/verdict/pkg/llm"
)

// defaultLLMJudgePrompt evaluates whether the agent accomplished its goal.
const defaultLLMJudgePrompt = `You are evaluating the work of a coding agent.

Goal given to the agent:
{{.Goal}}

Agent output:
{{.AgentOutput}}

Execution status: {{.Status}}

Decide whether the agent accomplished the goal.`

// LLMJudgeConfig configures an LLM-backed judge.
type LLMJudgeConfig struct {
	// Name identifies the judge. Required.
	Name string
	// Description for humans.
	Description string
	// Client performs the chat completion. Required.
	Client llm.ChatClient
	// Model override per call.
	Model string
	// PromptTemplate overrides the default evaluation prompt. It is a
	// text/template evaluated against the judgment context.
	PromptTemplate string
	// SystemPrompt overrides the evaluator persona.
	SystemPrompt string
}

type llmJudge struct {
	metadata Metadata
	client   llm.ChatClient
	model    string
	prompt   *template.Template
	system   string
}

// NewLLMJudge builds an LLM-backed judge.
func NewLLMJudge(cfg LLMJudgeConfig) (Judge, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("llm judge requires a name")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("llm judge requires a chat client")
	}
	promptText := cfg.PromptTemplate
	if promptText == "" {
		promptText = defaultLLMJudgePrompt
	}
	prompt, err := template.New(cfg.Name).Parse(promptText)
	if err != nil {
		return nil, fmt.Errorf("llm judge prompt template: %w", err)
	}
	system := cfg.SystemPrompt
	if system == "" {
		system = "You are a strict, impartial evaluator of coding agent work."
	}
	return &llmJudge{
		metadata: Metadata{Name: cfg.Name, Description: cfg.Description, Type: TypeLLMPowered},
		client:   cfg.Client,
		model:    cfg.Model,
		prompt:   prompt,
		system:   system,
	}, nil
}

func (j *llmJudge) Metadata() Metadata { return j.metadata }

func (j *llmJudge) Judge(ctx context.Context, jctx Context) Judgment {
	var sb strings.Builder
	if err := j.prompt.Execute(&sb, jctx); err != nil {
		return Errorf(err, fmt.Sprintf("failed to render evaluation prompt: %v", err))
	}
	sb.WriteString("\n\n")
	sb.WriteString(responseFormatInstructions)

	resp, err := j.client.Complete(ctx, llm.CompletionRequest{
		Model: j.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: j.system},
			{Role: llm.RoleUser, Content: sb.String()},
		},
	})
	if err != nil {
		return Errorf(err, fmt.Sprintf("evaluation LLM call failed: %v", err))
	}

	judgment := parseEvaluation(resp.Text)
	judgment.Metadata["model"] = resp.Model
	judgment.Metadata["input_tokens"] = resp.InputTokens
	judgment.Metadata["output_tokens"] = resp.OutputTokens
	return judgment
}
