package judge

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/verdict/pkg/llm"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantStatus Status
		wantScore  float64
		wantReason string
	}{
		{
			name:       "full response",
			text:       "PASS: true\nSCORE: 0.9\nREASONING: The file was created correctly.",
			wantStatus: StatusPass,
			wantScore:  0.9,
			wantReason: "The file was created correctly.",
		},
		{
			name:       "fail with percentage score",
			text:       "PASS: false\nSCORE: 40\nREASONING: Half the tests fail.",
			wantStatus: StatusFail,
			wantScore:  0.4,
			wantReason: "Half the tests fail.",
		},
		{
			name:       "missing pass defaults to false",
			text:       "SCORE: 1\nREASONING: looks fine",
			wantStatus: StatusFail,
			wantScore:  1.0,
			wantReason: "looks fine",
		},
		{
			name:       "no score falls back to boolean",
			text:       "PASS: true\nREASONING: done",
			wantStatus: StatusPass,
			wantScore:  1.0,
			wantReason: "done",
		},
		{
			name:       "case insensitive keywords",
			text:       "pass: TRUE\nscore: 0.5\nreasoning: mixed",
			wantStatus: StatusPass,
			wantScore:  0.5,
			wantReason: "mixed",
		},
		{
			name:       "surrounding prose tolerated",
			text:       "Let me think.\n\nPASS: false\nREASONING: the file is missing entirely",
			wantStatus: StatusFail,
			wantScore:  0.0,
			wantReason: "the file is missing entirely",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			judgment := parseEvaluation(tt.text)
			assert.Equal(t, tt.wantStatus, judgment.Status)
			assert.InDelta(t, tt.wantScore, judgment.Score.Normalized(), 1e-9)
			assert.Equal(t, tt.wantReason, judgment.Reasoning)
		})
	}
}

func TestParseEvaluation_GarbageIsFail(t *testing.T) {
	judgment := parseEvaluation("complete nonsense with no structure")
	assert.Equal(t, StatusFail, judgment.Status)
	assert.Equal(t, 0.0, judgment.Score.Normalized())
	require.Len(t, judgment.Checks, 1)
	assert.False(t, judgment.Checks[0].Passed, "verdict_parsed check records the missing PASS line")
}

// scriptedChat returns canned completions.
type scriptedChat struct {
	text string
	err  error
	last llm.CompletionRequest
}

func (s *scriptedChat) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.last = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Text: s.text, Model: "judge-model"}, nil
}

func TestLLMJudge(t *testing.T) {
	chat := &scriptedChat{text: "PASS: true\nSCORE: 0.8\nREASONING: solid work"}
	j, err := NewLLMJudge(LLMJudgeConfig{Name: "quality", Client: chat})
	require.NoError(t, err)
	assert.Equal(t, TypeLLMPowered, j.Metadata().Type)

	judgment := j.Judge(context.Background(), Context{
		Goal:        "write a parser",
		AgentOutput: "done, see parser.go",
		Status:      ContextStatusSuccess,
	})

	assert.True(t, judgment.Pass())
	assert.InDelta(t, 0.8, judgment.Score.Normalized(), 1e-9)
	assert.Equal(t, "solid work", judgment.Reasoning)
	assert.Equal(t, "judge-model", judgment.Metadata["model"])

	// The prompt carried the context and the response grammar.
	prompt := chat.last.Messages[len(chat.last.Messages)-1].Content
	assert.Contains(t, prompt, "write a parser")
	assert.Contains(t, prompt, "done, see parser.go")
	assert.Contains(t, prompt, "PASS: true or false")
}

func TestLLMJudge_ClientErrorIsErrorJudgment(t *testing.T) {
	chat := &scriptedChat{err: fmt.Errorf("rate limited")}
	j, err := NewLLMJudge(LLMJudgeConfig{Name: "quality", Client: chat})
	require.NoError(t, err)

	judgment := j.Judge(context.Background(), Context{Goal: "x"})
	assert.Equal(t, StatusError, judgment.Status)
	assert.NotNil(t, judgment.Err)
	assert.Equal(t, 0.0, judgment.Score.Normalized())
}

func TestLLMJudge_Validation(t *testing.T) {
	_, err := NewLLMJudge(LLMJudgeConfig{Client: &scriptedChat{}})
	assert.Error(t, err)
	_, err = NewLLMJudge(LLMJudgeConfig{Name: "n"})
	assert.Error(t, err)
	_, err = NewLLMJudge(LLMJudgeConfig{Name: "n", Client: &scriptedChat{}, PromptTemplate: "{{.Broken"})
	assert.Error(t, err)
}

// scriptedRunner plays an agent reviewer.
type scriptedRunner struct {
	output   string
	err      error
	lastGoal string
	lastDir  string
}

func (r *scriptedRunner) RunGoal(_ context.Context, goal, workingDirectory string) (string, error) {
	r.lastGoal = goal
	r.lastDir = workingDirectory
	return r.output, r.err
}

func TestAgentJudge(t *testing.T) {
	runner := &scriptedRunner{output: "I inspected the files.\nPASS: true\nREASONING: goal met"}
	j, err := NewAgentJudge(AgentJudgeConfig{Name: "reviewer", Runner: runner})
	require.NoError(t, err)
	assert.Equal(t, TypeAgent, j.Metadata().Type)

	judgment := j.Judge(context.Background(), Context{Goal: "add tests", Workspace: "/tmp/ws"})
	assert.True(t, judgment.Pass())
	assert.Equal(t, "goal met", judgment.Reasoning)
	assert.Equal(t, "/tmp/ws", runner.lastDir)
	assert.Contains(t, runner.lastGoal, "add tests")
}

func TestAgentJudge_RunnerError(t *testing.T) {
	runner := &scriptedRunner{err: fmt.Errorf("agent unavailable")}
	j, err := NewAgentJudge(AgentJudgeConfig{Name: "reviewer", Runner: runner})
	require.NoError(t, err)

	judgment := j.Judge(context.Background(), Context{Goal: "x"})
	assert.Equal(t, StatusError, judgment.Status)
}

func TestAgentJudge_Validation(t *testing.T) {
	_, err := NewAgentJudge(AgentJudgeConfig{Runner: &scriptedRunner{}})
	assert.Error(t, err)
	_, err = NewAgentJudge(AgentJudgeConfig{Name: "n"})
	assert.Error(t, err)
}
