package client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/verdict/pkg/advisor"
	"github.com/codeready-toolchain/verdict/pkg/judge"
	"github.com/codeready-toolchain/verdict/pkg/model"
	"github.com/codeready-toolchain/verdict/pkg/stream"
	"github.com/codeready-toolchain/verdict/pkg/transport"
)

// fakeTransport scripts transport results for client tests.
type fakeTransport struct {
	result   *transport.QueryResult
	err      error
	lastGoal string
	lastOpts transport.Options
}

func (f *fakeTransport) Vendor() string                   { return "claude" }
func (f *fakeTransport) IsAvailable(context.Context) bool { return true }
func (f *fakeTransport) BuildCommand(string, transport.Options) ([]string, error) {
	return nil, nil
}
func (f *fakeTransport) ParseResult(string, transport.Options) (*transport.QueryResult, error) {
	return f.result, f.err
}
func (f *fakeTransport) Execute(_ context.Context, goal string, opts transport.Options) (*transport.QueryResult, error) {
	f.lastGoal = goal
	f.lastOpts = opts
	return f.result, f.err
}
func (f *fakeTransport) Resume(context.Context, string, string, transport.Options) (*transport.QueryResult, error) {
	return f.result, f.err
}

func scriptedResult(text string) *transport.QueryResult {
	return &transport.QueryResult{
		Messages: []stream.Message{
			&stream.SystemMessage{Subtype: "init", SessionID: "s1"},
			&stream.AssistantMessage{Content: []stream.ContentBlock{&stream.TextBlock{Text: text}}},
			&stream.ResultMessage{Subtype: "success", SessionID: "s1", Result: text},
		},
		Metadata: transport.Metadata{Model: "m", SessionID: "s1"},
		Status:   transport.StatusSuccess,
	}
}

func newClient(t *testing.T, ft transport.AgentTransport, advisors ...advisor.CallAdvisor) *AgentClient {
	t.Helper()
	agent, err := model.NewAgentModel(ft, transport.Options{})
	require.NoError(t, err)
	c, err := New(agent, advisors...)
	require.NoError(t, err)
	return c
}

func TestAgentClient_FluentRun(t *testing.T) {
	ft := &fakeTransport{result: scriptedResult("it works")}
	c := newClient(t, ft)

	resp, err := c.Goal("build the thing").
		WorkingDirectory("/tmp/ws").
		Options(transport.Options{Model: "special-model"}).
		Param("ticket", "ABC-123").
		Run(context.Background())
	require.NoError(t, err)

	assert.True(t, resp.IsSuccessful())
	assert.Equal(t, "it works", resp.Response.Result())
	assert.Equal(t, "build the thing", ft.lastGoal)
	assert.Equal(t, "special-model", ft.lastOpts.Model)
	assert.Equal(t, "/tmp/ws", ft.lastOpts.WorkingDirectory)
	assert.Equal(t, "ABC-123", resp.Context["ticket"], "params surface in the response context")
	assert.NotEmpty(t, resp.Context["call.id"])
}

func TestAgentClient_RunRequiresGoal(t *testing.T) {
	c := newClient(t, &fakeTransport{result: scriptedResult("x")})
	_, err := c.Goal("").Run(context.Background())
	assert.Error(t, err)
}

func TestAgentClient_JudgeAdvisorIntegration(t *testing.T) {
	outputJudge, err := judge.NewOutputContainsJudge("works")
	require.NoError(t, err)
	judgeAdvisor, err := advisor.NewJudgeAdvisor(outputJudge)
	require.NoError(t, err)

	c := newClient(t, &fakeTransport{result: scriptedResult("it works")}, judgeAdvisor)

	resp, err := c.Goal("do it").Run(context.Background())
	require.NoError(t, err)

	judgment, ok := resp.Judgment()
	require.True(t, ok)
	assert.True(t, judgment.Pass())
}

func TestAgentClient_CallScopedAdvisors(t *testing.T) {
	outputJudge, err := judge.NewOutputContainsJudge("absent-marker")
	require.NoError(t, err)
	judgeAdvisor, err := advisor.NewJudgeAdvisor(outputJudge)
	require.NoError(t, err)

	c := newClient(t, &fakeTransport{result: scriptedResult("plain")})

	// Without the advisor: no judgment.
	resp, err := c.Goal("x").Run(context.Background())
	require.NoError(t, err)
	_, ok := resp.Judgment()
	assert.False(t, ok)

	// With a call-scoped advisor: judged (and failing).
	resp, err = c.Goal("x").Advisors(judgeAdvisor).Run(context.Background())
	require.NoError(t, err)
	judgment, ok := resp.Judgment()
	require.True(t, ok)
	assert.False(t, judgment.Pass())
}

func TestAgentClient_Stream(t *testing.T) {
	c := newClient(t, &fakeTransport{result: scriptedResult("streamed")})

	messages, err := c.Goal("stream it").Stream(context.Background())
	require.NoError(t, err)

	var kinds []stream.MessageType
	for msg := range messages {
		kinds = append(kinds, msg.MessageType())
	}
	assert.Equal(t, []stream.MessageType{
		stream.MessageTypeSystem,
		stream.MessageTypeAssistant,
		stream.MessageTypeResult,
	}, kinds)
}

func TestAgentClient_RunGoal(t *testing.T) {
	ft := &fakeTransport{result: scriptedResult("reviewed: fine")}
	c := newClient(t, ft)

	output, err := c.RunGoal(context.Background(), "review this", "/tmp/ws")
	require.NoError(t, err)
	assert.Equal(t, "reviewed: fine", output)

	// The client satisfies the judge package's runner contract.
	var _ judge.AgentRunner = c
}

func TestNew_RequiresModel(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
