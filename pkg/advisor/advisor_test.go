package advisor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/verdict/pkg/model"
	"github.com/codeready-toolchain/verdict/pkg/stream"
	"github.com/codeready-toolchain/verdict/pkg/transport"
)

// fakeTransport yields a scripted QueryResult.
type fakeTransport struct {
	result *transport.QueryResult
	err    error
}

func (f *fakeTransport) Vendor() string                   { return "claude" }
func (f *fakeTransport) IsAvailable(context.Context) bool { return true }
func (f *fakeTransport) BuildCommand(string, transport.Options) ([]string, error) {
	return nil, nil
}
func (f *fakeTransport) ParseResult(string, transport.Options) (*transport.QueryResult, error) {
	return f.result, f.err
}
func (f *fakeTransport) Execute(context.Context, string, transport.Options) (*transport.QueryResult, error) {
	return f.result, f.err
}
func (f *fakeTransport) Resume(context.Context, string, string, transport.Options) (*transport.QueryResult, error) {
	return f.result, f.err
}

func successQueryResult(text string) *transport.QueryResult {
	return &transport.QueryResult{
		Messages: []stream.Message{
			&stream.SystemMessage{Subtype: "init", SessionID: "s1"},
			&stream.AssistantMessage{Content: []stream.ContentBlock{&stream.TextBlock{Text: text}}},
			&stream.ResultMessage{Subtype: "success", SessionID: "s1", NumTurns: 1, Result: text},
		},
		Metadata: transport.Metadata{Model: "m", SessionID: "s1"},
		Status:   transport.StatusSuccess,
	}
}

func newTestModel(t *testing.T, ft transport.AgentTransport) *model.AgentModel {
	t.Helper()
	m, err := model.NewAgentModel(ft, transport.Options{})
	require.NoError(t, err)
	return m
}

// recordingAdvisor notes before/after ordering.
type recordingAdvisor struct {
	name  string
	order int
	trace *[]string
}

func (a *recordingAdvisor) Name() string { return a.name }
func (a *recordingAdvisor) Order() int   { return a.order }
func (a *recordingAdvisor) AdviseCall(ctx context.Context, req *CallRequest, chain *CallChain) (*CallResponse, error) {
	*a.trace = append(*a.trace, "before:"+a.name)
	resp, err := chain.NextCall(ctx, req)
	*a.trace = append(*a.trace, "after:"+a.name)
	return resp, err
}

func TestCallChain_OrderingAndTerminal(t *testing.T) {
	agent := newTestModel(t, &fakeTransport{result: successQueryResult("done")})

	var trace []string
	chain, err := NewCallChain(agent,
		&recordingAdvisor{name: "post", order: DefaultAgentPrecedenceOrder + 100, trace: &trace},
		&recordingAdvisor{name: "pre", order: 100, trace: &trace},
	)
	require.NoError(t, err)

	resp, err := chain.NextCall(context.Background(), &CallRequest{Goal: "g"})
	require.NoError(t, err)
	require.NotNil(t, resp.Response)
	assert.True(t, resp.IsSuccessful())
	assert.Equal(t, "done", resp.Response.Result())

	// Ascending order: pre wraps post wraps the terminal call.
	assert.Equal(t, []string{"before:pre", "before:post", "after:post", "after:pre"}, trace)
}

func TestCallChain_TerminalFailureBecomesErrorResponse(t *testing.T) {
	agent := newTestModel(t, &fakeTransport{err: fmt.Errorf("CLI exploded")})
	chain, err := NewCallChain(agent)
	require.NoError(t, err)

	resp, err := chain.NextCall(context.Background(), &CallRequest{Goal: "g"})
	require.NoError(t, err, "terminal failures are folded into the response")
	require.NotNil(t, resp.Response)

	assert.Equal(t, model.FinishReasonError, resp.Response.FinishReason())
	assert.Contains(t, resp.Context[ContextKeyCallError], "CLI exploded")
}

func TestCallChain_RequiresAgent(t *testing.T) {
	_, err := NewCallChain(nil)
	assert.Error(t, err)
}

func TestStreamChain_ReplaysTranscript(t *testing.T) {
	agent := newTestModel(t, &fakeTransport{result: successQueryResult("streamed")})
	chain, err := NewStreamChain(agent)
	require.NoError(t, err)

	messages, err := chain.NextStream(context.Background(), &CallRequest{Goal: "g"})
	require.NoError(t, err)

	var collected []stream.Message
	for msg := range messages {
		collected = append(collected, msg)
	}

	require.Len(t, collected, 3)
	assert.IsType(t, &stream.SystemMessage{}, collected[0])
	assert.Equal(t, "streamed", collected[1].(*stream.AssistantMessage).Text())
	result := collected[2].(*stream.ResultMessage)
	assert.Equal(t, stream.ResultSubtypeSuccess, result.Subtype)
}
