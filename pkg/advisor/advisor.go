// Package advisor implements the around-style interceptor chain wrapping an
// agent call. Advisors may mutate the request and response, attach
// side-channel data to the context map, and observe failures uniformly: the
// terminal advisor folds transport failures into an ERROR response instead
// of propagating them.
package advisor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/codeready-toolchain/verdict/pkg/judge"
	"github.com/codeready-toolchain/verdict/pkg/jury"
	"github.com/codeready-toolchain/verdict/pkg/model"
	"github.com/codeready-toolchain/verdict/pkg/stream"
	"github.com/codeready-toolchain/verdict/pkg/transport"
)

// DefaultAgentPrecedenceOrder marks the terminal position in the chain.
// Pre-processing advisors use smaller orders; post-processing advisors use
// larger ones (terminal + offset), placing them innermost so their
// after-work runs immediately around the call.
const DefaultAgentPrecedenceOrder = 1000

// Context keys attached by the built-in advisors.
const (
	ContextKeyJudgment      = "judgment"
	ContextKeyJudgmentPass  = "judgment.pass"
	ContextKeyJudgmentScore = "judgment.score"

	ContextKeyVerdict           = "verdict"
	ContextKeyVerdictAggregated = "verdict.aggregated"
	ContextKeyVerdictPass       = "verdict.pass"
	ContextKeyVerdictStatus     = "verdict.status"

	ContextKeyCallError     = "call.error"
	ContextKeyGatherErrors  = "context.gather.errors"
	ContextKeyGatheredFiles = "context.gather.files"
)

// CallRequest flows down the chain. Mutation is confined to the
// single-threaded execution of one call.
type CallRequest struct {
	Goal             string
	WorkingDirectory string
	Options          transport.Options
	// Context is the advisors' side-channel attribute bag.
	Context map[string]any
}

// CallResponse flows back up the chain.
type CallResponse struct {
	Response *model.AgentResponse
	// Context accumulates advisor attachments (judgments, verdicts).
	Context map[string]any
}

// Judgment returns the judgment attached by a JudgeAdvisor.
func (r *CallResponse) Judgment() (judge.Judgment, bool) {
	value, ok := r.Context[ContextKeyJudgment].(judge.Judgment)
	return value, ok
}

// Verdict returns the verdict attached by a JuryAdvisor.
func (r *CallResponse) Verdict() (*jury.Verdict, bool) {
	value, ok := r.Context[ContextKeyVerdict].(*jury.Verdict)
	return value, ok
}

// IsSuccessful reports whether the wrapped agent response succeeded.
func (r *CallResponse) IsSuccessful() bool {
	return r.Response != nil && r.Response.IsSuccessful()
}

// CallAdvisor wraps a non-streaming call. Implementations call
// chain.NextCall exactly once and may act before and after it.
type CallAdvisor interface {
	Name() string
	Order() int
	AdviseCall(ctx context.Context, req *CallRequest, chain *CallChain) (*CallResponse, error)
}

// StreamAdvisor wraps a streaming call.
type StreamAdvisor interface {
	Name() string
	Order() int
	AdviseStream(ctx context.Context, req *CallRequest, chain *StreamChain) (<-chan stream.Message, error)
}

// CallChain is one traversal of the advisor list ending at the agent model.
// A chain instance serves a single call and is not reusable.
type CallChain struct {
	advisors []CallAdvisor
	agent    *model.AgentModel
	index    int
}

// NewCallChain sorts the advisors ascending by order and appends the
// terminal model call.
func NewCallChain(agent *model.AgentModel, advisors ...CallAdvisor) (*CallChain, error) {
	if agent == nil {
		return nil, fmt.Errorf("advisor chain requires an agent model")
	}
	sorted := make([]CallAdvisor, len(advisors))
	copy(sorted, advisors)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })
	return &CallChain{advisors: sorted, agent: agent}, nil
}

// NextCall invokes the next advisor, or the terminal agent call when the
// advisors are exhausted.
func (c *CallChain) NextCall(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	if c.index < len(c.advisors) {
		advisor := c.advisors[c.index]
		c.index++
		return advisor.AdviseCall(ctx, req, c)
	}
	return c.terminalCall(ctx, req)
}

// terminalCall performs the actual agent call. A transport failure becomes
// an ERROR response rather than an error, so post-processing advisors
// observe failures uniformly.
func (c *CallChain) terminalCall(ctx context.Context, req *CallRequest) (*CallResponse, error) {
	resp := &CallResponse{Context: req.Context}

	agentResp, err := c.agent.Call(ctx, model.AgentTaskRequest{
		Goal:             req.Goal,
		WorkingDirectory: req.WorkingDirectory,
		Options:          req.Options,
	})
	if err != nil {
		resp.Context[ContextKeyCallError] = err.Error()
	}
	resp.Response = agentResp
	if resp.Response == nil {
		// Validation failures produce no response; synthesize the ERROR
		// shape the advisors expect.
		resp.Response = &model.AgentResponse{
			Generations: []model.AgentGeneration{{
				Metadata: model.GenerationMetadata{
					FinishReason: model.FinishReasonError,
					Extras:       map[string]any{"error": err.Error()},
				},
			}},
		}
	}
	return resp, nil
}

// StreamChain is the streaming analogue of CallChain.
type StreamChain struct {
	advisors []StreamAdvisor
	agent    *model.AgentModel
	index    int
}

// NewStreamChain sorts stream advisors and appends the terminal streaming
// call.
func NewStreamChain(agent *model.AgentModel, advisors ...StreamAdvisor) (*StreamChain, error) {
	if agent == nil {
		return nil, fmt.Errorf("stream advisor chain requires an agent model")
	}
	sorted := make([]StreamAdvisor, len(advisors))
	copy(sorted, advisors)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order() < sorted[j].Order() })
	return &StreamChain{advisors: sorted, agent: agent}, nil
}

// NextStream invokes the next stream advisor or the terminal call.
func (c *StreamChain) NextStream(ctx context.Context, req *CallRequest) (<-chan stream.Message, error) {
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	if c.index < len(c.advisors) {
		advisor := c.advisors[c.index]
		c.index++
		return advisor.AdviseStream(ctx, req, c)
	}
	return c.terminalStream(ctx, req)
}

// terminalStream runs the call and replays the collected transcript in
// emission order as a lazy channel.
func (c *StreamChain) terminalStream(ctx context.Context, req *CallRequest) (<-chan stream.Message, error) {
	out := make(chan stream.Message)
	go func() {
		defer close(out)
		resp, err := c.agent.Call(ctx, model.AgentTaskRequest{
			Goal:             req.Goal,
			WorkingDirectory: req.WorkingDirectory,
			Options:          req.Options,
		})
		if err != nil {
			out <- &stream.ResultMessage{
				Subtype: stream.ResultSubtypeError,
				IsError: true,
				Result:  err.Error(),
			}
			return
		}
		for _, msg := range replayMessages(resp) {
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// replayMessages reconstructs a transcript from a normalized response.
func replayMessages(resp *model.AgentResponse) []stream.Message {
	messages := []stream.Message{
		&stream.SystemMessage{Subtype: "init", SessionID: resp.Metadata.SessionID},
	}
	if output := resp.Result(); output != "" {
		messages = append(messages, &stream.AssistantMessage{
			Content: []stream.ContentBlock{&stream.TextBlock{Text: output}},
		})
	}
	subtype := stream.ResultSubtypeSuccess
	isError := false
	if !resp.IsSuccessful() {
		subtype = stream.ResultSubtypeError
		isError = true
	}
	messages = append(messages, &stream.ResultMessage{
		Subtype:    subtype,
		SessionID:  resp.Metadata.SessionID,
		IsError:    isError,
		Result:     resp.Result(),
		DurationMS: resp.Metadata.Duration.Milliseconds(),
	})
	return messages
}

// buildJudgeContext derives the judgment context from a completed call.
func buildJudgeContext(req *CallRequest, resp *CallResponse, startedAt time.Time) judge.Context {
	status := judge.ContextStatusFailed
	if resp.IsSuccessful() {
		status = judge.ContextStatusSuccess
	}
	var output string
	var elapsed time.Duration
	if resp.Response != nil {
		output = resp.Response.Result()
		elapsed = resp.Response.Metadata.Duration
	}
	return judge.Context{
		Goal:          req.Goal,
		Workspace:     req.WorkingDirectory,
		AgentOutput:   output,
		ExecutionTime: elapsed,
		StartedAt:     startedAt,
		Status:        status,
	}
}
