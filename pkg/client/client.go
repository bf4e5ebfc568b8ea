// Package client is the public surface of the runtime: build a goal with
// fluent options, run it through the advisor chain, and receive a response
// carrying the accumulated context map.
package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/verdict/pkg/advisor"
	"github.com/codeready-toolchain/verdict/pkg/model"
	"github.com/codeready-toolchain/verdict/pkg/stream"
	"github.com/codeready-toolchain/verdict/pkg/transport"
)

// AgentClient issues goals against an agent model through an advisor chain.
// Safe for concurrent use; per-call state lives in the request/response
// pair.
type AgentClient struct {
	agent          *model.AgentModel
	advisors       []advisor.CallAdvisor
	streamAdvisors []advisor.StreamAdvisor
}

// New creates a client with a default advisor set applied to every call.
func New(agent *model.AgentModel, defaultAdvisors ...advisor.CallAdvisor) (*AgentClient, error) {
	if agent == nil {
		return nil, fmt.Errorf("agent client requires an agent model")
	}
	return &AgentClient{agent: agent, advisors: defaultAdvisors}, nil
}

// WithStreamAdvisors sets the default stream advisors.
func (c *AgentClient) WithStreamAdvisors(advisors ...advisor.StreamAdvisor) *AgentClient {
	c.streamAdvisors = advisors
	return c
}

// Goal starts a fluent call specification.
func (c *AgentClient) Goal(goal string) *CallSpec {
	return &CallSpec{client: c, goal: goal, context: map[string]any{}}
}

// RunGoal satisfies the judge package's AgentRunner: a bare call without
// the default advisors, returning the agent's textual output.
func (c *AgentClient) RunGoal(ctx context.Context, goal, workingDirectory string) (string, error) {
	resp, err := c.agent.Call(ctx, model.AgentTaskRequest{
		Goal:             goal,
		WorkingDirectory: workingDirectory,
	})
	if err != nil {
		return "", err
	}
	return resp.Result(), nil
}

// CallSpec accumulates the parameters of one call.
type CallSpec struct {
	client           *AgentClient
	goal             string
	workingDirectory string
	options          transport.Options
	extraAdvisors    []advisor.CallAdvisor
	context          map[string]any
}

// WorkingDirectory sets the workspace for the call.
func (s *CallSpec) WorkingDirectory(dir string) *CallSpec {
	s.workingDirectory = dir
	return s
}

// Options sets the per-call option overrides.
func (s *CallSpec) Options(opts transport.Options) *CallSpec {
	s.options = opts
	return s
}

// Advisors appends call-scoped advisors to the client defaults.
func (s *CallSpec) Advisors(advisors ...advisor.CallAdvisor) *CallSpec {
	s.extraAdvisors = append(s.extraAdvisors, advisors...)
	return s
}

// Param seeds the request context map.
func (s *CallSpec) Param(key string, value any) *CallSpec {
	s.context[key] = value
	return s
}

// Run executes the call through the advisor chain.
func (s *CallSpec) Run(ctx context.Context) (*advisor.CallResponse, error) {
	req, err := s.buildRequest()
	if err != nil {
		return nil, err
	}

	chain, err := advisor.NewCallChain(s.client.agent, s.allAdvisors()...)
	if err != nil {
		return nil, err
	}
	return chain.NextCall(ctx, req)
}

// Stream executes the call through the stream advisor chain, returning a
// lazy sequence of message events in emission order.
func (s *CallSpec) Stream(ctx context.Context) (<-chan stream.Message, error) {
	req, err := s.buildRequest()
	if err != nil {
		return nil, err
	}

	chain, err := advisor.NewStreamChain(s.client.agent, s.client.streamAdvisors...)
	if err != nil {
		return nil, err
	}
	return chain.NextStream(ctx, req)
}

func (s *CallSpec) buildRequest() (*advisor.CallRequest, error) {
	if s.goal == "" {
		return nil, fmt.Errorf("a goal is required")
	}
	s.context["call.id"] = uuid.NewString()
	return &advisor.CallRequest{
		Goal:             s.goal,
		WorkingDirectory: s.workingDirectory,
		Options:          s.options,
		Context:          s.context,
	}, nil
}

func (s *CallSpec) allAdvisors() []advisor.CallAdvisor {
	all := make([]advisor.CallAdvisor, 0, len(s.client.advisors)+len(s.extraAdvisors))
	all = append(all, s.client.advisors...)
	all = append(all, s.extraAdvisors...)
	return all
}
