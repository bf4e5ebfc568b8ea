// Package model provides the vendor-agnostic facade over agent transports:
// an AgentTaskRequest goes in, a normalized AgentResponse comes out.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/verdict/pkg/transport"
)

// FinishReason classifies how a generation ended.
type FinishReason string

const (
	FinishReasonSuccess   FinishReason = "SUCCESS"
	FinishReasonPartial   FinishReason = "PARTIAL"
	FinishReasonError     FinishReason = "ERROR"
	FinishReasonTimeout   FinishReason = "TIMEOUT"
	FinishReasonCancelled FinishReason = "CANCELLED"
)

// AgentTaskRequest is one unit of work for an agent.
type AgentTaskRequest struct {
	// Goal is the instruction text. Required.
	Goal string
	// WorkingDirectory is the workspace the agent operates on.
	WorkingDirectory string
	// Options are per-request overrides over the model's defaults.
	Options transport.Options
}

// Validate checks the request.
func (r *AgentTaskRequest) Validate() error {
	if r.Goal == "" {
		return fmt.Errorf("agent task request requires a non-empty goal")
	}
	return r.Options.Validate()
}

// GenerationMetadata annotates one generation.
type GenerationMetadata struct {
	FinishReason FinishReason
	Extras       map[string]any
}

// AgentGeneration is one normalized output of an agent call.
type AgentGeneration struct {
	Output   string
	Metadata GenerationMetadata
}

// ResponseMetadata describes the call as a whole.
type ResponseMetadata struct {
	Model          string
	Duration       time.Duration
	SessionID      string
	ProviderFields map[string]any
}

// AgentResponse is the normalized outcome of an agent call.
type AgentResponse struct {
	Generations []AgentGeneration
	Metadata    ResponseMetadata
}

// Result returns the first generation's output, empty when there is none.
func (r *AgentResponse) Result() string {
	if len(r.Generations) == 0 {
		return ""
	}
	return r.Generations[0].Output
}

// FinishReason returns the first generation's finish reason, ERROR when
// there is none.
func (r *AgentResponse) FinishReason() FinishReason {
	if len(r.Generations) == 0 {
		return FinishReasonError
	}
	return r.Generations[0].Metadata.FinishReason
}

// IsSuccessful reports whether the call finished cleanly.
func (r *AgentResponse) IsSuccessful() bool {
	return r.FinishReason() == FinishReasonSuccess
}

// AgentModel is a thin facade over one vendor transport. Safe for
// concurrent use; defaults are read-only after construction.
type AgentModel struct {
	transport transport.AgentTransport
	defaults  transport.Options
}

// NewAgentModel wraps a transport with default options.
func NewAgentModel(tr transport.AgentTransport, defaults transport.Options) (*AgentModel, error) {
	if tr == nil {
		return nil, fmt.Errorf("agent model requires a transport")
	}
	if err := defaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid default options: %w", err)
	}
	return &AgentModel{transport: tr, defaults: defaults}, nil
}

// Vendor returns the underlying vendor tag.
func (m *AgentModel) Vendor() string { return m.transport.Vendor() }

// IsAvailable delegates to the transport probe.
func (m *AgentModel) IsAvailable(ctx context.Context) bool {
	return m.transport.IsAvailable(ctx)
}

// Call executes the request. All outcomes are returned as an AgentResponse;
// transport failures become a single ERROR generation so post-processing
// observes failures uniformly.
func (m *AgentModel) Call(ctx context.Context, req AgentTaskRequest) (*AgentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	opts, err := transport.Merge(m.defaults, req.Options)
	if err != nil {
		return nil, err
	}
	if req.WorkingDirectory != "" {
		opts.WorkingDirectory = req.WorkingDirectory
	}

	start := time.Now()
	qr, err := m.transport.Execute(ctx, req.Goal, opts)
	if err != nil {
		slog.Warn("Agent transport call failed",
			"vendor", m.transport.Vendor(), "error", err)
		return errorResponse(m.transport.Vendor(), err, time.Since(start)), err
	}

	return fromQueryResult(qr), nil
}

// Resume continues a previous session.
func (m *AgentModel) Resume(ctx context.Context, sessionID string, req AgentTaskRequest) (*AgentResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	opts, err := transport.Merge(m.defaults, req.Options)
	if err != nil {
		return nil, err
	}
	if req.WorkingDirectory != "" {
		opts.WorkingDirectory = req.WorkingDirectory
	}

	start := time.Now()
	qr, err := m.transport.Resume(ctx, sessionID, req.Goal, opts)
	if err != nil {
		return errorResponse(m.transport.Vendor(), err, time.Since(start)), err
	}
	return fromQueryResult(qr), nil
}

// fromQueryResult translates the transport result into the normalized
// response: one generation holding the concatenated assistant text, or the
// terminal result text when no assistant text was produced.
func fromQueryResult(qr *transport.QueryResult) *AgentResponse {
	output := qr.AssistantText()
	if output == "" {
		output = qr.FinalResult()
	}

	extras := map[string]any{}
	if len(qr.Warnings) > 0 {
		extras["warnings"] = qr.Warnings
	}
	if qr.Metadata.NumTurns > 0 {
		extras["num_turns"] = qr.Metadata.NumTurns
	}
	if qr.Metadata.TotalCostUSD != nil {
		extras["total_cost_usd"] = *qr.Metadata.TotalCostUSD
	}

	providerFields := map[string]any{}
	if qr.Metadata.Usage != nil {
		providerFields["usage"] = *qr.Metadata.Usage
	}
	if qr.Metadata.APIDurationMS > 0 {
		providerFields["api_duration_ms"] = qr.Metadata.APIDurationMS
	}

	return &AgentResponse{
		Generations: []AgentGeneration{{
			Output: output,
			Metadata: GenerationMetadata{
				FinishReason: finishReasonFromStatus(qr.Status),
				Extras:       extras,
			},
		}},
		Metadata: ResponseMetadata{
			Model:          qr.Metadata.Model,
			Duration:       time.Duration(qr.Metadata.DurationMS) * time.Millisecond,
			SessionID:      qr.Metadata.SessionID,
			ProviderFields: providerFields,
		},
	}
}

func errorResponse(vendor string, err error, elapsed time.Duration) *AgentResponse {
	return &AgentResponse{
		Generations: []AgentGeneration{{
			Output: "",
			Metadata: GenerationMetadata{
				FinishReason: FinishReasonError,
				Extras:       map[string]any{"error": err.Error()},
			},
		}},
		Metadata: ResponseMetadata{
			Model:    vendor,
			Duration: elapsed,
		},
	}
}

func finishReasonFromStatus(status transport.Status) FinishReason {
	switch status {
	case transport.StatusSuccess:
		return FinishReasonSuccess
	case transport.StatusPartial:
		return FinishReasonPartial
	case transport.StatusTimeout:
		return FinishReasonTimeout
	case transport.StatusCancelled:
		return FinishReasonCancelled
	default:
		return FinishReasonError
	}
}
