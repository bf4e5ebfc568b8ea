package advisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/verdict/pkg/judge"
	"github.com/codeready-toolchain/verdict/pkg/jury"
)

// JudgeAdvisor runs a single judge against the completed call and attaches
// the judgment to the response context.
type JudgeAdvisor struct {
	judge judge.Judge
	order int
}

// NewJudgeAdvisor wraps a judge as a post-processing advisor.
func NewJudgeAdvisor(j judge.Judge) (*JudgeAdvisor, error) {
	if j == nil {
		return nil, fmt.Errorf("judge advisor requires a judge")
	}
	return &JudgeAdvisor{judge: j, order: DefaultAgentPrecedenceOrder + 100}, nil
}

// WithOrder overrides the advisor order.
func (a *JudgeAdvisor) WithOrder(order int) *JudgeAdvisor {
	a.order = order
	return a
}

func (a *JudgeAdvisor) Name() string { return "judge:" + a.judge.Metadata().Name }
func (a *JudgeAdvisor) Order() int   { return a.order }

// AdviseCall lets the inner chain complete, then judges the outcome.
func (a *JudgeAdvisor) AdviseCall(ctx context.Context, req *CallRequest, chain *CallChain) (*CallResponse, error) {
	startedAt := time.Now()
	resp, err := chain.NextCall(ctx, req)
	if err != nil {
		return resp, err
	}

	judgment := judge.Timed(ctx, a.judge, buildJudgeContext(req, resp, startedAt))

	resp.Context[ContextKeyJudgment] = judgment
	resp.Context[ContextKeyJudgmentPass] = judgment.Pass()
	if judgment.Score != nil {
		resp.Context[ContextKeyJudgmentScore] = judgment.Score.Normalized()
	}

	slog.Debug("Judge advisor attached judgment",
		"judge", a.judge.Metadata().Name,
		"status", judgment.Status,
		"elapsed", judgment.Elapsed())
	return resp, nil
}

// JuryAdvisor runs a jury against the completed call and attaches the
// verdict to the response context.
type JuryAdvisor struct {
	jury  *jury.Jury
	order int
}

// NewJuryAdvisor wraps a jury as a post-processing advisor.
func NewJuryAdvisor(j *jury.Jury) (*JuryAdvisor, error) {
	if j == nil {
		return nil, fmt.Errorf("jury advisor requires a jury")
	}
	return &JuryAdvisor{jury: j, order: DefaultAgentPrecedenceOrder + 100}, nil
}

// WithOrder overrides the advisor order.
func (a *JuryAdvisor) WithOrder(order int) *JuryAdvisor {
	a.order = order
	return a
}

func (a *JuryAdvisor) Name() string { return "jury" }
func (a *JuryAdvisor) Order() int   { return a.order }

// AdviseCall lets the inner chain complete, then takes the vote.
func (a *JuryAdvisor) AdviseCall(ctx context.Context, req *CallRequest, chain *CallChain) (*CallResponse, error) {
	startedAt := time.Now()
	resp, err := chain.NextCall(ctx, req)
	if err != nil {
		return resp, err
	}

	verdict, voteErr := a.jury.Vote(ctx, buildJudgeContext(req, resp, startedAt))
	if voteErr != nil {
		// A jury that cannot vote is recorded, not fatal to the call.
		slog.Warn("Jury vote failed", "error", voteErr)
		resp.Context[ContextKeyVerdictStatus] = string(judge.StatusError)
		return resp, nil
	}

	resp.Context[ContextKeyVerdict] = verdict
	resp.Context[ContextKeyVerdictAggregated] = verdict.Aggregated
	resp.Context[ContextKeyVerdictPass] = verdict.Pass()
	resp.Context[ContextKeyVerdictStatus] = string(verdict.Aggregated.Status)
	return resp, nil
}
