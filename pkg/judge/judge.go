// Package judge defines the evaluation contract: a Judge turns a
// JudgmentContext (goal, workspace, agent output) into a Judgment
// (pass/fail, score, reasoning, checks). Concrete kinds are deterministic
// predicates, LLM-backed evaluation, and delegation to another agent.
package judge

import (
	"context"
	"time"
)

// Status of a judgment.
type Status string

const (
	StatusPass    Status = "PASS"
	StatusFail    Status = "FAIL"
	StatusAbstain Status = "ABSTAIN"
	StatusError   Status = "ERROR"
)

// Type classifies a judge implementation.
type Type string

const (
	TypeDeterministic Type = "DETERMINISTIC"
	TypeLLMPowered    Type = "LLM_POWERED"
	TypeAgent         Type = "AGENT"
	TypeHeuristic     Type = "HEURISTIC"
)

// Metadata describes a judge.
type Metadata struct {
	Name        string
	Description string
	Type        Type
}

// Check is one named verification inside a judgment.
type Check struct {
	Name    string
	Passed  bool
	Message string
}

// MetadataKeyElapsed holds the judge's wall-clock duration in a judgment's
// metadata map.
const MetadataKeyElapsed = "elapsed"

// Judgment is the outcome of one evaluation.
type Judgment struct {
	Score     Score
	Status    Status
	Reasoning string
	Checks    []Check
	Metadata  map[string]any
	Err       error
}

// Pass reports whether the judgment passed.
func (j Judgment) Pass() bool { return j.Status == StatusPass }

// Elapsed returns the recorded wall-clock duration, zero when absent.
func (j Judgment) Elapsed() time.Duration {
	if j.Metadata == nil {
		return 0
	}
	if elapsed, ok := j.Metadata[MetadataKeyElapsed].(time.Duration); ok {
		return elapsed
	}
	return 0
}

// ContextStatus is the coarse outcome of the agent execution under judgment.
type ContextStatus string

const (
	ContextStatusSuccess ContextStatus = "SUCCESS"
	ContextStatusFailed  ContextStatus = "FAILED"
)

// Context is everything a judge may inspect.
type Context struct {
	// Goal the agent was asked to achieve.
	Goal string
	// Workspace the agent operated on.
	Workspace string
	// AgentOutput is the agent's textual answer, when available.
	AgentOutput string
	// ExecutionTime of the agent call.
	ExecutionTime time.Duration
	// StartedAt is when the agent call began.
	StartedAt time.Time
	// Status is the coarse call outcome.
	Status ContextStatus
}

// Judge evaluates a context into a judgment. Implementations must not panic
// or return through other channels for expected failure conditions; an
// unrecoverable internal error is reported as a Judgment with StatusError.
type Judge interface {
	Judge(ctx context.Context, jctx Context) Judgment
	Metadata() Metadata
}

// pass builds a passing judgment.
func pass(score Score, reasoning string, checks ...Check) Judgment {
	return Judgment{Score: score, Status: StatusPass, Reasoning: reasoning, Checks: checks, Metadata: map[string]any{}}
}

// fail builds a failing judgment.
func fail(score Score, reasoning string, checks ...Check) Judgment {
	return Judgment{Score: score, Status: StatusFail, Reasoning: reasoning, Checks: checks, Metadata: map[string]any{}}
}

// Errorf builds an ERROR judgment from an unrecoverable failure.
func Errorf(err error, reasoning string) Judgment {
	return Judgment{
		Score:     BooleanScore{Value: false},
		Status:    StatusError,
		Reasoning: reasoning,
		Metadata:  map[string]any{},
		Err:       err,
	}
}

// Timed runs a judge and stamps the elapsed wall-clock duration into the
// judgment metadata.
func Timed(ctx context.Context, j Judge, jctx Context) Judgment {
	start := time.Now()
	judgment := j.Judge(ctx, jctx)
	if judgment.Metadata == nil {
		judgment.Metadata = map[string]any{}
	}
	judgment.Metadata[MetadataKeyElapsed] = time.Since(start)
	return judgment
}
