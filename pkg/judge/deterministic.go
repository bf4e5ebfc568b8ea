package judge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// deterministicJudge wraps a pure predicate over the judgment context.
// Deterministic judges are idempotent and side-effect free.
type deterministicJudge struct {
	metadata Metadata
	evaluate func(jctx Context) Judgment
}

func (j *deterministicJudge) Judge(_ context.Context, jctx Context) Judgment {
	return j.evaluate(jctx)
}

func (j *deterministicJudge) Metadata() Metadata { return j.metadata }

// NewDeterministicJudge builds a judge from a pure evaluation function.
func NewDeterministicJudge(name, description string, evaluate func(jctx Context) Judgment) (Judge, error) {
	if name == "" {
		return nil, fmt.Errorf("deterministic judge requires a name")
	}
	if evaluate == nil {
		return nil, fmt.Errorf("deterministic judge requires an evaluation function")
	}
	return &deterministicJudge{
		metadata: Metadata{Name: name, Description: description, Type: TypeDeterministic},
		evaluate: evaluate,
	}, nil
}

// NewFileExistsJudge passes when relPath exists inside the workspace.
func NewFileExistsJudge(relPath string) (Judge, error) {
	if relPath == "" {
		return nil, fmt.Errorf("file-exists judge requires a path")
	}
	name := fmt.Sprintf("file-exists:%s", relPath)
	return NewDeterministicJudge(name, fmt.Sprintf("checks that %s exists in the workspace", relPath),
		func(jctx Context) Judgment {
			target := filepath.Join(jctx.Workspace, relPath)
			info, err := os.Stat(target)
			check := Check{Name: "file_exists", Message: target}
			if err != nil || info.IsDir() {
				return fail(BooleanScore{false},
					fmt.Sprintf("file %s does not exist", relPath), check)
			}
			check.Passed = true
			return pass(BooleanScore{true},
				fmt.Sprintf("file %s exists (%d bytes)", relPath, info.Size()), check)
		})
}

// NewFileContainsJudge passes when relPath exists and contains substring.
func NewFileContainsJudge(relPath, substring string) (Judge, error) {
	if relPath == "" || substring == "" {
		return nil, fmt.Errorf("file-contains judge requires a path and a substring")
	}
	name := fmt.Sprintf("file-contains:%s", relPath)
	return NewDeterministicJudge(name, fmt.Sprintf("checks that %s contains %q", relPath, substring),
		func(jctx Context) Judgment {
			target := filepath.Join(jctx.Workspace, relPath)
			data, err := os.ReadFile(target)
			if err != nil {
				return fail(BooleanScore{false},
					fmt.Sprintf("cannot read %s: %v", relPath, err),
					Check{Name: "file_readable", Message: target})
			}
			if !strings.Contains(string(data), substring) {
				return fail(BooleanScore{false},
					fmt.Sprintf("file %s does not contain %q", relPath, substring),
					Check{Name: "file_readable", Passed: true, Message: target},
					Check{Name: "content_match"})
			}
			return pass(BooleanScore{true},
				fmt.Sprintf("file %s contains %q", relPath, substring),
				Check{Name: "file_readable", Passed: true, Message: target},
				Check{Name: "content_match", Passed: true})
		})
}

// NewOutputContainsJudge passes when the agent output contains substring.
func NewOutputContainsJudge(substring string) (Judge, error) {
	if substring == "" {
		return nil, fmt.Errorf("output-contains judge requires a substring")
	}
	name := fmt.Sprintf("output-contains:%s", substring)
	return NewDeterministicJudge(name, fmt.Sprintf("checks that agent output contains %q", substring),
		func(jctx Context) Judgment {
			if strings.Contains(jctx.AgentOutput, substring) {
				return pass(BooleanScore{true},
					fmt.Sprintf("agent output contains %q", substring),
					Check{Name: "output_match", Passed: true})
			}
			return fail(BooleanScore{false},
				fmt.Sprintf("agent output does not contain %q", substring),
				Check{Name: "output_match"})
		})
}

// NewExecutionSuccessJudge passes when the agent call itself succeeded.
func NewExecutionSuccessJudge() Judge {
	j, _ := NewDeterministicJudge("execution-success", "checks that the agent call completed successfully",
		func(jctx Context) Judgment {
			if jctx.Status == ContextStatusSuccess {
				return pass(BooleanScore{true}, "agent execution succeeded",
					Check{Name: "execution_status", Passed: true, Message: string(jctx.Status)})
			}
			return fail(BooleanScore{false},
				fmt.Sprintf("agent execution status is %s", jctx.Status),
				Check{Name: "execution_status", Message: string(jctx.Status)})
		})
	return j
}
