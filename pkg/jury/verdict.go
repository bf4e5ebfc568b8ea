// Package jury runs an ensemble of judges against one judgment context and
// aggregates their judgments into a single verdict via a voting strategy.
package jury

import (
	"fmt"

	"github.com/codeready-toolchain/verdict/pkg/judge"
)

// Verdict is the aggregated outcome of a jury vote: one combined judgment
// plus every individual judgment, indexed by judge name in insertion order.
type Verdict struct {
	Aggregated   judge.Judgment
	Individual   []judge.Judgment
	Weights      map[string]float64
	StrategyName string

	names  []string
	byName map[string]judge.Judgment
}

// newVerdict builds a verdict. Judgments and names are index-aligned; an
// empty jury cannot produce a verdict.
func newVerdict(aggregated judge.Judgment, names []string, judgments []judge.Judgment, weights map[string]float64, strategy string) (*Verdict, error) {
	if len(judgments) == 0 {
		return nil, fmt.Errorf("a verdict requires at least one individual judgment")
	}
	if len(names) != len(judgments) {
		return nil, fmt.Errorf("names and judgments are misaligned: %d vs %d", len(names), len(judgments))
	}

	byName := make(map[string]judge.Judgment, len(judgments))
	for i, name := range names {
		byName[name] = judgments[i]
	}

	return &Verdict{
		Aggregated:   aggregated,
		Individual:   judgments,
		Weights:      weights,
		StrategyName: strategy,
		names:        names,
		byName:       byName,
	}, nil
}

// Pass reports whether the aggregated judgment passed.
func (v *Verdict) Pass() bool { return v.Aggregated.Pass() }

// Names returns the judge names in insertion order.
func (v *Verdict) Names() []string {
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

// ByName returns the judgment of a named judge.
func (v *Verdict) ByName(name string) (judge.Judgment, bool) {
	judgment, ok := v.byName[name]
	return judgment, ok
}
