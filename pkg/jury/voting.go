package jury

import (
	"fmt"
	"math"

	"github.com/codeready-toolchain/verdict/pkg/judge"
)

// VotingStrategy aggregates index-aligned judgments and weights into one
// judgment.
type VotingStrategy interface {
	Name() string
	Aggregate(judgments []judge.Judgment, weights []float64) (judge.Judgment, error)
}

// concatChecks collects every individual judgment's checks.
func concatChecks(judgments []judge.Judgment) []judge.Check {
	var checks []judge.Check
	for _, judgment := range judgments {
		checks = append(checks, judgment.Checks...)
	}
	return checks
}

// countByStatus tallies judgment statuses.
func countByStatus(judgments []judge.Judgment) map[judge.Status]int {
	counts := make(map[judge.Status]int)
	for _, judgment := range judgments {
		counts[judgment.Status]++
	}
	return counts
}

// MajorityStrategy passes when a strict majority of non-abstaining judges
// pass. The aggregated score is the passing fraction.
type MajorityStrategy struct{}

func (MajorityStrategy) Name() string { return "majority" }

func (MajorityStrategy) Aggregate(judgments []judge.Judgment, _ []float64) (judge.Judgment, error) {
	if len(judgments) == 0 {
		return judge.Judgment{}, fmt.Errorf("majority vote requires at least one judgment")
	}

	counts := countByStatus(judgments)
	voting := len(judgments) - counts[judge.StatusAbstain]
	passed := counts[judge.StatusPass]

	reasoning := fmt.Sprintf("majority vote: %d/%d passed (%d abstained, %d errored)",
		passed, voting, counts[judge.StatusAbstain], counts[judge.StatusError])

	if voting == 0 {
		// Nobody voted; the jury as a whole abstains.
		return judge.Judgment{
			Score:     judge.BooleanScore{Value: false},
			Status:    judge.StatusAbstain,
			Reasoning: reasoning,
			Checks:    concatChecks(judgments),
			Metadata:  map[string]any{},
		}, nil
	}

	status := judge.StatusFail
	if passed*2 > voting {
		status = judge.StatusPass
	}
	return judge.Judgment{
		Score:     judge.NumericalScore{Value: float64(passed) / float64(voting), Min: 0, Max: 1},
		Status:    status,
		Reasoning: reasoning,
		Checks:    concatChecks(judgments),
		Metadata:  map[string]any{},
	}, nil
}

// WeightedAverageStrategy projects every score to [0,1] and averages with
// weights. Passes at 0.5 or above. All-zero weights yield NaN and FAIL.
type WeightedAverageStrategy struct{}

func (WeightedAverageStrategy) Name() string { return "weighted-average" }

func (WeightedAverageStrategy) Aggregate(judgments []judge.Judgment, weights []float64) (judge.Judgment, error) {
	if len(judgments) == 0 {
		return judge.Judgment{}, fmt.Errorf("weighted average requires at least one judgment")
	}
	if weights != nil && len(weights) != len(judgments) {
		return judge.Judgment{}, fmt.Errorf("weights and judgments are misaligned: %d vs %d", len(weights), len(judgments))
	}

	var weightedSum, weightSum float64
	for i, judgment := range judgments {
		weight := 1.0
		if weights != nil {
			weight = weights[i]
		}
		if weight < 0 {
			return judge.Judgment{}, fmt.Errorf("negative weight %v at index %d", weight, i)
		}
		score := 0.0
		if judgment.Score != nil {
			score = judgment.Score.Normalized()
		}
		weightedSum += weight * score
		weightSum += weight
	}

	// All-zero weights divide to NaN, which is preserved; NaN comparisons
	// are false, so the status is FAIL.
	aggregate := weightedSum / weightSum

	status := judge.StatusFail
	if aggregate >= 0.5 {
		status = judge.StatusPass
	}

	counts := countByStatus(judgments)
	reasoning := fmt.Sprintf("weighted average %.3f over %d judgments (%d passed, %d failed)",
		aggregate, len(judgments), counts[judge.StatusPass], counts[judge.StatusFail])
	if math.IsNaN(aggregate) {
		reasoning = fmt.Sprintf("weighted average undefined (zero total weight) over %d judgments", len(judgments))
	}

	return judge.Judgment{
		Score:     judge.NumericalScore{Value: aggregate, Min: 0, Max: 1},
		Status:    status,
		Reasoning: reasoning,
		Checks:    concatChecks(judgments),
		Metadata:  map[string]any{},
	}, nil
}

// ConsensusStrategy passes only when every non-abstaining judge passes. The
// aggregated score is the minimum normalized score.
type ConsensusStrategy struct{}

func (ConsensusStrategy) Name() string { return "consensus" }

func (ConsensusStrategy) Aggregate(judgments []judge.Judgment, _ []float64) (judge.Judgment, error) {
	if len(judgments) == 0 {
		return judge.Judgment{}, fmt.Errorf("consensus requires at least one judgment")
	}

	counts := countByStatus(judgments)
	voting := len(judgments) - counts[judge.StatusAbstain]

	if voting == 0 {
		return judge.Judgment{
			Score:     judge.BooleanScore{Value: false},
			Status:    judge.StatusAbstain,
			Reasoning: "consensus: every judge abstained",
			Checks:    concatChecks(judgments),
			Metadata:  map[string]any{},
		}, nil
	}

	minScore := math.Inf(1)
	unanimous := true
	for _, judgment := range judgments {
		if judgment.Status == judge.StatusAbstain {
			continue
		}
		if judgment.Status != judge.StatusPass {
			unanimous = false
		}
		score := 0.0
		if judgment.Score != nil {
			score = judgment.Score.Normalized()
		}
		minScore = math.Min(minScore, score)
	}

	status := judge.StatusFail
	if unanimous {
		status = judge.StatusPass
	}
	return judge.Judgment{
		Score:  judge.NumericalScore{Value: minScore, Min: 0, Max: 1},
		Status: status,
		Reasoning: fmt.Sprintf("consensus: %d/%d non-abstaining judges passed, minimum score %.3f",
			counts[judge.StatusPass], voting, minScore),
		Checks:   concatChecks(judgments),
		Metadata: map[string]any{},
	}, nil
}
