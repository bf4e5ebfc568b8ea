package jury

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/verdict/pkg/judge"
)

// stubJudge returns a fixed judgment.
type stubJudge struct {
	name     string
	judgment judge.Judgment
	delay    time.Duration
	calls    atomic.Int32
}

func (s *stubJudge) Judge(ctx context.Context, _ judge.Context) judge.Judgment {
	s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return judge.Errorf(ctx.Err(), "cancelled")
		}
	}
	return s.judgment
}

func (s *stubJudge) Metadata() judge.Metadata {
	return judge.Metadata{Name: s.name, Type: judge.TypeDeterministic}
}

// panicJudge always panics.
type panicJudge struct{}

func (panicJudge) Judge(context.Context, judge.Context) judge.Judgment { panic("kaboom") }
func (panicJudge) Metadata() judge.Metadata {
	return judge.Metadata{Name: "panicky", Type: judge.TypeHeuristic}
}

func passing(name string) *stubJudge {
	return &stubJudge{name: name, judgment: judge.Judgment{
		Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass, Reasoning: "ok",
		Checks: []judge.Check{{Name: name + "_check", Passed: true}},
	}}
}

func failing(name string) *stubJudge {
	return &stubJudge{name: name, judgment: judge.Judgment{
		Score: judge.BooleanScore{Value: false}, Status: judge.StatusFail, Reasoning: "no",
		Checks: []judge.Check{{Name: name + "_check"}},
	}}
}

func scored(name string, value float64) *stubJudge {
	return &stubJudge{name: name, judgment: judge.Judgment{
		Score:  judge.NumericalScore{Value: value, Min: 0, Max: 1},
		Status: judge.StatusPass,
	}}
}

func abstaining(name string) *stubJudge {
	return &stubJudge{name: name, judgment: judge.Judgment{
		Score: judge.BooleanScore{Value: false}, Status: judge.StatusAbstain,
	}}
}

func members(judges ...judge.Judge) []Member {
	out := make([]Member, len(judges))
	for i, j := range judges {
		out[i] = Member{Judge: j, Weight: 1}
	}
	return out
}

func TestJury_MajorityVote(t *testing.T) {
	// Scenario S3: pass, fail, pass → PASS with score 2/3.
	j, err := New(Config{
		Members:  members(passing("A"), failing("B"), passing("C")),
		Strategy: MajorityStrategy{},
	})
	require.NoError(t, err)

	verdict, err := j.Vote(context.Background(), judge.Context{Goal: "g"})
	require.NoError(t, err)

	assert.True(t, verdict.Pass())
	assert.InDelta(t, 2.0/3.0, verdict.Aggregated.Score.Normalized(), 1e-9)
	assert.Equal(t, []string{"A", "B", "C"}, verdict.Names())
	assert.Equal(t, "majority", verdict.StrategyName)

	judgmentB, ok := verdict.ByName("B")
	require.True(t, ok)
	assert.Equal(t, judge.StatusFail, judgmentB.Status)

	// Checks are concatenated from individuals.
	assert.Len(t, verdict.Aggregated.Checks, 3)
}

func TestJury_ParallelPreservesInsertionOrder(t *testing.T) {
	// The first judge is slowest; order must still be A, B, C.
	slow := passing("A")
	slow.delay = 100 * time.Millisecond
	j, err := New(Config{
		Members:  members(slow, failing("B"), passing("C")),
		Parallel: true,
		PoolSize: 3,
	})
	require.NoError(t, err)

	verdict, err := j.Vote(context.Background(), judge.Context{})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, verdict.Names())
	assert.Equal(t, judge.StatusPass, verdict.Individual[0].Status)
	assert.Equal(t, judge.StatusFail, verdict.Individual[1].Status)
}

func TestJury_ParallelRunsAllJudges(t *testing.T) {
	judges := []judge.Judge{passing("A"), passing("B"), passing("C"), passing("D")}
	j, err := New(Config{Members: members(judges...), Parallel: true, PoolSize: 2})
	require.NoError(t, err)

	_, err = j.Vote(context.Background(), judge.Context{})
	require.NoError(t, err)
	for _, stub := range judges {
		assert.Equal(t, int32(1), stub.(*stubJudge).calls.Load())
	}
}

func TestJury_PanickingJudgeYieldsErrorJudgment(t *testing.T) {
	j, err := New(Config{Members: members(passing("A"), panicJudge{}, passing("C"))})
	require.NoError(t, err)

	verdict, err := j.Vote(context.Background(), judge.Context{})
	require.NoError(t, err, "a panicking judge must not abort the jury")

	judgment, ok := verdict.ByName("panicky")
	require.True(t, ok)
	assert.Equal(t, judge.StatusError, judgment.Status)
	assert.NotNil(t, judgment.Err)
}

func TestJury_JudgeTimeout(t *testing.T) {
	slow := passing("slow")
	slow.delay = 5 * time.Second
	j, err := New(Config{
		Members:      members(slow, passing("fast")),
		JudgeTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	verdict, err := j.Vote(context.Background(), judge.Context{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)

	judgment, ok := verdict.ByName("slow")
	require.True(t, ok)
	assert.Equal(t, judge.StatusError, judgment.Status)
}

func TestJury_DuplicateAndMissingNames(t *testing.T) {
	j, err := New(Config{Members: members(passing("same"), passing("same"), passing(""))})
	require.NoError(t, err)

	verdict, err := j.Vote(context.Background(), judge.Context{})
	require.NoError(t, err)
	assert.Equal(t, []string{"same", "Judge#1", "Judge#2"}, verdict.Names())
}

func TestJury_ElapsedRecorded(t *testing.T) {
	j, err := New(Config{Members: members(passing("A"))})
	require.NoError(t, err)

	verdict, err := j.Vote(context.Background(), judge.Context{})
	require.NoError(t, err)
	judgment, _ := verdict.ByName("A")
	assert.Contains(t, judgment.Metadata, judge.MetadataKeyElapsed)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Members: []Member{{Judge: nil}}})
	assert.Error(t, err)
	_, err = New(Config{Members: []Member{{Judge: passing("A"), Weight: -1}}})
	assert.Error(t, err)
}

func TestMajorityStrategy_Boundaries(t *testing.T) {
	aggregate := func(judgments ...judge.Judgment) judge.Judgment {
		agg, err := MajorityStrategy{}.Aggregate(judgments, nil)
		require.NoError(t, err)
		return agg
	}

	passJ := judge.Judgment{Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass}
	failJ := judge.Judgment{Score: judge.BooleanScore{Value: false}, Status: judge.StatusFail}
	abstainJ := judge.Judgment{Score: judge.BooleanScore{Value: false}, Status: judge.StatusAbstain}

	// Exactly half is not a strict majority.
	assert.Equal(t, judge.StatusFail, aggregate(passJ, failJ).Status)
	// Abstentions shrink the electorate.
	assert.Equal(t, judge.StatusPass, aggregate(passJ, abstainJ).Status)
	// All abstain: the jury abstains.
	assert.Equal(t, judge.StatusAbstain, aggregate(abstainJ, abstainJ).Status)

	_, err := MajorityStrategy{}.Aggregate(nil, nil)
	assert.Error(t, err)
}

func TestWeightedAverageStrategy(t *testing.T) {
	// Scenario S4: 0.8 at weight 0.2 and 0.2 at weight 0.8 → 0.32, FAIL.
	judgments := []judge.Judgment{
		{Score: judge.NumericalScore{Value: 0.8, Min: 0, Max: 1}, Status: judge.StatusPass},
		{Score: judge.NumericalScore{Value: 0.2, Min: 0, Max: 1}, Status: judge.StatusFail},
	}

	agg, err := WeightedAverageStrategy{}.Aggregate(judgments, []float64{0.2, 0.8})
	require.NoError(t, err)
	assert.InDelta(t, 0.32, agg.Score.Normalized(), 1e-9)
	assert.Equal(t, judge.StatusFail, agg.Status)
}

func TestWeightedAverageStrategy_EqualWeightsIsMean(t *testing.T) {
	judgments := []judge.Judgment{
		{Score: judge.NumericalScore{Value: 0.9, Min: 0, Max: 1}, Status: judge.StatusPass},
		{Score: judge.NumericalScore{Value: 0.5, Min: 0, Max: 1}, Status: judge.StatusPass},
		{Score: judge.NumericalScore{Value: 0.1, Min: 0, Max: 1}, Status: judge.StatusFail},
	}

	// Nil weights and explicit equal weights both equal the arithmetic mean.
	aggNil, err := WeightedAverageStrategy{}.Aggregate(judgments, nil)
	require.NoError(t, err)
	aggEqual, err := WeightedAverageStrategy{}.Aggregate(judgments, []float64{1, 1, 1})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, aggNil.Score.Normalized(), 1e-9)
	assert.InDelta(t, aggNil.Score.Normalized(), aggEqual.Score.Normalized(), 1e-9)
	assert.Equal(t, judge.StatusPass, aggNil.Status, "0.5 passes inclusively")
}

func TestWeightedAverageStrategy_AllZeroWeightsIsNaNFail(t *testing.T) {
	judgments := []judge.Judgment{
		{Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass},
		{Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass},
	}

	agg, err := WeightedAverageStrategy{}.Aggregate(judgments, []float64{0, 0})
	require.NoError(t, err)
	assert.True(t, math.IsNaN(agg.Score.Normalized()), "NaN is preserved, not rounded")
	assert.Equal(t, judge.StatusFail, agg.Status)
}

func TestWeightedAverageStrategy_HeterogeneousScores(t *testing.T) {
	judgments := []judge.Judgment{
		{Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass},
		{Score: judge.NumericalScore{Value: 50, Min: 0, Max: 100}, Status: judge.StatusPass},
		{Score: judge.CategoricalScore{Value: "ok", Allowed: []string{"ok"}, Lookup: map[string]float64{"ok": 0.5}}, Status: judge.StatusPass},
	}

	agg, err := WeightedAverageStrategy{}.Aggregate(judgments, nil)
	require.NoError(t, err)
	assert.InDelta(t, (1.0+0.5+0.5)/3, agg.Score.Normalized(), 1e-9)
}

func TestWeightedAverageStrategy_Errors(t *testing.T) {
	_, err := WeightedAverageStrategy{}.Aggregate(nil, nil)
	assert.Error(t, err)

	judgments := []judge.Judgment{{Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass}}
	_, err = WeightedAverageStrategy{}.Aggregate(judgments, []float64{1, 2})
	assert.Error(t, err)
	_, err = WeightedAverageStrategy{}.Aggregate(judgments, []float64{-1})
	assert.Error(t, err)
}

func TestConsensusStrategy(t *testing.T) {
	passHigh := judge.Judgment{Score: judge.NumericalScore{Value: 0.9, Min: 0, Max: 1}, Status: judge.StatusPass}
	passLow := judge.Judgment{Score: judge.NumericalScore{Value: 0.6, Min: 0, Max: 1}, Status: judge.StatusPass}
	failJ := judge.Judgment{Score: judge.NumericalScore{Value: 0.4, Min: 0, Max: 1}, Status: judge.StatusFail}
	abstainJ := judge.Judgment{Score: judge.BooleanScore{Value: false}, Status: judge.StatusAbstain}

	agg, err := ConsensusStrategy{}.Aggregate([]judge.Judgment{passHigh, passLow}, nil)
	require.NoError(t, err)
	assert.Equal(t, judge.StatusPass, agg.Status)
	assert.InDelta(t, 0.6, agg.Score.Normalized(), 1e-9, "score is the minimum")

	agg, err = ConsensusStrategy{}.Aggregate([]judge.Judgment{passHigh, failJ}, nil)
	require.NoError(t, err)
	assert.Equal(t, judge.StatusFail, agg.Status)

	// Abstentions do not break consensus.
	agg, err = ConsensusStrategy{}.Aggregate([]judge.Judgment{passHigh, abstainJ}, nil)
	require.NoError(t, err)
	assert.Equal(t, judge.StatusPass, agg.Status)

	agg, err = ConsensusStrategy{}.Aggregate([]judge.Judgment{abstainJ}, nil)
	require.NoError(t, err)
	assert.Equal(t, judge.StatusAbstain, agg.Status)
}

func TestVerdict_AggregatedScoreInRange(t *testing.T) {
	// Invariant: for every non-empty verdict the aggregated normalized
	// score is in [0,1] or NaN.
	strategies := []VotingStrategy{MajorityStrategy{}, WeightedAverageStrategy{}, ConsensusStrategy{}}
	judgmentSets := [][]judge.Judgment{
		{{Score: judge.BooleanScore{Value: true}, Status: judge.StatusPass}},
		{{Score: judge.BooleanScore{Value: false}, Status: judge.StatusFail},
			{Score: judge.NumericalScore{Value: 3, Min: 0, Max: 4}, Status: judge.StatusPass}},
		{{Score: judge.BooleanScore{Value: false}, Status: judge.StatusAbstain}},
	}

	for _, strategy := range strategies {
		for _, judgments := range judgmentSets {
			agg, err := strategy.Aggregate(judgments, nil)
			require.NoError(t, err)
			normalized := agg.Score.Normalized()
			inRange := normalized >= 0 && normalized <= 1
			assert.True(t, inRange || math.IsNaN(normalized),
				"strategy %s produced out-of-range score %v", strategy.Name(), normalized)
			assert.Contains(t, []judge.Status{judge.StatusPass, judge.StatusFail, judge.StatusAbstain, judge.StatusError}, agg.Status)
		}
	}
}
