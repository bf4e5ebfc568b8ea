package jury

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/codeready-toolchain/verdict/pkg/judge"
)

// Member pairs a judge with its voting weight.
type Member struct {
	Judge  judge.Judge
	Weight float64
}

// Config configures a jury.
type Config struct {
	// Members in voting order. Required, non-empty.
	Members []Member
	// Strategy aggregates the judgments. Defaults to MajorityStrategy.
	Strategy VotingStrategy
	// Parallel dispatches judges concurrently.
	Parallel bool
	// PoolSize bounds parallel execution. Defaults to NumCPU.
	PoolSize int
	// JudgeTimeout bounds a single judge run. Zero means no extra deadline.
	JudgeTimeout time.Duration
}

// Jury owns an ordered list of weighted judges and a voting strategy.
// Immutable after construction; safe for concurrent votes.
type Jury struct {
	members  []Member
	names    []string
	weights  map[string]float64
	strategy VotingStrategy
	parallel bool
	poolSize int
	timeout  time.Duration
}

// New validates the configuration and builds a jury. Judge names are
// canonicalized: the judge's metadata name when present and unique, a
// positional fallback otherwise.
func New(cfg Config) (*Jury, error) {
	if len(cfg.Members) == 0 {
		return nil, fmt.Errorf("a jury requires at least one judge")
	}
	for i, member := range cfg.Members {
		if member.Judge == nil {
			return nil, fmt.Errorf("jury member %d has no judge", i)
		}
		if member.Weight < 0 {
			return nil, fmt.Errorf("jury member %d has negative weight %v", i, member.Weight)
		}
	}

	strategy := cfg.Strategy
	if strategy == nil {
		strategy = MajorityStrategy{}
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}

	names := canonicalNames(cfg.Members)
	weights := make(map[string]float64, len(cfg.Members))
	for i, member := range cfg.Members {
		weights[names[i]] = member.Weight
	}

	return &Jury{
		members:  cfg.Members,
		names:    names,
		weights:  weights,
		strategy: strategy,
		parallel: cfg.Parallel,
		poolSize: poolSize,
		timeout:  cfg.JudgeTimeout,
	}, nil
}

// canonicalNames prefers metadata names, falling back to Judge#<index> for
// missing or duplicate names, preserving insertion order.
func canonicalNames(members []Member) []string {
	names := make([]string, len(members))
	seen := make(map[string]bool, len(members))
	for i, member := range members {
		name := member.Judge.Metadata().Name
		if name == "" || seen[name] {
			name = fmt.Sprintf("Judge#%d", i)
		}
		seen[name] = true
		names[i] = name
	}
	return names
}

// Vote runs every judge against the context and aggregates the judgments.
// A judge that fails or panics contributes an ERROR judgment; the jury
// always completes.
func (j *Jury) Vote(ctx context.Context, jctx judge.Context) (*Verdict, error) {
	start := time.Now()
	judgments := make([]judge.Judgment, len(j.members))

	if j.parallel {
		// Result slots are indexed by judge position, so insertion order is
		// preserved regardless of completion order.
		sem := make(chan struct{}, j.poolSize)
		var wg sync.WaitGroup
		for i := range j.members {
			wg.Add(1)
			go func(index int) {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				judgments[index] = j.runOne(ctx, index, jctx)
			}(i)
		}
		wg.Wait()
	} else {
		for i := range j.members {
			judgments[i] = j.runOne(ctx, i, jctx)
		}
	}

	// Weights aligned with judgment order for the strategy.
	weights := make([]float64, len(j.members))
	for i, name := range j.names {
		weights[i] = j.weights[name]
	}

	aggregated, err := j.strategy.Aggregate(judgments, weights)
	if err != nil {
		return nil, fmt.Errorf("voting strategy %s: %w", j.strategy.Name(), err)
	}

	verdict, err := newVerdict(aggregated, j.names, judgments, j.weights, j.strategy.Name())
	if err != nil {
		return nil, err
	}

	slog.Info("Jury vote complete",
		"strategy", j.strategy.Name(),
		"judges", len(j.members),
		"status", aggregated.Status,
		"duration", time.Since(start).Round(time.Millisecond))
	return verdict, nil
}

// runOne executes a single judge with panic recovery and the per-judge
// deadline.
func (j *Jury) runOne(ctx context.Context, index int, jctx judge.Context) (judgment judge.Judgment) {
	member := j.members[index]
	name := j.names[index]

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Judge panicked", "judge", name, "panic", r)
			judgment = judge.Errorf(fmt.Errorf("judge %s panicked: %v", name, r),
				fmt.Sprintf("judge %s panicked", name))
		}
	}()

	judgeCtx := ctx
	if j.timeout > 0 {
		var cancel context.CancelFunc
		judgeCtx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}

	return judge.Timed(judgeCtx, member.Judge, jctx)
}
