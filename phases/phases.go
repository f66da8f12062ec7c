// Package phases provides the six phase nodes of the diagnostic reasoning
// pipeline. Each node reads the fields its phase needs from the state
// snapshot, calls the injected Executor with its phase tag, validates the
// structured result against the phase's invariants, and returns a patch
// with only the fields the phase owns.
package phases

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/epistlab/epist"
)

// options holds configuration shared by the phase constructors.
type options struct {
	rng *rand.Rand
}

// Option configures a phase node.
type Option func(*options)

// WithRand injects the random source used by the focused abduction
// downsampling step. Injecting a seeded source makes the one documented
// point of run-to-run non-determinism reproducible in tests.
func WithRand(rng *rand.Rand) Option {
	return func(o *options) {
		o.rng = rng
	}
}

func newOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// Abstraction returns the entry node. It extracts the structured feature
// list from the case text. A nil executor result is legitimate: it leaves
// the abstraction field absent, which routes the run to Terminal.
func Abstraction(exec epist.Executor) epist.Node {
	return epist.NodeFunc(string(epist.PhaseAbstraction), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		res, err := exec.Execute(ctx, epist.PhaseAbstraction, snap)
		if err != nil {
			return epist.Patch{}, err
		}
		if res == nil {
			return epist.Patch{}, nil
		}
		abs, ok := res.(*epist.Abstraction)
		if !ok || abs == nil {
			return epist.Patch{}, fmt.Errorf("%w: abstraction expected *epist.Abstraction, got %T", epist.ErrInvalidResponse, res)
		}
		return epist.Patch{Abstraction: abs}, nil
	})
}

// AbductionUnfocused generates up to TopK broad hypothesis families from
// the abstracted features.
func AbductionUnfocused(exec epist.Executor) epist.Node {
	return epist.NodeFunc(string(epist.PhaseAbductionUnfocused), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		set, err := executeHypotheses(ctx, exec, epist.PhaseAbductionUnfocused, snap)
		if err != nil {
			return epist.Patch{}, err
		}
		return epist.Patch{UnfocusedHypotheses: set}, nil
	})
}

// AbductionFocused refines the unfocused families into specific
// hypotheses. If the executor returns more than TopK items the node
// downsamples to exactly TopK by uniform random sampling without
// replacement; truncation would bias the set toward the executor's output
// order.
func AbductionFocused(exec epist.Executor, opts ...Option) epist.Node {
	o := newOptions(opts)
	return epist.NodeFunc(string(epist.PhaseAbductionFocused), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		set, err := executeHypotheses(ctx, exec, epist.PhaseAbductionFocused, snap)
		if err != nil {
			return epist.Patch{}, err
		}
		if len(set.Hypotheses) > snap.TopK {
			set = downsample(set, snap.TopK, o.rng)
		}
		if len(set.Hypotheses) > snap.TopK {
			return epist.Patch{}, fmt.Errorf("%w: focused abduction produced %d hypotheses, cap %d", epist.ErrCardinalityViolation, len(set.Hypotheses), snap.TopK)
		}
		return epist.Patch{FocusedHypotheses: set}, nil
	})
}

// Ranking is invoked twice per run and behaves differently each time,
// distinguished solely by whether induction output is present and the
// rerank flag is still clear.
//
// First pass (no induction yet): ranks the focused hypotheses and leaves
// the rerank flag clear. Second pass (induction present, flag clear):
// re-ranks the induction-evaluated hypotheses and sets the flag, which
// forces the router to Terminal on its next evaluation. Entering with the
// flag already set is unreachable under the fixed topology and fails
// fast instead of silently ranking a third time.
//
// The returned ranking is sorted ascending by rank regardless of the
// order the executor produced, and its diagnoses must be exactly the
// input hypothesis set.
func Ranking(exec epist.Executor) epist.Node {
	return epist.NodeFunc(string(epist.PhaseRanking), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		if snap.Reranked {
			return epist.Patch{}, fmt.Errorf("%w: ranking entered with rerank flag already set", epist.ErrStateConflict)
		}

		rerank := snap.Induction != nil
		var source []string
		switch {
		case rerank:
			source = snap.Induction.Diagnoses()
		case snap.FocusedHypotheses != nil:
			source = snap.FocusedHypotheses.Diagnoses()
		default:
			return epist.Patch{}, fmt.Errorf("%w: ranking requires focused hypotheses or induction output", epist.ErrStateConflict)
		}

		res, err := exec.Execute(ctx, epist.PhaseRanking, snap)
		if err != nil {
			return epist.Patch{}, err
		}
		ranking, ok := res.(*epist.Ranking)
		if !ok || ranking == nil {
			return epist.Patch{}, fmt.Errorf("%w: ranking expected *epist.Ranking, got %T", epist.ErrInvalidResponse, res)
		}
		if err := ranking.Validate(len(source)); err != nil {
			return epist.Patch{}, err
		}
		if err := requireCoverage(epist.PhaseRanking, ranking.Diagnoses(), source); err != nil {
			return epist.Patch{}, err
		}
		ranking.Sort()

		return epist.Patch{Ranking: ranking, Reranked: epist.Bool(rerank)}, nil
	})
}

// Deduction predicts, for each ranked hypothesis, the consequences that
// should hold if it were true. It consumes exactly the hypothesis set of
// the latest ranking, in rank order.
func Deduction(exec epist.Executor) epist.Node {
	return epist.NodeFunc(string(epist.PhaseDeduction), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		if snap.Ranking == nil {
			return epist.Patch{}, fmt.Errorf("%w: deduction requires a ranking", epist.ErrStateConflict)
		}
		res, err := exec.Execute(ctx, epist.PhaseDeduction, snap)
		if err != nil {
			return epist.Patch{}, err
		}
		ded, ok := res.(*epist.Deduction)
		if !ok || ded == nil {
			return epist.Patch{}, fmt.Errorf("%w: deduction expected *epist.Deduction, got %T", epist.ErrInvalidResponse, res)
		}
		if err := requireCoverage(epist.PhaseDeduction, ded.Diagnoses(), snap.Ranking.Diagnoses()); err != nil {
			return epist.Patch{}, err
		}
		return epist.Patch{Deduction: ded}, nil
	})
}

// Induction tests each hypothesis by matching its predicted consequences
// against the observed case. It writes the full evaluation, the plausible
// subset, and increments the iteration counter; it is the only phase that
// touches the counter.
func Induction(exec epist.Executor) epist.Node {
	return epist.NodeFunc(string(epist.PhaseInduction), func(ctx context.Context, snap epist.State) (epist.Patch, error) {
		if snap.Deduction == nil {
			return epist.Patch{}, fmt.Errorf("%w: induction requires a deduction", epist.ErrStateConflict)
		}
		res, err := exec.Execute(ctx, epist.PhaseInduction, snap)
		if err != nil {
			return epist.Patch{}, err
		}
		ind, ok := res.(*epist.Induction)
		if !ok || ind == nil {
			return epist.Patch{}, fmt.Errorf("%w: induction expected *epist.Induction, got %T", epist.ErrInvalidResponse, res)
		}
		if err := requireCoverage(epist.PhaseInduction, ind.Diagnoses(), snap.Deduction.Diagnoses()); err != nil {
			return epist.Patch{}, err
		}
		return epist.Patch{
			Induction:          ind,
			InductionPlausible: ind.Plausible(),
			Iteration:          epist.Int(snap.Iteration + 1),
		}, nil
	})
}

// executeHypotheses runs an abduction phase and asserts the result shape.
func executeHypotheses(ctx context.Context, exec epist.Executor, phase epist.Phase, snap epist.State) (*epist.HypothesisSet, error) {
	res, err := exec.Execute(ctx, phase, snap)
	if err != nil {
		return nil, err
	}
	set, ok := res.(*epist.HypothesisSet)
	if !ok || set == nil {
		return nil, fmt.Errorf("%w: %s expected *epist.HypothesisSet, got %T", epist.ErrInvalidResponse, phase, res)
	}
	return set, nil
}

// downsample picks k hypotheses uniformly without replacement.
func downsample(set *epist.HypothesisSet, k int, rng *rand.Rand) *epist.HypothesisSet {
	out := &epist.HypothesisSet{Hypotheses: make([]epist.Hypothesis, 0, k)}
	for _, i := range rng.Perm(len(set.Hypotheses))[:k] {
		out.Hypotheses = append(out.Hypotheses, set.Hypotheses[i])
	}
	return out
}
