package pipeline_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/epistlab/epist"
	"github.com/epistlab/epist/pipeline"
	"github.com/epistlab/epist/trace"
)

// scriptedExec drives a full run from canned phase outputs, recording the
// order the phases were called in.
type scriptedExec struct {
	calls   []epist.Phase
	absent  bool // abstraction returns no result
	ranking func(snap epist.State) *epist.Ranking
}

func (e *scriptedExec) Execute(ctx context.Context, phase epist.Phase, snap epist.State) (any, error) {
	e.calls = append(e.calls, phase)
	switch phase {
	case epist.PhaseAbstraction:
		if e.absent {
			return nil, nil
		}
		return &epist.Abstraction{Findings: []epist.Finding{
			{Category: "Subjective", Finding: "fever"},
			{Category: "Objective", Finding: "crackles on auscultation"},
		}}, nil
	case epist.PhaseAbductionUnfocused:
		return &epist.HypothesisSet{Hypotheses: []epist.Hypothesis{
			{Diagnosis: "infection"},
			{Diagnosis: "malignancy"},
		}}, nil
	case epist.PhaseAbductionFocused:
		return &epist.HypothesisSet{Hypotheses: []epist.Hypothesis{
			{Diagnosis: "pneumonia"},
			{Diagnosis: "sepsis"},
			{Diagnosis: "lung cancer"},
		}}, nil
	case epist.PhaseRanking:
		return e.ranking(snap), nil
	case epist.PhaseDeduction:
		ded := &epist.Deduction{}
		for _, d := range snap.Ranking.Diagnoses() {
			ded.Hypotheses = append(ded.Hypotheses, epist.HypothesisDeduction{
				Diagnosis: d,
				PredictedConsequences: []epist.PredictedConsequence{
					{Description: "expected sign", Kind: epist.KindManifestation, Priority: epist.PriorityHigh},
				},
			})
		}
		return ded, nil
	case epist.PhaseInduction:
		ind := &epist.Induction{}
		for i, d := range snap.Deduction.Diagnoses() {
			ev := epist.EvaluationPlausible
			if i == len(snap.Deduction.Hypotheses)-1 {
				ev = epist.EvaluationRefuted
			}
			ind.Hypotheses = append(ind.Hypotheses, epist.EvaluatedHypothesis{
				Diagnosis:   d,
				Evaluation:  ev,
				Termination: epist.TerminationContinueTesting,
			})
		}
		return ind, nil
	}
	return nil, errors.New("unknown phase")
}

// rankInOrder ranks the current source set 1..n in its own order. The
// source mirrors the ranking node's selection: induction output when
// present, focused hypotheses otherwise.
func rankInOrder(snap epist.State) *epist.Ranking {
	var names []string
	if snap.Induction != nil {
		names = snap.Induction.Diagnoses()
	} else {
		names = snap.FocusedHypotheses.Diagnoses()
	}
	r := &epist.Ranking{}
	for i, n := range names {
		r.Hypotheses = append(r.Hypotheses, epist.RankedHypothesis{Diagnosis: n, Rank: i + 1})
	}
	return r
}

func input() pipeline.Input {
	return pipeline.Input{CaseText: "case text", ModelID: "test-model", TopK: 10}
}

func TestRunFullTopology(t *testing.T) {
	exec := &scriptedExec{ranking: rankInOrder}

	var steps []string
	sink := trace.Func(func(node string, namespace []string, ts time.Time, patch epist.Patch) {
		steps = append(steps, node)
	})

	p, err := pipeline.New(exec, pipeline.WithTraceSink(sink))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	final, err := p.Run(context.Background(), input())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []epist.Phase{
		epist.PhaseAbstraction,
		epist.PhaseAbductionUnfocused,
		epist.PhaseAbductionFocused,
		epist.PhaseRanking,
		epist.PhaseDeduction,
		epist.PhaseInduction,
		epist.PhaseRanking,
	}
	if diff := cmp.Diff(want, exec.calls); diff != "" {
		t.Errorf("phase order mismatch (-want +got):\n%s", diff)
	}
	if len(steps) != 7 {
		t.Errorf("sink observed %d steps, want 7", len(steps))
	}

	if !final.Reranked {
		t.Error("final.Reranked = false, want true after the second ranking pass")
	}
	if final.Iteration != 1 {
		t.Errorf("final.Iteration = %d, want 1", final.Iteration)
	}
	if final.Abstraction == nil || final.UnfocusedHypotheses == nil ||
		final.FocusedHypotheses == nil || final.Ranking == nil ||
		final.Deduction == nil || final.Induction == nil || final.InductionPlausible == nil {
		t.Errorf("final state has absent fields: %+v", final)
	}

	// The final ranking covers the full induction set, refuted included.
	if got, wantLen := len(final.Ranking.Hypotheses), len(final.Induction.Hypotheses); got != wantLen {
		t.Errorf("final ranking has %d hypotheses, want %d", got, wantLen)
	}
	if got := len(final.InductionPlausible.Hypotheses); got != 2 {
		t.Errorf("plausible subset has %d hypotheses, want 2", got)
	}
}

func TestRunAbsentAbstractionEndsInOneStep(t *testing.T) {
	exec := &scriptedExec{absent: true, ranking: rankInOrder}

	p, err := pipeline.New(exec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	final, err := p.Run(context.Background(), input())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(exec.calls) != 1 {
		t.Errorf("executor called %d times, want 1", len(exec.calls))
	}
	if final.Abstraction != nil {
		t.Errorf("final.Abstraction = %+v, want absent", final.Abstraction)
	}
	if final.Reranked || final.Iteration != 0 {
		t.Errorf("final = %+v, want untouched flag and counter", final)
	}
	if final.CaseText != "case text" || final.ModelID != "test-model" || final.TopK != 10 {
		t.Errorf("immutable inputs not preserved: %+v", final)
	}
}

func TestRunEmptyAbstractionContinues(t *testing.T) {
	exec := epist.ExecutorFunc(func(ctx context.Context, phase epist.Phase, snap epist.State) (any, error) {
		switch phase {
		case epist.PhaseAbstraction:
			return &epist.Abstraction{}, nil
		default:
			// The run proceeded past the router; stop it with a
			// recognizable error.
			return nil, errors.New("reached abduction")
		}
	})

	p, err := pipeline.New(exec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	_, err = p.Run(context.Background(), input())
	if err == nil || err.Error() != "node abduction_unfocused: reached abduction" {
		t.Errorf("Run() error = %v, want the abduction probe error", err)
	}
}

func TestRunStepBudgetTrace(t *testing.T) {
	// A ranking that never sets the flag would loop forever; a scripted
	// executor that loops abstraction is simpler: give every phase a valid
	// answer but pin the budget below the 7 steps the topology needs.
	exec := &scriptedExec{ranking: rankInOrder}

	p, err := pipeline.New(exec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	in := input()
	in.StepBudget = 3
	final, err := p.Run(context.Background(), in)
	if !errors.Is(err, epist.ErrStepBudgetExceeded) {
		t.Fatalf("Run() error = %v, want ErrStepBudgetExceeded", err)
	}

	var budgetErr *epist.BudgetError
	if !errors.As(err, &budgetErr) {
		t.Fatalf("error %T does not carry the step trace", err)
	}
	if len(budgetErr.Trace) != 3 {
		t.Errorf("trace has %d steps, want 3", len(budgetErr.Trace))
	}
	wantNodes := []string{"abstraction", "abduction_unfocused", "abduction_focused"}
	for i, step := range budgetErr.Trace {
		if step.Node != wantNodes[i] {
			t.Errorf("trace[%d].Node = %q, want %q", i, step.Node, wantNodes[i])
		}
	}

	// Work done before the budget ran out is preserved.
	if final.FocusedHypotheses == nil {
		t.Error("final state lost the focused hypotheses merged before the budget error")
	}
}

func TestRunErrorReturnsLastKnownGoodState(t *testing.T) {
	boom := errors.New("model unavailable")
	exec := epist.ExecutorFunc(func(ctx context.Context, phase epist.Phase, snap epist.State) (any, error) {
		if phase == epist.PhaseAbductionFocused {
			return nil, boom
		}
		return (&scriptedExec{ranking: rankInOrder}).Execute(ctx, phase, snap)
	})

	p, err := pipeline.New(exec)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	final, err := p.Run(context.Background(), input())
	if !errors.Is(err, boom) {
		t.Fatalf("Run() error = %v, want wrapped executor error", err)
	}
	if final.Abstraction == nil || final.UnfocusedHypotheses == nil {
		t.Error("last-known-good state is missing completed phases")
	}
	if final.FocusedHypotheses != nil {
		t.Error("failed phase leaked a partial write into the state")
	}
}

func TestInputValidation(t *testing.T) {
	p, err := pipeline.New(&scriptedExec{ranking: rankInOrder})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		in   pipeline.Input
	}{
		{"missing case text", pipeline.Input{ModelID: "m", TopK: 10}},
		{"missing model id", pipeline.Input{CaseText: "c", TopK: 10}},
		{"zero top_k", pipeline.Input{CaseText: "c", ModelID: "m"}},
		{"negative top_k", pipeline.Input{CaseText: "c", ModelID: "m", TopK: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.Run(context.Background(), tt.in); err == nil {
				t.Error("Run() error = nil, want validation error")
			}
		})
	}
}

func TestRouters(t *testing.T) {
	if got := pipeline.AfterAbstraction(epist.State{}); got != epist.BranchEnd {
		t.Errorf("AfterAbstraction(absent) = %v, want BranchEnd", got)
	}
	if got := pipeline.AfterAbstraction(epist.State{Abstraction: &epist.Abstraction{}}); got != epist.BranchContinue {
		t.Errorf("AfterAbstraction(empty present) = %v, want BranchContinue", got)
	}
	if got := pipeline.AfterRanking(epist.State{}); got != epist.BranchContinue {
		t.Errorf("AfterRanking(flag clear) = %v, want BranchContinue", got)
	}
	if got := pipeline.AfterRanking(epist.State{Reranked: true}); got != epist.BranchEnd {
		t.Errorf("AfterRanking(flag set) = %v, want BranchEnd", got)
	}
}
