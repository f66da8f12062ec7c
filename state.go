package epist

import (
	"fmt"
	"sort"
)

// Finding is one abstracted clinical feature.
type Finding struct {
	Category    string `json:"category"`
	Finding     string `json:"finding"`
	Explanation string `json:"explanation"`
}

// Abstraction is the ordered sequence of findings produced by the
// abstraction phase. A nil *Abstraction means the phase produced no result
// at all, which ends the run; a non-nil value with zero findings is a
// present, empty result and the run continues.
type Abstraction struct {
	Findings []Finding `json:"findings"`
}

// Hypothesis is a named candidate explanation with its supporting evidence.
type Hypothesis struct {
	Diagnosis          string   `json:"diagnosis"`
	Explanation        string   `json:"explanation"`
	SupportingFeatures []string `json:"supporting_features"`
}

// HypothesisSet is the output shape of both abduction phases.
type HypothesisSet struct {
	Hypotheses []Hypothesis `json:"hypotheses"`
}

// Diagnoses returns the diagnosis names in set order.
func (s *HypothesisSet) Diagnoses() []string {
	names := make([]string, len(s.Hypotheses))
	for i, h := range s.Hypotheses {
		names[i] = h.Diagnosis
	}
	return names
}

// RankedHypothesis is one entry of a ranking, with the criterion-specific
// justifications attached.
type RankedHypothesis struct {
	Diagnosis  string `json:"diagnosis"`
	Rank       int    `json:"rank"`
	Parsimony  string `json:"parsimony"`
	Danger     string `json:"danger"`
	Cost       string `json:"cost"`
	Curability string `json:"curability"`
}

// Ranking holds hypotheses ordered ascending by rank. Ranks are unique and
// contiguous starting at 1.
type Ranking struct {
	Hypotheses []RankedHypothesis `json:"hypotheses"`
}

// Sort orders the hypotheses ascending by rank. Sorting is stable and
// idempotent: applying it to an already-sorted ranking is a no-op.
func (r *Ranking) Sort() {
	sort.SliceStable(r.Hypotheses, func(i, j int) bool {
		return r.Hypotheses[i].Rank < r.Hypotheses[j].Rank
	})
}

// Validate checks that the ranking holds exactly n hypotheses whose ranks
// are a contiguous permutation of 1..n.
func (r *Ranking) Validate(n int) error {
	if len(r.Hypotheses) != n {
		return fmt.Errorf("%w: ranking has %d hypotheses, want %d", ErrCardinalityViolation, len(r.Hypotheses), n)
	}
	seen := make(map[int]string, n)
	for _, h := range r.Hypotheses {
		if h.Rank < 1 || h.Rank > n {
			return fmt.Errorf("%w: rank %d for %q outside 1..%d", ErrCardinalityViolation, h.Rank, h.Diagnosis, n)
		}
		if prev, dup := seen[h.Rank]; dup {
			return fmt.Errorf("%w: rank %d assigned to both %q and %q", ErrCardinalityViolation, h.Rank, prev, h.Diagnosis)
		}
		seen[h.Rank] = h.Diagnosis
	}
	return nil
}

// Diagnoses returns the diagnosis names in ranking order.
func (r *Ranking) Diagnoses() []string {
	names := make([]string, len(r.Hypotheses))
	for i, h := range r.Hypotheses {
		names[i] = h.Diagnosis
	}
	return names
}

// ConsequenceKind classifies a predicted consequence.
type ConsequenceKind string

const (
	KindManifestation  ConsequenceKind = "manifestation"
	KindTestResult     ConsequenceKind = "test_result"
	KindClinicalCourse ConsequenceKind = "clinical_course"
)

// Priority is the clinical priority of verifying a predicted consequence.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// PredictedConsequence is one expected finding if a hypothesis were true.
type PredictedConsequence struct {
	Description string          `json:"description"`
	Kind        ConsequenceKind `json:"kind"`
	Priority    Priority        `json:"priority"`
}

// HypothesisDeduction couples a hypothesis with its predicted consequences.
type HypothesisDeduction struct {
	Diagnosis             string                 `json:"diagnosis"`
	PredictedConsequences []PredictedConsequence `json:"predicted_consequences"`
}

// Deduction is the output of the deduction (prediction) phase.
type Deduction struct {
	Hypotheses []HypothesisDeduction `json:"hypotheses"`
}

// Diagnoses returns the diagnosis names in deduction order.
func (d *Deduction) Diagnoses() []string {
	names := make([]string, len(d.Hypotheses))
	for i, h := range d.Hypotheses {
		names[i] = h.Diagnosis
	}
	return names
}

// Evaluation is the global inductive judgement on a hypothesis.
type Evaluation string

const (
	EvaluationPlausible Evaluation = "plausible"
	EvaluationRefuted   Evaluation = "refuted"
)

// Termination is the per-hypothesis recommendation about the next step of
// the diagnostic process.
type Termination string

const (
	TerminationSufficient      Termination = "sufficient_explanation_reached"
	TerminationContinueTesting Termination = "continue_testing"
	TerminationReopenAbduction Termination = "reopen_abduction"
)

// FindingStatus is the outcome of matching one predicted consequence
// against the observed data.
type FindingStatus string

const (
	StatusConfirmed    FindingStatus = "confirmed"
	StatusNotObserved  FindingStatus = "not_observed"
	StatusContradicted FindingStatus = "contradicted"
)

// EvaluatedFinding is one predicted consequence after evaluation.
type EvaluatedFinding struct {
	Description string        `json:"description"`
	Status      FindingStatus `json:"status"`
	Comment     string        `json:"comment"`
}

// EvaluatedHypothesis is one hypothesis after the induction phase.
type EvaluatedHypothesis struct {
	Diagnosis         string             `json:"diagnosis"`
	Evaluation        Evaluation         `json:"evaluation"`
	Explanation       string             `json:"explanation"`
	Termination       Termination        `json:"termination_recommendation"`
	EvaluatedFindings []EvaluatedFinding `json:"evaluated_findings"`
}

// Induction is the output of the induction (testing) phase.
type Induction struct {
	Hypotheses []EvaluatedHypothesis `json:"hypotheses"`
}

// Diagnoses returns the diagnosis names in induction order.
func (ind *Induction) Diagnoses() []string {
	names := make([]string, len(ind.Hypotheses))
	for i, h := range ind.Hypotheses {
		names[i] = h.Diagnosis
	}
	return names
}

// Plausible returns the subset of hypotheses evaluated as plausible,
// preserving order.
func (ind *Induction) Plausible() *Induction {
	out := &Induction{}
	for _, h := range ind.Hypotheses {
		if h.Evaluation == EvaluationPlausible {
			out.Hypotheses = append(out.Hypotheses, h)
		}
	}
	return out
}

// State is the single shared record threaded through a run. CaseText,
// ModelID and TopK are immutable inputs set before the first step; they
// are deliberately absent from Patch, so no node can overwrite them. All
// other fields start absent (nil) and are only ever appended or
// overwritten by merging patches.
type State struct {
	CaseText string `json:"case_text"`
	ModelID  string `json:"model_id"`
	TopK     int    `json:"top_k"`

	Abstraction         *Abstraction   `json:"abstraction,omitempty"`
	UnfocusedHypotheses *HypothesisSet `json:"unfocused_hypotheses,omitempty"`
	FocusedHypotheses   *HypothesisSet `json:"focused_hypotheses,omitempty"`
	Ranking             *Ranking       `json:"ranking,omitempty"`
	Deduction           *Deduction     `json:"deduction,omitempty"`
	Induction           *Induction     `json:"induction,omitempty"`
	InductionPlausible  *Induction     `json:"induction_plausible,omitempty"`

	Reranked  bool `json:"reranked"`
	Iteration int  `json:"iteration_count"`
}

// Patch is the partial state a node returns. A nil field is not written; a
// non-nil field overwrites the corresponding state field at key level (no
// deep merge).
type Patch struct {
	Abstraction         *Abstraction   `json:"abstraction,omitempty"`
	UnfocusedHypotheses *HypothesisSet `json:"unfocused_hypotheses,omitempty"`
	FocusedHypotheses   *HypothesisSet `json:"focused_hypotheses,omitempty"`
	Ranking             *Ranking       `json:"ranking,omitempty"`
	Deduction           *Deduction     `json:"deduction,omitempty"`
	Induction           *Induction     `json:"induction,omitempty"`
	InductionPlausible  *Induction     `json:"induction_plausible,omitempty"`

	Reranked  *bool `json:"reranked,omitempty"`
	Iteration *int  `json:"iteration_count,omitempty"`
}

// IsZero reports whether the patch writes nothing.
func (p Patch) IsZero() bool {
	return p.Abstraction == nil &&
		p.UnfocusedHypotheses == nil &&
		p.FocusedHypotheses == nil &&
		p.Ranking == nil &&
		p.Deduction == nil &&
		p.Induction == nil &&
		p.InductionPlausible == nil &&
		p.Reranked == nil &&
		p.Iteration == nil
}

// Merge applies a patch and returns the resulting state. The receiver is
// not modified. Merge enforces the state invariants that cut across
// phases: the rerank flag transitions false->true at most once and never
// resets, and the iteration counter never decreases.
func (s State) Merge(p Patch) (State, error) {
	out := s
	if p.Abstraction != nil {
		if s.Abstraction != nil {
			return s, fmt.Errorf("%w: abstraction is set once and was already present", ErrStateConflict)
		}
		out.Abstraction = p.Abstraction
	}
	if p.UnfocusedHypotheses != nil {
		out.UnfocusedHypotheses = p.UnfocusedHypotheses
	}
	if p.FocusedHypotheses != nil {
		out.FocusedHypotheses = p.FocusedHypotheses
	}
	if p.Ranking != nil {
		out.Ranking = p.Ranking
	}
	if p.Deduction != nil {
		out.Deduction = p.Deduction
	}
	if p.Induction != nil {
		out.Induction = p.Induction
	}
	if p.InductionPlausible != nil {
		out.InductionPlausible = p.InductionPlausible
	}
	if p.Reranked != nil {
		if s.Reranked && !*p.Reranked {
			return s, fmt.Errorf("%w: reranked flag cannot reset", ErrStateConflict)
		}
		out.Reranked = *p.Reranked
	}
	if p.Iteration != nil {
		if *p.Iteration < s.Iteration {
			return s, fmt.Errorf("%w: iteration count cannot decrease (%d -> %d)", ErrStateConflict, s.Iteration, *p.Iteration)
		}
		out.Iteration = *p.Iteration
	}
	return out, nil
}

// Bool returns a pointer to b, for building patches.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i, for building patches.
func Int(i int) *int { return &i }
