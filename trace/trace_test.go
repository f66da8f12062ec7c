package trace_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ohler55/ojg/oj"

	"github.com/epistlab/epist"
	"github.com/epistlab/epist/trace"
)

var ts = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

func TestHumanRendersSteps(t *testing.T) {
	var buf bytes.Buffer
	h := trace.NewHuman(&buf)

	h.Emit("abstraction", []string{"pipeline"}, ts, epist.Patch{
		Abstraction: &epist.Abstraction{Findings: []epist.Finding{
			{Category: "Physical Examination", Finding: "crackles right base", Explanation: "on auscultation"},
		}},
	})
	h.Emit("ranking", []string{"pipeline"}, ts, epist.Patch{
		Ranking: &epist.Ranking{Hypotheses: []epist.RankedHypothesis{
			{Diagnosis: "pneumonia", Rank: 1, Danger: "can progress to sepsis"},
		}},
		Reranked: epist.Bool(false),
	})

	out := buf.String()
	for _, want := range []string{
		"STEP 1 | ABSTRACTION",
		"namespace: pipeline",
		"Abstracted features: 1",
		"[Physical Examination] crackles right base",
		"STEP 2 | RANKING",
		"Ranking: 1 hypothesis(es)",
		"#1  pneumonia",
		"danger:     can progress to sepsis",
		"reranked: false",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHumanRendersInductionStatuses(t *testing.T) {
	var buf bytes.Buffer
	h := trace.NewHuman(&buf)

	h.Emit("induction", nil, ts, epist.Patch{
		Induction: &epist.Induction{Hypotheses: []epist.EvaluatedHypothesis{{
			Diagnosis:   "pneumonia",
			Evaluation:  epist.EvaluationPlausible,
			Termination: epist.TerminationContinueTesting,
			EvaluatedFindings: []epist.EvaluatedFinding{
				{Description: "fever", Status: epist.StatusConfirmed},
				{Description: "pleural rub", Status: epist.StatusNotObserved},
				{Description: "weight loss", Status: epist.StatusContradicted, Comment: "weight stable"},
			},
		}}},
		Iteration: epist.Int(1),
	})

	out := buf.String()
	for _, want := range []string{
		"pneumonia -> plausible (continue_testing)",
		"[+] fever",
		"[?] pleural rub",
		"[x] weight loss :: weight stable",
		"iteration_count: 1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestHumanEmptyPatch(t *testing.T) {
	var buf bytes.Buffer
	trace.NewHuman(&buf).Emit("abstraction", nil, ts, epist.Patch{})

	if !strings.Contains(buf.String(), "(no state written)") {
		t.Errorf("output missing empty-patch marker:\n%s", buf.String())
	}
}

func TestJSONLOneObjectPerStep(t *testing.T) {
	var buf bytes.Buffer
	j := trace.NewJSONL(&buf)

	j.Emit("abstraction", []string{"pipeline"}, ts, epist.Patch{
		Abstraction: &epist.Abstraction{Findings: []epist.Finding{{Category: "Allergies", Finding: "penicillin"}}},
	})
	j.Emit("abduction_unfocused", []string{"pipeline"}, ts, epist.Patch{
		UnfocusedHypotheses: &epist.HypothesisSet{Hypotheses: []epist.Hypothesis{{Diagnosis: "infection"}}},
	})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("wrote %d lines, want 2", len(lines))
	}
	for i, line := range lines {
		v, err := oj.Parse([]byte(line))
		if err != nil {
			t.Fatalf("line %d is not valid JSON: %v", i+1, err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			t.Fatalf("line %d decoded to %T, want object", i+1, v)
		}
		if got := obj["step"]; got != int64(i+1) {
			t.Errorf("line %d step = %v, want %d", i+1, got, i+1)
		}
		if obj["node"] == "" || obj["timestamp"] == "" {
			t.Errorf("line %d missing node or timestamp: %v", i+1, obj)
		}
		if _, ok := obj["patch"]; !ok {
			t.Errorf("line %d missing patch: %v", i+1, obj)
		}
	}
}

func TestMultiFansOutInOrder(t *testing.T) {
	var order []string
	mk := func(name string) epist.TraceSink {
		return trace.Func(func(node string, namespace []string, ts time.Time, patch epist.Patch) {
			order = append(order, name+":"+node)
		})
	}

	trace.Multi(mk("a"), mk("b")).Emit("ranking", nil, ts, epist.Patch{})

	want := []string{"a:ranking", "b:ranking"}
	if len(order) != 2 || order[0] != want[0] || order[1] != want[1] {
		t.Errorf("order = %v, want %v", order, want)
	}
}
