package trace

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/epistlab/epist"
)

// Human writes a readable account of a run: one section per step, with
// the step's patch rendered the way a clinician would read it. Write
// errors are dropped.
type Human struct {
	mu   sync.Mutex
	w    io.Writer
	step int
}

// NewHuman creates a human-readable log sink.
func NewHuman(w io.Writer) *Human {
	return &Human{w: w}
}

// Emit implements epist.TraceSink.
func (h *Human) Emit(node string, namespace []string, ts time.Time, patch epist.Patch) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.step++

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 72))
	fmt.Fprintf(&b, "STEP %d | %s | %s\n", h.step, strings.ToUpper(node), ts.Format(time.RFC3339))
	if len(namespace) > 0 {
		fmt.Fprintf(&b, "namespace: %s\n", strings.Join(namespace, "/"))
	}
	fmt.Fprintf(&b, "%s\n", strings.Repeat("=", 72))

	if patch.IsZero() {
		b.WriteString("(no state written)\n")
	}
	if patch.Abstraction != nil {
		writeAbstraction(&b, patch.Abstraction)
	}
	if patch.UnfocusedHypotheses != nil {
		writeHypotheses(&b, "Unfocused hypotheses", patch.UnfocusedHypotheses)
	}
	if patch.FocusedHypotheses != nil {
		writeHypotheses(&b, "Focused hypotheses", patch.FocusedHypotheses)
	}
	if patch.Ranking != nil {
		writeRanking(&b, patch.Ranking)
	}
	if patch.Deduction != nil {
		writeDeduction(&b, patch.Deduction)
	}
	if patch.Induction != nil {
		writeInduction(&b, patch.Induction)
	}
	if patch.InductionPlausible != nil {
		fmt.Fprintf(&b, "Plausible subset: %d hypothesis(es)\n", len(patch.InductionPlausible.Hypotheses))
		for _, h := range patch.InductionPlausible.Hypotheses {
			fmt.Fprintf(&b, "  - %s\n", h.Diagnosis)
		}
	}
	if patch.Reranked != nil {
		fmt.Fprintf(&b, "reranked: %t\n", *patch.Reranked)
	}
	if patch.Iteration != nil {
		fmt.Fprintf(&b, "iteration_count: %d\n", *patch.Iteration)
	}
	b.WriteString("\n")

	_, _ = io.WriteString(h.w, b.String())
}

func writeAbstraction(b *strings.Builder, abs *epist.Abstraction) {
	fmt.Fprintf(b, "Abstracted features: %d\n", len(abs.Findings))
	for i, f := range abs.Findings {
		fmt.Fprintf(b, "  %d. [%s] %s\n     %s\n", i+1, f.Category, f.Finding, f.Explanation)
	}
}

func writeHypotheses(b *strings.Builder, title string, set *epist.HypothesisSet) {
	fmt.Fprintf(b, "%s: %d\n", title, len(set.Hypotheses))
	for i, h := range set.Hypotheses {
		fmt.Fprintf(b, "  H%d: %s\n      %s\n", i+1, h.Diagnosis, h.Explanation)
		if len(h.SupportingFeatures) > 0 {
			fmt.Fprintf(b, "      supporting: %s\n", strings.Join(h.SupportingFeatures, "; "))
		}
	}
}

func writeRanking(b *strings.Builder, r *epist.Ranking) {
	fmt.Fprintf(b, "Ranking: %d hypothesis(es)\n", len(r.Hypotheses))
	for _, h := range r.Hypotheses {
		fmt.Fprintf(b, "  #%-2d %s\n", h.Rank, h.Diagnosis)
		fmt.Fprintf(b, "      parsimony:  %s\n", h.Parsimony)
		fmt.Fprintf(b, "      danger:     %s\n", h.Danger)
		fmt.Fprintf(b, "      cost:       %s\n", h.Cost)
		fmt.Fprintf(b, "      curability: %s\n", h.Curability)
	}
}

func writeDeduction(b *strings.Builder, d *epist.Deduction) {
	fmt.Fprintf(b, "Deduction: %d hypothesis(es)\n", len(d.Hypotheses))
	for i, h := range d.Hypotheses {
		fmt.Fprintf(b, "  D%d: %s\n", i+1, h.Diagnosis)
		for j, c := range h.PredictedConsequences {
			fmt.Fprintf(b, "      E%d: %s [%s, %s]\n", j+1, c.Description, c.Kind, priorityTag(c.Priority))
		}
	}
}

func writeInduction(b *strings.Builder, ind *epist.Induction) {
	fmt.Fprintf(b, "Induction: %d hypothesis(es)\n", len(ind.Hypotheses))
	for i, h := range ind.Hypotheses {
		fmt.Fprintf(b, "  I%d: %s -> %s (%s)\n", i+1, h.Diagnosis, h.Evaluation, h.Termination)
		if h.Explanation != "" {
			fmt.Fprintf(b, "      %s\n", h.Explanation)
		}
		for _, f := range h.EvaluatedFindings {
			fmt.Fprintf(b, "      %s %s", statusIcon(f.Status), f.Description)
			if f.Comment != "" {
				fmt.Fprintf(b, " :: %s", f.Comment)
			}
			b.WriteString("\n")
		}
	}
}

func statusIcon(s epist.FindingStatus) string {
	switch s {
	case epist.StatusConfirmed:
		return "[+]"
	case epist.StatusNotObserved:
		return "[?]"
	case epist.StatusContradicted:
		return "[x]"
	default:
		return "[.]"
	}
}

func priorityTag(p epist.Priority) string {
	switch p {
	case epist.PriorityHigh:
		return "HIGH"
	case epist.PriorityMedium:
		return "MED"
	case epist.PriorityLow:
		return "LOW"
	default:
		return string(p)
	}
}
