package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/epistlab/epist"
)

// messagesFor builds the system/user prompt pair for a phase from the
// state snapshot. Each phase sees only the fields it declares as inputs.
func messagesFor(phase epist.Phase, snap epist.State) ([]chatMessage, error) {
	switch phase {
	case epist.PhaseAbstraction:
		return abstractionMessages(snap), nil
	case epist.PhaseAbductionUnfocused:
		if snap.Abstraction == nil {
			return nil, fmt.Errorf("backend: unfocused abduction without abstraction")
		}
		return abductionUnfocusedMessages(snap), nil
	case epist.PhaseAbductionFocused:
		if snap.Abstraction == nil || snap.UnfocusedHypotheses == nil {
			return nil, fmt.Errorf("backend: focused abduction without abstraction and unfocused hypotheses")
		}
		return abductionFocusedMessages(snap), nil
	case epist.PhaseRanking:
		return rankingMessages(snap)
	case epist.PhaseDeduction:
		if snap.Ranking == nil {
			return nil, fmt.Errorf("backend: deduction without ranking")
		}
		return deductionMessages(snap), nil
	case epist.PhaseInduction:
		if snap.Deduction == nil {
			return nil, fmt.Errorf("backend: induction without deduction")
		}
		return inductionMessages(snap), nil
	default:
		return nil, fmt.Errorf("backend: unknown phase %q", phase)
	}
}

func abstractionMessages(snap epist.State) []chatMessage {
	system := "You are a clinical information extraction system. " +
		"Transform the raw clinical narrative into a concise, structured set of clinically relevant features, " +
		"grouped by category. Capture presenting problems, history, medications, allergies, examination findings, " +
		"and investigations. Merge duplicate concepts, preserve clinically important negations, and do not invent facts. " +
		"Return only JSON matching the provided schema."
	user := "Clinical case narrative:\n------------------------\n" + snap.CaseText + "\n"
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}

func abductionUnfocusedMessages(snap epist.State) []chatMessage {
	system := fmt.Sprintf(
		"You are a clinical reasoning system performing unfocused abduction. "+
			"From the narrative and the abstracted features, propose up to %d broad diagnostic families "+
			"(organ/system categories, syndrome groupings, major disease classes) that could explain the problem features. "+
			"Do not name specific diseases yet. Every hypothesis must cite the supporting finding strings exactly as given. "+
			"Return only JSON matching the provided schema.", snap.TopK)
	var b strings.Builder
	writeCase(&b, snap)
	writeFeatures(&b, snap.Abstraction)
	fmt.Fprintf(&b, "Task: generate %d broad diagnostic hypotheses using only the features above as evidence.\n", snap.TopK)
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func abductionFocusedMessages(snap epist.State) []chatMessage {
	system := fmt.Sprintf(
		"You are a clinical reasoning system performing focused abduction. "+
			"Given the narrative, the abstracted features and a set of broad diagnostic families, "+
			"generate up to %d specific diagnostic hypotheses that refine, compete with, or complement the broad families. "+
			"Do not rank or score them. Cite supporting finding strings exactly as given. "+
			"Return only JSON matching the provided schema.", snap.TopK)
	var b strings.Builder
	writeCase(&b, snap)
	writeFeatures(&b, snap.Abstraction)
	b.WriteString("Unfocused diagnostic hypotheses (broad families):\n")
	b.WriteString("-------------------------------------------------\n")
	for i, h := range snap.UnfocusedHypotheses.Hypotheses {
		fmt.Fprintf(&b, "U%d: diagnosis = %q\n    supporting_features: %v\n", i+1, h.Diagnosis, h.SupportingFeatures)
	}
	fmt.Fprintf(&b, "\nTask: generate %d focused diagnostic hypotheses.\n", snap.TopK)
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func rankingMessages(snap epist.State) ([]chatMessage, error) {
	rerank := snap.Induction != nil && !snap.Reranked
	system := "You are a clinical reasoning and triage-ranking system. " +
		"Rank every provided hypothesis with a unique ordinal rank (1 = highest priority), omitting none and adding none. " +
		"Justify each rank under four criteria: parsimony, danger, cost, curability. " +
		"Break ties by danger first, then parsimony, then cost, then curability. " +
		"If induction evidence is provided, plausible hypotheses with confirmed findings generally rank above refuted ones. " +
		"Return only JSON matching the provided schema."

	var b strings.Builder
	if rerank {
		b.WriteString("RANKING_CONTEXT: POST_INDUCTION\n")
	} else {
		b.WriteString("RANKING_CONTEXT: PRE_INDUCTION\n")
	}
	writeCase(&b, snap)
	b.WriteString("Provided diagnostic hypotheses:\n")
	b.WriteString("------------------------------\n")
	switch {
	case rerank:
		for i, h := range snap.Induction.Hypotheses {
			confirmed, contradicted, notObserved := splitEvaluated(h.EvaluatedFindings)
			fmt.Fprintf(&b, "H%d: diagnosis = %q\n    evaluation: %s\n    termination_recommendation: %s\n    explanation: %s\n",
				i+1, h.Diagnosis, h.Evaluation, h.Termination, h.Explanation)
			fmt.Fprintf(&b, "    confirmed (%d): %s\n", len(confirmed), strings.Join(confirmed, "; "))
			fmt.Fprintf(&b, "    contradicted (%d): %s\n", len(contradicted), strings.Join(contradicted, "; "))
			fmt.Fprintf(&b, "    not_observed (%d): %s\n", len(notObserved), strings.Join(notObserved, "; "))
		}
	case snap.FocusedHypotheses != nil:
		for i, h := range snap.FocusedHypotheses.Hypotheses {
			fmt.Fprintf(&b, "H%d: diagnosis = %q\n    supporting_features: %v\n", i+1, h.Diagnosis, h.SupportingFeatures)
		}
	default:
		return nil, fmt.Errorf("backend: ranking without focused hypotheses or induction output")
	}
	b.WriteString("\nTask: rank each hypothesis and justify parsimony, danger, cost and curability.\n")
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}, nil
}

func deductionMessages(snap epist.State) []chatMessage {
	system := "You are a clinical reasoning system deducing expected consequences. " +
		"For each ranked hypothesis, derive a small set of testable expected findings (signs, test results, clinical course) " +
		"that should hold if the hypothesis were true, with a kind and verification priority for each. " +
		"Use all hypotheses, mention each exactly once, and do not re-rank or invent new hypotheses. " +
		"Return only JSON matching the provided schema."

	ranked := make([]epist.RankedHypothesis, len(snap.Ranking.Hypotheses))
	copy(ranked, snap.Ranking.Hypotheses)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Rank < ranked[j].Rank })

	var b strings.Builder
	b.WriteString("Ranked diagnostic hypotheses:\n")
	b.WriteString("-----------------------------\n")
	for _, h := range ranked {
		fmt.Fprintf(&b, "H%d: diagnosis = %q\n", h.Rank, h.Diagnosis)
	}
	b.WriteString("\nTask: for every hypothesis, list the expected clinical consequences if it were true.\n")
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func inductionMessages(snap epist.State) []chatMessage {
	system := "You are a clinical reasoning system performing induction. " +
		"Compare every expected consequence against the observed case: mark it confirmed, not_observed, or contradicted. " +
		"Then judge each hypothesis plausible or refuted and recommend whether to stop, continue testing, or reopen abduction. " +
		"Use all hypotheses, mention each exactly once, and introduce no new clinical facts. " +
		"Return only JSON matching the provided schema."

	var b strings.Builder
	writeCase(&b, snap)
	b.WriteString("Expected consequences from the deduction phase:\n")
	b.WriteString("-----------------------------------------------\n")
	for i, h := range snap.Deduction.Hypotheses {
		fmt.Fprintf(&b, "D%d: hypothesis = %q\n", i+1, h.Diagnosis)
		for j, c := range h.PredictedConsequences {
			fmt.Fprintf(&b, "    E%d: %s [kind=%s, priority=%s]\n", j+1, c.Description, c.Kind, c.Priority)
		}
	}
	b.WriteString("\nTask: evaluate every expected finding and every hypothesis.\n")
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: b.String()},
	}
}

func writeCase(b *strings.Builder, snap epist.State) {
	b.WriteString("Clinical case narrative:\n")
	b.WriteString("------------------------\n")
	b.WriteString(snap.CaseText)
	b.WriteString("\n\n")
}

func writeFeatures(b *strings.Builder, abs *epist.Abstraction) {
	b.WriteString("Abstracted clinical features:\n")
	b.WriteString("-----------------------------\n")
	for i, f := range abs.Findings {
		fmt.Fprintf(b, "%d. %s - %s\n", i+1, f.Finding, f.Explanation)
	}
	b.WriteString("\n")
}

func splitEvaluated(findings []epist.EvaluatedFinding) (confirmed, contradicted, notObserved []string) {
	for _, f := range findings {
		line := f.Description
		if f.Comment != "" {
			line += " :: " + f.Comment
		}
		switch f.Status {
		case epist.StatusConfirmed:
			confirmed = append(confirmed, line)
		case epist.StatusContradicted:
			contradicted = append(contradicted, line)
		default:
			notObserved = append(notObserved, line)
		}
	}
	return confirmed, contradicted, notObserved
}
