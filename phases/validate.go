package phases

import (
	"fmt"
	"strings"

	"github.com/epistlab/epist"
)

// normDiagnosis collapses whitespace and case so that cosmetic rephrasing
// by the executor does not break membership checks.
func normDiagnosis(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// requireCoverage checks that got is exactly the input hypothesis set:
// every input diagnosis appears once in the result, and the result names
// nothing the input did not contain.
func requireCoverage(phase epist.Phase, got, want []string) error {
	remaining := make(map[string]string, len(want))
	for _, w := range want {
		remaining[normDiagnosis(w)] = w
	}
	seen := make(map[string]bool, len(got))
	for _, g := range got {
		key := normDiagnosis(g)
		if _, ok := remaining[key]; !ok {
			if seen[key] {
				return fmt.Errorf("%w: %s repeated diagnosis %q", epist.ErrCardinalityViolation, phase, g)
			}
			return fmt.Errorf("%w: %s named %q, absent from the preceding hypothesis set", epist.ErrCardinalityViolation, phase, g)
		}
		seen[key] = true
		delete(remaining, key)
	}
	if len(remaining) > 0 {
		for _, w := range remaining {
			return fmt.Errorf("%w: %s omitted diagnosis %q", epist.ErrCardinalityViolation, phase, w)
		}
	}
	return nil
}
