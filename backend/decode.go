package backend

import (
	"encoding/json"
	"fmt"

	"github.com/epistlab/epist"
)

// decode turns a schema-valid answer into the typed result the phase's
// node expects. Wire shapes that differ from the engine's state shapes
// (grouped abstraction features, nested ranking positions) are flattened
// here.
func decode(phase epist.Phase, content []byte) (any, error) {
	switch phase {
	case epist.PhaseAbstraction:
		return decodeAbstraction(content)
	case epist.PhaseAbductionUnfocused, epist.PhaseAbductionFocused:
		var set epist.HypothesisSet
		if err := unmarshal(content, &set); err != nil {
			return nil, err
		}
		return &set, nil
	case epist.PhaseRanking:
		return decodeRanking(content)
	case epist.PhaseDeduction:
		var ded epist.Deduction
		if err := unmarshal(content, &ded); err != nil {
			return nil, err
		}
		return &ded, nil
	case epist.PhaseInduction:
		var ind epist.Induction
		if err := unmarshal(content, &ind); err != nil {
			return nil, err
		}
		return &ind, nil
	default:
		return nil, fmt.Errorf("backend: unknown phase %q", phase)
	}
}

func unmarshal(content []byte, v any) error {
	if err := json.Unmarshal(content, v); err != nil {
		return fmt.Errorf("%w: %v", epist.ErrInvalidResponse, err)
	}
	return nil
}

// wireAbstraction is the grouped answer shape: findings clustered under
// their category.
type wireAbstraction struct {
	Features []struct {
		Category string `json:"category"`
		Findings []struct {
			Finding     string `json:"finding"`
			Explanation string `json:"explanation"`
		} `json:"findings"`
	} `json:"features"`
}

// decodeAbstraction flattens the grouped features into the ordered
// finding sequence. A null features field means the model produced no
// abstraction at all; that maps to a nil result, which ends the run at
// the first router.
func decodeAbstraction(content []byte) (any, error) {
	var wire wireAbstraction
	if err := unmarshal(content, &wire); err != nil {
		return nil, err
	}
	if wire.Features == nil {
		return nil, nil
	}
	abs := &epist.Abstraction{Findings: []epist.Finding{}}
	for _, feature := range wire.Features {
		for _, f := range feature.Findings {
			abs.Findings = append(abs.Findings, epist.Finding{
				Category:    feature.Category,
				Finding:     f.Finding,
				Explanation: f.Explanation,
			})
		}
	}
	return abs, nil
}

// wireRanking nests the rank and its justifications under position.
type wireRanking struct {
	Hypotheses []struct {
		Diagnosis string `json:"diagnosis"`
		Position  struct {
			Rank       int    `json:"rank"`
			Parsimony  string `json:"parsimony"`
			Danger     string `json:"danger"`
			Cost       string `json:"cost"`
			Curability string `json:"curability"`
		} `json:"position"`
	} `json:"hypotheses"`
}

func decodeRanking(content []byte) (any, error) {
	var wire wireRanking
	if err := unmarshal(content, &wire); err != nil {
		return nil, err
	}
	ranking := &epist.Ranking{Hypotheses: make([]epist.RankedHypothesis, 0, len(wire.Hypotheses))}
	for _, h := range wire.Hypotheses {
		ranking.Hypotheses = append(ranking.Hypotheses, epist.RankedHypothesis{
			Diagnosis:  h.Diagnosis,
			Rank:       h.Position.Rank,
			Parsimony:  h.Position.Parsimony,
			Danger:     h.Position.Danger,
			Cost:       h.Position.Cost,
			Curability: h.Position.Curability,
		})
	}
	return ranking, nil
}
