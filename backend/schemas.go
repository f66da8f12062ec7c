package backend

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/epistlab/epist"
)

// phaseSchema pairs the raw schema sent as the chat format with its
// compiled validator.
type phaseSchema struct {
	raw      json.RawMessage
	compiled *gojsonschema.Schema
}

// validate checks an answer against the phase schema. All violations are
// reported as epist.ErrInvalidResponse so the retry policy can decide to
// ask again.
func (s *phaseSchema) validate(content []byte) error {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(content))
	if err != nil {
		// Undecodable JSON lands here.
		return fmt.Errorf("%w: %v", epist.ErrInvalidResponse, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, re := range result.Errors() {
			msgs = append(msgs, re.String())
		}
		return fmt.Errorf("%w: %s", epist.ErrInvalidResponse, strings.Join(msgs, "; "))
	}
	return nil
}

var (
	schemaOnce sync.Once
	schemas    map[epist.Phase]*phaseSchema
	schemaErr  error
)

// schemaFor returns the compiled schema for a phase.
func schemaFor(phase epist.Phase) (*phaseSchema, error) {
	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[phase]
	if !ok {
		return nil, fmt.Errorf("backend: no schema for phase %q", phase)
	}
	return s, nil
}

func compileSchemas() {
	schemas = make(map[epist.Phase]*phaseSchema, 6)
	for phase, def := range map[epist.Phase]map[string]any{
		epist.PhaseAbstraction:        abstractionSchema,
		epist.PhaseAbductionUnfocused: abductionSchema,
		epist.PhaseAbductionFocused:   abductionSchema,
		epist.PhaseRanking:            rankingSchema,
		epist.PhaseDeduction:          deductionSchema,
		epist.PhaseInduction:          inductionSchema,
	} {
		raw, err := json.Marshal(def)
		if err != nil {
			schemaErr = fmt.Errorf("backend: marshal %s schema: %w", phase, err)
			return
		}
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			schemaErr = fmt.Errorf("backend: compile %s schema: %w", phase, err)
			return
		}
		schemas[phase] = &phaseSchema{raw: raw, compiled: compiled}
	}
}

// findingCategories are the closed set of abstraction categories: the
// clinical record sections plus the social-determinant domains.
var findingCategories = []string{
	"History of Present Illness",
	"Past Medical History",
	"Current Medications",
	"Allergies",
	"Family History",
	"Physical Examination",
	"Investigations",
	"Economic Stability",
	"Education Access & Quality",
	"Healthcare Access & Quality",
	"Neighborhood & Built Environment",
	"Social & Community Context",
}

func obj(props map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func arr(items map[string]any) map[string]any {
	return map[string]any{"type": "array", "items": items}
}

func str() map[string]any { return map[string]any{"type": "string"} }

func enum(values ...string) map[string]any {
	return map[string]any{"type": "string", "enum": values}
}

// A null features field is the model's way of declining to abstract at
// all; it maps to an absent abstraction and ends the run.
var abstractionSchema = obj(map[string]any{
	"features": map[string]any{
		"type": []string{"array", "null"},
		"items": obj(map[string]any{
			"category": enum(findingCategories...),
			"findings": arr(obj(map[string]any{
				"finding":     str(),
				"explanation": str(),
			}, "finding", "explanation")),
		}, "category", "findings"),
	},
}, "features")

var abductionSchema = obj(map[string]any{
	"hypotheses": arr(obj(map[string]any{
		"diagnosis":   str(),
		"explanation": str(),
		"supporting_features": map[string]any{
			"type":  "array",
			"items": str(),
		},
	}, "diagnosis", "explanation", "supporting_features")),
}, "hypotheses")

var rankingSchema = obj(map[string]any{
	"hypotheses": arr(obj(map[string]any{
		"diagnosis": str(),
		"position": obj(map[string]any{
			"rank":       map[string]any{"type": "integer", "minimum": 1},
			"parsimony":  str(),
			"danger":     str(),
			"cost":       str(),
			"curability": str(),
		}, "rank", "parsimony", "danger", "cost", "curability"),
	}, "diagnosis", "position")),
}, "hypotheses")

var deductionSchema = obj(map[string]any{
	"hypotheses": arr(obj(map[string]any{
		"diagnosis": str(),
		"predicted_consequences": arr(obj(map[string]any{
			"description": str(),
			"kind":        enum("manifestation", "test_result", "clinical_course"),
			"priority":    enum("high", "medium", "low"),
		}, "description", "kind", "priority")),
	}, "diagnosis", "predicted_consequences")),
}, "hypotheses")

var inductionSchema = obj(map[string]any{
	"hypotheses": arr(obj(map[string]any{
		"diagnosis":   str(),
		"evaluation":  enum("plausible", "refuted"),
		"explanation": str(),
		"termination_recommendation": enum(
			"sufficient_explanation_reached",
			"continue_testing",
			"reopen_abduction",
		),
		"evaluated_findings": arr(obj(map[string]any{
			"description": str(),
			"status":      enum("confirmed", "not_observed", "contradicted"),
			"comment":     str(),
		}, "description", "status", "comment")),
	}, "diagnosis", "evaluation", "explanation", "termination_recommendation", "evaluated_findings")),
}, "hypotheses")
