package qdata

import (
	"fmt"
	"slices"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Field describes one key of the data dictionary.
type Field struct {
	Name     string
	Present  []Phase
	Writable []Phase
	// Schema is the JSON schema (draft-07) for the value. Empty means the
	// value is checked natively.
	Schema string
}

const draft07 = `"$schema": "http://json-schema.org/draft-07/schema#", `

var (
	everyPhase  = Phases
	renderPhase = []Phase{PhaseRender}
)

var fields = []Field{
	{
		Name:     KeyParams,
		Present:  everyPhase,
		Writable: []Phase{PhaseGenerate, PhasePrepare, PhaseGrade},
		Schema:   `{` + draft07 + `"type": "object"}`,
	},
	{
		Name:     KeyCorrectAnswers,
		Present:  everyPhase,
		Writable: []Phase{PhaseGenerate, PhasePrepare, PhaseParse, PhaseGrade},
		Schema:   `{` + draft07 + `"type": "object"}`,
	},
	{
		Name:    KeyVariantSeed,
		Present: everyPhase,
		Schema:  `{` + draft07 + `"type": "integer"}`,
	},
	{
		Name:    KeyOptions,
		Present: everyPhase,
		Schema:  `{` + draft07 + `"type": "object"}`,
	},
	{
		Name:     KeySubmittedAnswers,
		Present:  []Phase{PhaseRender, PhaseParse, PhaseGrade},
		Writable: []Phase{PhaseParse, PhaseGrade},
		Schema:   `{` + draft07 + `"type": "object"}`,
	},
	{
		Name:     KeyFormatErrors,
		Present:  []Phase{PhaseRender, PhaseParse, PhaseGrade, PhaseTest},
		Writable: []Phase{PhaseParse, PhaseGrade, PhaseTest},
		Schema: `{` + draft07 + `"type": "object", "additionalProperties": {"anyOf": [
			{"type": "string"},
			{"type": "array", "items": {"type": "string"}}
		]}}`,
	},
	{
		Name:     KeyRawSubmittedAnswers,
		Present:  []Phase{PhaseRender, PhaseParse, PhaseGrade, PhaseTest},
		Writable: []Phase{PhaseTest},
		Schema:   `{` + draft07 + `"type": "object"}`,
	},
	{
		Name:     KeyPartialScores,
		Present:  []Phase{PhaseRender, PhaseGrade, PhaseTest},
		Writable: []Phase{PhaseGrade, PhaseTest},
		Schema: `{` + draft07 + `"type": "object", "additionalProperties": {
			"type": "object",
			"properties": {
				"score": {"type": ["number", "null"], "minimum": 0, "maximum": 1},
				"weight": {"type": "number", "exclusiveMinimum": 0}
			}
		}}`,
	},
	{
		Name:     KeyScore,
		Present:  []Phase{PhaseRender, PhaseGrade, PhaseTest},
		Writable: []Phase{PhaseGrade, PhaseTest},
		Schema:   `{` + draft07 + `"type": "number", "minimum": 0, "maximum": 1}`,
	},
	{
		Name:     KeyFeedback,
		Present:  []Phase{PhaseRender, PhaseGrade, PhaseTest},
		Writable: []Phase{PhaseGrade, PhaseTest},
		Schema:   `{` + draft07 + `"type": "object"}`,
	},
	{
		Name:    KeyEditable,
		Present: renderPhase,
		Schema:  `{` + draft07 + `"type": "boolean"}`,
	},
	{
		Name:    KeyManualGrading,
		Present: renderPhase,
		Schema:  `{` + draft07 + `"type": "boolean"}`,
	},
	{
		Name:    KeyPanel,
		Present: renderPhase,
		Schema:  `{` + draft07 + `"type": "string", "enum": ["question", "submission", "answer"]}`,
	},
	{
		Name:    KeyNumValidSubmissions,
		Present: renderPhase,
		Schema:  `{` + draft07 + `"type": "integer", "minimum": 0}`,
	},
	{
		Name:    KeyGradable,
		Present: []Phase{PhaseParse, PhaseGrade, PhaseTest},
		Schema:  `{` + draft07 + `"type": "boolean"}`,
	},
	{
		Name:    KeyFilename,
		Present: []Phase{PhaseFile},
		Schema:  `{` + draft07 + `"type": "string"}`,
	},
	{
		Name:    KeyTestType,
		Present: []Phase{PhaseTest},
		Schema:  `{` + draft07 + `"type": "string", "enum": ["correct", "incorrect", "invalid"]}`,
	},
	{
		// Namespaces hold callables, which JSON schema cannot describe.
		Name:    KeyExtensions,
		Present: everyPhase,
	},
}

var (
	fieldIndex = map[string]*Field{}
	compiled   = map[string]*gojsonschema.Schema{}
)

func init() {
	for i := range fields {
		f := &fields[i]
		fieldIndex[f.Name] = f
		if f.Schema == "" {
			continue
		}
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(f.Schema))
		if err != nil {
			panic(fmt.Sprintf("qdata: compiling schema for %s: %v", f.Name, err))
		}
		compiled[f.Name] = s
	}
}

// Fields returns the schema in declaration order.
func Fields() []Field {
	return slices.Clone(fields)
}

// Lookup returns the schema entry for key.
func Lookup(key string) (Field, bool) {
	f, ok := fieldIndex[key]
	if !ok {
		return Field{}, false
	}
	return *f, true
}

// PresentIn reports whether key belongs to the dictionary in phase.
func PresentIn(key string, phase Phase) bool {
	f, ok := fieldIndex[key]
	return ok && slices.Contains(f.Present, phase)
}

// WritableIn reports whether key may change during phase.
func WritableIn(key string, phase Phase) bool {
	f, ok := fieldIndex[key]
	return ok && slices.Contains(f.Writable, phase)
}

// KeysFor returns the sorted keys present in phase.
func KeysFor(phase Phase) []string {
	var keys []string
	for _, f := range fields {
		if slices.Contains(f.Present, phase) {
			keys = append(keys, f.Name)
		}
	}
	sort.Strings(keys)
	return keys
}

// checkType validates a single value against its field schema.
func checkType(key string, v any) error {
	if key == KeyExtensions {
		switch v.(type) {
		case map[string]map[string]any, map[string]any:
			return nil
		}
		return fmt.Errorf("expected a mapping of extension namespaces, got %T", v)
	}
	s, ok := compiled[key]
	if !ok {
		return nil
	}
	res, err := s.Validate(gojsonschema.NewGoLoader(v))
	if err != nil {
		return fmt.Errorf("value is not JSON-encodable: %w", err)
	}
	if !res.Valid() {
		errs := res.Errors()
		return fmt.Errorf("%s", errs[0].String())
	}
	return nil
}

// Zero returns the initial value of key.
func Zero(key string) any {
	switch key {
	case KeyVariantSeed, KeyNumValidSubmissions:
		return 0
	case KeyScore:
		return PendingScore(0)
	case KeyEditable, KeyManualGrading, KeyGradable:
		return false
	case KeyPanel:
		return string(PanelQuestion)
	case KeyTestType:
		return string(TestCorrect)
	case KeyFilename:
		return ""
	case KeyExtensions:
		return map[string]map[string]any{}
	}
	return map[string]any{}
}

// ForPhase builds the dictionary for phase: every key present in that
// phase, taken from src (deep-copied) or its zero value.
func ForPhase(phase Phase, src Data) Data {
	out := Data{}
	for _, key := range KeysFor(phase) {
		if v, ok := src[key]; ok && v != nil {
			out[key] = cloneValue(v)
			continue
		}
		out[key] = Zero(key)
	}
	return out
}
