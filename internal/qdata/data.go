// Package qdata defines the question data dictionary threaded through every
// pipeline phase, the schema that governs it and the validator that enforces
// the schema around controller calls.
package qdata

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"math/rand/v2"
)

// Phase is a stage of the question pipeline.
type Phase string

const (
	PhaseGenerate Phase = "generate"
	PhasePrepare  Phase = "prepare"
	PhaseRender   Phase = "render"
	PhaseParse    Phase = "parse"
	PhaseGrade    Phase = "grade"
	PhaseTest     Phase = "test"
	PhaseFile     Phase = "file"
)

// Phases lists every phase in pipeline order.
var Phases = []Phase{PhaseGenerate, PhasePrepare, PhaseRender, PhaseParse, PhaseGrade, PhaseTest, PhaseFile}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	for _, q := range Phases {
		if p == q {
			return true
		}
	}
	return false
}

// Panel selects which view render produces.
type Panel string

const (
	PanelQuestion   Panel = "question"
	PanelSubmission Panel = "submission"
	PanelAnswer     Panel = "answer"
)

// TestType selects the kind of submission the test phase synthesizes.
type TestType string

const (
	TestCorrect   TestType = "correct"
	TestIncorrect TestType = "incorrect"
	TestInvalid   TestType = "invalid"
)

// TestTypes lists the synthesized submission kinds.
var TestTypes = []TestType{TestCorrect, TestIncorrect, TestInvalid}

// Keys of the data dictionary.
const (
	KeyParams              = "params"
	KeyCorrectAnswers      = "correct_answers"
	KeyVariantSeed         = "variant_seed"
	KeyOptions             = "options"
	KeySubmittedAnswers    = "submitted_answers"
	KeyFormatErrors        = "format_errors"
	KeyRawSubmittedAnswers = "raw_submitted_answers"
	KeyPartialScores       = "partial_scores"
	KeyScore               = "score"
	KeyFeedback            = "feedback"
	KeyEditable            = "editable"
	KeyManualGrading       = "manual_grading"
	KeyPanel               = "panel"
	KeyNumValidSubmissions = "num_valid_submissions"
	KeyGradable            = "gradable"
	KeyFilename            = "filename"
	KeyTestType            = "test_type"
	KeyExtensions          = "extensions"
)

// Data is the per-variant dictionary passed to controllers.
// Values are JSON-like: maps with string keys, slices, strings, numbers,
// booleans and nil.
type Data map[string]any

// Map returns d[key] as a map, or nil when absent or of another type.
func (d Data) Map(key string) map[string]any {
	m, _ := d[key].(map[string]any)
	return m
}

func (d Data) Params() map[string]any              { return d.Map(KeyParams) }
func (d Data) CorrectAnswers() map[string]any      { return d.Map(KeyCorrectAnswers) }
func (d Data) SubmittedAnswers() map[string]any    { return d.Map(KeySubmittedAnswers) }
func (d Data) RawSubmittedAnswers() map[string]any { return d.Map(KeyRawSubmittedAnswers) }
func (d Data) FormatErrors() map[string]any        { return d.Map(KeyFormatErrors) }
func (d Data) PartialScores() map[string]any       { return d.Map(KeyPartialScores) }
func (d Data) Feedback() map[string]any            { return d.Map(KeyFeedback) }
func (d Data) Options() map[string]any             { return d.Map(KeyOptions) }

// Extensions returns the extension namespaces injected for the current call.
func (d Data) Extensions() map[string]map[string]any {
	switch v := d[KeyExtensions].(type) {
	case map[string]map[string]any:
		return v
	case map[string]any:
		out := make(map[string]map[string]any, len(v))
		for name, ns := range v {
			if m, ok := ns.(map[string]any); ok {
				out[name] = m
			}
		}
		return out
	}
	return nil
}

// String returns d[key] as a string.
func (d Data) String(key string) string {
	s, _ := d[key].(string)
	return s
}

// Bool returns d[key] as a boolean.
func (d Data) Bool(key string) bool {
	b, _ := d[key].(bool)
	return b
}

func (d Data) Panel() Panel       { return Panel(d.String(KeyPanel)) }
func (d Data) TestType() TestType { return TestType(d.String(KeyTestType)) }
func (d Data) Editable() bool     { return d.Bool(KeyEditable) }
func (d Data) Gradable() bool     { return d.Bool(KeyGradable) }

// VariantSeed returns the variant seed.
func (d Data) VariantSeed() int64 {
	v, _ := Number(d[KeyVariantSeed])
	return int64(v)
}

// Score returns the aggregate score if one is set.
func (d Data) Score() (float64, bool) {
	return Number(d[KeyScore])
}

// SetScore sets the aggregate score.
func (d Data) SetScore(v float64) { d[KeyScore] = v }

// PendingScore is the score data carries until a controller assigns one.
// Any assignment stores a plain number in its place.
type PendingScore float64

// ScoreSet reports whether score holds an assigned value.
func (d Data) ScoreSet() bool {
	v, ok := d[KeyScore]
	if !ok {
		return false
	}
	_, pending := v.(PendingScore)
	return !pending
}

// AddFormatError appends msg to the format errors recorded for name.
func (d Data) AddFormatError(name, msg string) {
	fe := d.FormatErrors()
	if fe == nil {
		return
	}
	msgs := FormatErrorMessages(fe[name])
	out := make([]any, 0, len(msgs)+1)
	for _, m := range msgs {
		out = append(out, m)
	}
	fe[name] = append(out, msg)
}

// HasFormatError reports whether a non-empty format error is recorded for name.
func (d Data) HasFormatError(name string) bool {
	return len(FormatErrorMessages(d.FormatErrors()[name])) > 0
}

// FormatErrorMessages flattens a format_errors value to its messages.
func FormatErrorMessages(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PartialScore is one entry of partial_scores.
type PartialScore struct {
	Score    *float64
	Weight   float64 // zero means unset; aggregation treats it as 1
	Feedback any
}

// Scored builds a partial score with the given score and weight.
func Scored(score, weight float64) PartialScore {
	return PartialScore{Score: &score, Weight: weight}
}

// EffectiveWeight returns the weight used for aggregation.
func (p PartialScore) EffectiveWeight() float64 {
	if p.Weight <= 0 {
		return 1
	}
	return p.Weight
}

func (p PartialScore) value() map[string]any {
	m := map[string]any{}
	if p.Score != nil {
		m["score"] = *p.Score
	} else {
		m["score"] = nil
	}
	if p.Weight > 0 {
		m["weight"] = p.Weight
	}
	if p.Feedback != nil {
		m["feedback"] = p.Feedback
	}
	return m
}

// SetPartialScore records the grading outcome for name.
func (d Data) SetPartialScore(name string, p PartialScore) {
	ps := d.PartialScores()
	if ps == nil {
		return
	}
	ps[name] = p.value()
}

// PartialScore returns the grading outcome recorded for name.
func (d Data) PartialScore(name string) (PartialScore, bool) {
	return ParsePartialScore(d.PartialScores()[name])
}

// ParsePartialScore reads a partial_scores entry.
func ParsePartialScore(v any) (PartialScore, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return PartialScore{}, false
	}
	var p PartialScore
	if s, ok := Number(m["score"]); ok {
		p.Score = &s
	}
	if w, ok := Number(m["weight"]); ok {
		p.Weight = w
	}
	p.Feedback = m["feedback"]
	return p, true
}

// Number converts a JSON-like numeric value to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case PendingScore:
		return float64(n), true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Rand returns a generator seeded from the variant seed and salt, so each
// caller gets its own reproducible stream.
func (d Data) Rand(salt string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(salt))
	return rand.New(rand.NewPCG(uint64(d.VariantSeed()), h.Sum64()))
}
