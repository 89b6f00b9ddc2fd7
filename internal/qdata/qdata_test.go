package qdata_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-elements/internal/qdata"
	"github.com/p-n-ai/pai-elements/internal/qerr"
)

func renderData() qdata.Data {
	return qdata.ForPhase(qdata.PhaseRender, qdata.Data{
		qdata.KeyParams:         map[string]any{"a": 2, "b": 3.5},
		qdata.KeyCorrectAnswers: map[string]any{"x": 42},
		qdata.KeyVariantSeed:    7,
		qdata.KeyOptions:        map[string]any{"base_url": "/pl"},
	})
}

func TestForPhase_Keys(t *testing.T) {
	for _, phase := range qdata.Phases {
		d := qdata.ForPhase(phase, nil)
		keys := qdata.KeysFor(phase)
		if len(d) != len(keys) {
			t.Errorf("ForPhase(%s) has %d keys, want %d", phase, len(d), len(keys))
		}
		for _, k := range keys {
			if _, ok := d[k]; !ok {
				t.Errorf("ForPhase(%s) missing %s", phase, k)
			}
		}
		if err := qdata.Validate(d, d.Clone(), phase); err != nil {
			t.Errorf("Validate(zero %s) error = %v", phase, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		phase   qdata.Phase
		mutate  func(d qdata.Data)
		wantErr string
	}{
		{
			name:   "unchanged",
			phase:  qdata.PhaseRender,
			mutate: func(qdata.Data) {},
		},
		{
			name:    "extra key",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d["bogus"] = 1 },
			wantErr: "data contains extra keys: bogus",
		},
		{
			name:    "missing key",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { delete(d, qdata.KeyFeedback) },
			wantErr: "data is missing keys: feedback",
		},
		{
			name:    "nil counts as missing",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d[qdata.KeyParams] = nil },
			wantErr: "data is missing keys: params",
		},
		{
			name:    "illegal options write",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d[qdata.KeyOptions] = map[string]any{} },
			wantErr: "data[options] has been illegally modified",
		},
		{
			name:    "params read-only in render",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d.Params()["c"] = 1 },
			wantErr: "data[params] has been illegally modified",
		},
		{
			name:    "wrong type",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d[qdata.KeyEditable] = "yes" },
			wantErr: "data[editable] has an invalid value",
		},
		{
			name:    "seed must be integer",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d[qdata.KeyVariantSeed] = 7.5 },
			wantErr: "data[variant_seed] has an invalid value",
		},
		{
			name:    "panel enum",
			phase:   qdata.PhaseRender,
			mutate:  func(d qdata.Data) { d[qdata.KeyPanel] = "sidebar" },
			wantErr: "data[panel] has an invalid value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := renderData()
			next := old.Clone()
			tt.mutate(next)
			err := qdata.Validate(old, next, tt.phase)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want %q", tt.wantErr)
			}
			if !errors.Is(err, qerr.ErrContract) {
				t.Errorf("error kind = %v, want contract", qerr.KindOf(err))
			}
			if !strings.HasPrefix(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want prefix %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_WritableInGrade(t *testing.T) {
	old := qdata.ForPhase(qdata.PhaseGrade, nil)
	next := old.Clone()
	next.SetPartialScore("x", qdata.Scored(1, 2))
	next.SetScore(1)
	next.Feedback()["x"] = "well done"
	next.Params()["seen"] = true
	if err := qdata.Validate(old, next, qdata.PhaseGrade); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestScoreSet(t *testing.T) {
	data := qdata.ForPhase(qdata.PhaseGrade, nil)
	if data.ScoreSet() {
		t.Fatal("ScoreSet() = true for fresh grade data")
	}
	if s, ok := data.Score(); !ok || s != 0 {
		t.Errorf("Score() = %v, %v, want 0, true", s, ok)
	}
	if err := qdata.Validate(data, data.Clone(), qdata.PhaseGrade); err != nil {
		t.Errorf("Validate() of a pending score error = %v", err)
	}
	if c := data.Clone(); c.ScoreSet() {
		t.Error("Clone() lost the pending score")
	}

	data.SetScore(0)
	if !data.ScoreSet() {
		t.Error("ScoreSet() = false after SetScore(0)")
	}
}

func TestValidate_PartialScoreBounds(t *testing.T) {
	tests := []struct {
		name  string
		entry map[string]any
		ok    bool
	}{
		{"in range", map[string]any{"score": 0.5, "weight": 2}, true},
		{"null score", map[string]any{"score": nil}, true},
		{"above one", map[string]any{"score": 1.5}, false},
		{"negative", map[string]any{"score": -0.1}, false},
		{"zero weight", map[string]any{"score": 1, "weight": 0}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := qdata.ForPhase(qdata.PhaseGrade, nil)
			next := old.Clone()
			next.PartialScores()["x"] = tt.entry
			err := qdata.Validate(old, next, qdata.PhaseGrade)
			if (err == nil) != tt.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestValidate_FormatErrorShapes(t *testing.T) {
	old := qdata.ForPhase(qdata.PhaseParse, nil)
	next := old.Clone()
	next.FormatErrors()["a"] = "bad"
	next.FormatErrors()["b"] = []any{"bad", "worse"}
	if err := qdata.Validate(old, next, qdata.PhaseParse); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	next.FormatErrors()["c"] = 3
	if err := qdata.Validate(old, next, qdata.PhaseParse); err == nil {
		t.Fatal("numeric format error should be rejected")
	}
}

func TestValidate_Extensions(t *testing.T) {
	old := qdata.ForPhase(qdata.PhasePrepare, nil)
	old[qdata.KeyExtensions] = map[string]map[string]any{"ext": {"f": func() {}}}
	next := old.Clone()
	if err := qdata.Validate(old, next, qdata.PhasePrepare); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	next[qdata.KeyExtensions] = map[string]map[string]any{}
	if err := qdata.Validate(old, next, qdata.PhasePrepare); err == nil {
		t.Fatal("dropping an extension namespace should be rejected")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"int vs float", 5, 5.0, true},
		{"map order", map[string]any{"a": 1, "b": 2}, map[string]any{"b": 2, "a": 1}, true},
		{"slice order", []any{1, 2}, []any{2, 1}, false},
		{"typed slice", []string{"x"}, []any{"x"}, true},
		{"nested", map[string]any{"a": []any{map[string]any{"k": 1}}}, map[string]any{"a": []any{map[string]any{"k": 1.0}}}, true},
		{"different", "a", "b", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := qdata.Equal(tt.a, tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestClone_Independent(t *testing.T) {
	d := renderData()
	c := d.Clone()
	c.Params()["a"] = 100
	c.CorrectAnswers()["y"] = []any{1}
	if d.Params()["a"] != 2 {
		t.Errorf("original params changed: %v", d.Params())
	}
	if _, ok := d.CorrectAnswers()["y"]; ok {
		t.Error("original correct_answers changed")
	}
}

func TestFormatErrors(t *testing.T) {
	d := qdata.ForPhase(qdata.PhaseParse, nil)
	if d.HasFormatError("x") {
		t.Fatal("fresh data should have no format errors")
	}
	d.AddFormatError("x", "first")
	d.AddFormatError("x", "second")
	got := qdata.FormatErrorMessages(d.FormatErrors()["x"])
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("messages = %v", got)
	}
	d.FormatErrors()["y"] = ""
	if d.HasFormatError("y") {
		t.Error("empty message should not count as a format error")
	}
}

func TestPartialScore_RoundTrip(t *testing.T) {
	d := qdata.ForPhase(qdata.PhaseGrade, nil)
	d.SetPartialScore("x", qdata.PartialScore{Score: ptr(0.25), Weight: 3, Feedback: "close"})
	ps, ok := d.PartialScore("x")
	if !ok || ps.Score == nil || *ps.Score != 0.25 || ps.Weight != 3 || ps.Feedback != "close" {
		t.Errorf("PartialScore() = %+v, %v", ps, ok)
	}
	if (qdata.PartialScore{}).EffectiveWeight() != 1 {
		t.Error("unset weight should default to 1")
	}
}

func TestDigest_Stable(t *testing.T) {
	a, err := qdata.Digest(map[string]any{"a": 1, "b": []any{"x"}}, "question")
	if err != nil {
		t.Fatalf("Digest() error = %v", err)
	}
	b, _ := qdata.Digest(map[string]any{"b": []any{"x"}, "a": 1.0}, "question")
	if a != b {
		t.Errorf("digests differ: %s vs %s", a, b)
	}
	c, _ := qdata.Digest(map[string]any{"a": 2}, "question")
	if a == c {
		t.Error("different inputs should digest differently")
	}
}

func TestRand_Deterministic(t *testing.T) {
	d := renderData()
	r1 := d.Rand("x")
	r2 := d.Rand("x")
	for i := 0; i < 5; i++ {
		if r1.IntN(1000) != r2.IntN(1000) {
			t.Fatal("same seed and salt should produce the same stream")
		}
	}
}

func ptr(f float64) *float64 { return &f }
