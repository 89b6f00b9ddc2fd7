package elements

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// NumberInput is a numeric answer graded within relative and absolute
// tolerances.
type NumberInput struct{}

type numberSettings struct {
	name   string
	rtol   float64
	atol   float64
	weight float64
}

func numberAttrs(call *element.Call) (numberSettings, error) {
	var s numberSettings
	var err error
	if s.name, err = call.Attrs.Required(element.AnswersNameAttr); err != nil {
		return s, err
	}
	if s.rtol, err = call.Attrs.Float("rtol", 1e-2); err != nil {
		return s, err
	}
	if s.atol, err = call.Attrs.Float("atol", 1e-8); err != nil {
		return s, err
	}
	if s.rtol < 0 || s.atol < 0 {
		return s, contentError(call, "rtol", "tolerances must not be negative")
	}
	if s.weight, err = weight(call); err != nil {
		return s, err
	}
	return s, nil
}

// within reports whether got matches want under the tolerances.
func (s numberSettings) within(got, want float64) bool {
	return math.Abs(got-want) <= s.atol+s.rtol*math.Abs(want)
}

func parseNumber(raw string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func (NumberInput) Prepare(_ context.Context, call *element.Call) error {
	s, err := numberAttrs(call)
	if err != nil {
		return err
	}
	if !call.Attrs.Has("correct-answer") {
		return nil
	}
	raw := call.Attrs.String("correct-answer", "")
	want, ok := parseNumber(raw)
	if !ok {
		return contentError(call, "correct-answer", "attribute correct-answer must be a number, got %q", raw)
	}
	call.Data.CorrectAnswers()[s.name] = want
	return nil
}

func (NumberInput) Render(_ context.Context, call *element.Call) (string, error) {
	s, err := numberAttrs(call)
	if err != nil {
		return "", err
	}
	ctx := panelContext(call, s.name)
	switch call.Data.Panel() {
	case qdata.PanelQuestion:
		ctx["value"] = text(call.Data.RawSubmittedAnswers()[s.name])
	case qdata.PanelSubmission:
		if v, ok := call.Data.SubmittedAnswers()[s.name]; ok && v != nil {
			ctx["value"] = text(v)
		} else {
			ctx["value"] = text(call.Data.RawSubmittedAnswers()[s.name])
		}
	case qdata.PanelAnswer:
		want, ok := qdata.Number(call.Data.CorrectAnswers()[s.name])
		if !ok {
			return "", nil
		}
		ctx["correct"] = formatNumber(want)
	}
	return render(call, ctx)
}

func (NumberInput) Parse(_ context.Context, call *element.Call) error {
	s, err := numberAttrs(call)
	if err != nil {
		return err
	}
	submitted := call.Data.SubmittedAnswers()
	if _, ok := qdata.Number(submitted[s.name]); ok {
		return nil
	}
	raw, _ := rawSubmission(call, s.name)
	if strings.TrimSpace(raw) == "" {
		submitted[s.name] = nil
		call.Data.AddFormatError(s.name, MsgNoSubmission)
		return nil
	}
	f, ok := parseNumber(raw)
	if !ok {
		submitted[s.name] = nil
		call.Data.AddFormatError(s.name, fmt.Sprintf(msgNumber, raw))
		return nil
	}
	submitted[s.name] = f
	return nil
}

func (NumberInput) Grade(_ context.Context, call *element.Call) error {
	s, err := numberAttrs(call)
	if err != nil {
		return err
	}
	want, ok := qdata.Number(call.Data.CorrectAnswers()[s.name])
	if !ok {
		return nil
	}
	got, ok := qdata.Number(call.Data.SubmittedAnswers()[s.name])
	score := 0.0
	if ok && s.within(got, want) {
		score = 1
	}
	call.Data.SetPartialScore(s.name, qdata.Scored(score, s.weight))
	return nil
}

func (NumberInput) Test(_ context.Context, call *element.Call) error {
	s, err := numberAttrs(call)
	if err != nil {
		return err
	}
	want, ok := qdata.Number(call.Data.CorrectAnswers()[s.name])
	if !ok {
		return nil
	}
	raw := call.Data.RawSubmittedAnswers()
	switch call.Data.TestType() {
	case qdata.TestCorrect:
		raw[s.name] = formatNumber(want)
		call.Data.SetPartialScore(s.name, qdata.Scored(1, s.weight))
	case qdata.TestIncorrect:
		raw[s.name] = formatNumber(want + 1 + 2*(s.atol+s.rtol*math.Abs(want)))
		call.Data.SetPartialScore(s.name, qdata.Scored(0, s.weight))
	case qdata.TestInvalid:
		bad := "1,2x"
		raw[s.name] = bad
		call.Data.AddFormatError(s.name, fmt.Sprintf(msgNumber, bad))
	}
	return nil
}
