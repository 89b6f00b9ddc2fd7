package elements

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// StringInput is a free-text answer compared after Unicode normalization.
type StringInput struct{}

type stringSettings struct {
	name       string
	ignoreCase bool
	weight     float64
}

func stringAttrs(call *element.Call) (stringSettings, error) {
	var s stringSettings
	var err error
	if s.name, err = call.Attrs.Required(element.AnswersNameAttr); err != nil {
		return s, err
	}
	if s.ignoreCase, err = call.Attrs.Bool("ignore-case", false); err != nil {
		return s, err
	}
	if s.weight, err = weight(call); err != nil {
		return s, err
	}
	return s, nil
}

// normalize puts s in NFC with surrounding space removed, case-folded when
// the element ignores case.
func (s stringSettings) normalize(v string) string {
	v = strings.TrimSpace(norm.NFC.String(v))
	if s.ignoreCase {
		v = cases.Fold().String(v)
	}
	return v
}

func (StringInput) Prepare(_ context.Context, call *element.Call) error {
	s, err := stringAttrs(call)
	if err != nil {
		return err
	}
	if call.Attrs.Has("correct-answer") {
		call.Data.CorrectAnswers()[s.name] = norm.NFC.String(call.Attrs.String("correct-answer", ""))
	}
	return nil
}

func (StringInput) Render(_ context.Context, call *element.Call) (string, error) {
	s, err := stringAttrs(call)
	if err != nil {
		return "", err
	}
	ctx := panelContext(call, s.name)
	switch call.Data.Panel() {
	case qdata.PanelQuestion:
		ctx["value"] = text(call.Data.RawSubmittedAnswers()[s.name])
	case qdata.PanelSubmission:
		ctx["value"] = text(call.Data.SubmittedAnswers()[s.name])
	case qdata.PanelAnswer:
		want, ok := call.Data.CorrectAnswers()[s.name].(string)
		if !ok {
			return "", nil
		}
		ctx["correct"] = want
	}
	return render(call, ctx)
}

func (StringInput) Parse(_ context.Context, call *element.Call) error {
	s, err := stringAttrs(call)
	if err != nil {
		return err
	}
	raw, _ := rawSubmission(call, s.name)
	v := strings.TrimSpace(norm.NFC.String(raw))
	if v == "" {
		call.Data.SubmittedAnswers()[s.name] = nil
		call.Data.AddFormatError(s.name, MsgNoSubmission)
		return nil
	}
	call.Data.SubmittedAnswers()[s.name] = v
	return nil
}

func (StringInput) Grade(_ context.Context, call *element.Call) error {
	s, err := stringAttrs(call)
	if err != nil {
		return err
	}
	want, ok := call.Data.CorrectAnswers()[s.name].(string)
	if !ok {
		return nil
	}
	got, _ := call.Data.SubmittedAnswers()[s.name].(string)
	score := 0.0
	if s.normalize(got) == s.normalize(want) {
		score = 1
	}
	call.Data.SetPartialScore(s.name, qdata.Scored(score, s.weight))
	return nil
}

func (StringInput) Test(_ context.Context, call *element.Call) error {
	s, err := stringAttrs(call)
	if err != nil {
		return err
	}
	want, ok := call.Data.CorrectAnswers()[s.name].(string)
	if !ok {
		return nil
	}
	raw := call.Data.RawSubmittedAnswers()
	switch call.Data.TestType() {
	case qdata.TestCorrect:
		raw[s.name] = want
		call.Data.SetPartialScore(s.name, qdata.Scored(1, s.weight))
	case qdata.TestIncorrect:
		raw[s.name] = "not " + want
		call.Data.SetPartialScore(s.name, qdata.Scored(0, s.weight))
	case qdata.TestInvalid:
		raw[s.name] = ""
		call.Data.AddFormatError(s.name, MsgNoSubmission)
	}
	return nil
}
