package elements

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/htmlwalk"
	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// MultipleChoice offers its el-answer children as radio options, exactly
// one of them marked correct.
type MultipleChoice struct{}

type choice struct {
	html    string
	correct bool
}

type choiceSettings struct {
	name       string
	fixedOrder bool
	weight     float64
}

func choiceAttrs(call *element.Call) (choiceSettings, error) {
	var s choiceSettings
	var err error
	if s.name, err = call.Attrs.Required(element.AnswersNameAttr); err != nil {
		return s, err
	}
	if s.fixedOrder, err = call.Attrs.Bool("fixed-order", false); err != nil {
		return s, err
	}
	if s.weight, err = weight(call); err != nil {
		return s, err
	}
	return s, nil
}

// choices reads the el-answer children in document order.
func choices(call *element.Call) ([]choice, error) {
	if call.Node == nil {
		return nil, contentError(call, "", "element has no content")
	}
	var out []choice
	correct := 0
	for c := call.Node.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != AnswerTag {
			continue
		}
		ok, err := isCorrect(c)
		if err != nil {
			return nil, err
		}
		if ok {
			correct++
		}
		inner, err := htmlwalk.Inner(c)
		if err != nil {
			return nil, err
		}
		out = append(out, choice{html: strings.TrimSpace(inner), correct: ok})
	}
	if len(out) == 0 {
		return nil, contentError(call, "", "at least one %s is required", AnswerTag)
	}
	if correct != 1 {
		return nil, contentError(call, "", "exactly one %s must be correct, found %d", AnswerTag, correct)
	}
	return out, nil
}

// isCorrect reads the correct attribute of an el-answer. A bare attribute
// counts as true.
func isCorrect(n *html.Node) (bool, error) {
	v, ok := htmlwalk.Attr(n, "correct")
	if !ok {
		return false, nil
	}
	if strings.TrimSpace(v) == "" {
		return true, nil
	}
	return element.NewAttributes(AnswerTag, map[string]string{"correct": v}, nil).Bool("correct", false)
}

func choiceKey(i int) string {
	if i < 26 {
		return string(rune('a' + i))
	}
	return fmt.Sprintf("%s%d", string(rune('a'+i%26)), i/26)
}

func (MultipleChoice) Prepare(_ context.Context, call *element.Call) error {
	s, err := choiceAttrs(call)
	if err != nil {
		return err
	}
	list, err := choices(call)
	if err != nil {
		return err
	}
	if !s.fixedOrder {
		call.Data.Rand(s.name).Shuffle(len(list), func(i, j int) { list[i], list[j] = list[j], list[i] })
	}
	opts := make([]any, len(list))
	for i, c := range list {
		key := choiceKey(i)
		opts[i] = map[string]any{"key": key, "html": c.html}
		if c.correct {
			call.Data.CorrectAnswers()[s.name] = key
		}
	}
	call.Data.Params()[s.name] = opts
	return nil
}

// options returns the prepared choices for name.
func options(data qdata.Data, name string) []map[string]any {
	list, _ := data.Params()[name].([]any)
	out := make([]map[string]any, 0, len(list))
	for _, v := range list {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func validKey(data qdata.Data, name, key string) bool {
	for _, o := range options(data, name) {
		if o["key"] == key {
			return true
		}
	}
	return false
}

func (MultipleChoice) Render(_ context.Context, call *element.Call) (string, error) {
	s, err := choiceAttrs(call)
	if err != nil {
		return "", err
	}
	ctx := panelContext(call, s.name)
	selected, _ := call.Data.SubmittedAnswers()[s.name].(string)
	if call.Data.Panel() == qdata.PanelQuestion {
		selected, _ = call.Data.RawSubmittedAnswers()[s.name].(string)
	}
	want, _ := call.Data.CorrectAnswers()[s.name].(string)

	var items []map[string]any
	for _, o := range options(call.Data, s.name) {
		key, _ := o["key"].(string)
		item := map[string]any{
			"key":      key,
			"html":     o["html"],
			"selected": key == selected,
			"correct":  key == want,
		}
		switch call.Data.Panel() {
		case qdata.PanelSubmission:
			if key != selected {
				continue
			}
		case qdata.PanelAnswer:
			if key != want {
				continue
			}
		}
		items = append(items, item)
	}
	if call.Data.Panel() == qdata.PanelAnswer && len(items) == 0 {
		return "", nil
	}
	ctx["options"] = items
	return render(call, ctx)
}

func (MultipleChoice) Parse(_ context.Context, call *element.Call) error {
	s, err := choiceAttrs(call)
	if err != nil {
		return err
	}
	raw, _ := rawSubmission(call, s.name)
	key := strings.TrimSpace(raw)
	submitted := call.Data.SubmittedAnswers()
	switch {
	case key == "":
		submitted[s.name] = nil
		call.Data.AddFormatError(s.name, MsgNoSubmission)
	case !validKey(call.Data, s.name, key):
		submitted[s.name] = nil
		call.Data.AddFormatError(s.name, fmt.Sprintf(msgChoice, key))
	default:
		submitted[s.name] = key
	}
	return nil
}

func (MultipleChoice) Grade(_ context.Context, call *element.Call) error {
	s, err := choiceAttrs(call)
	if err != nil {
		return err
	}
	want, ok := call.Data.CorrectAnswers()[s.name].(string)
	if !ok {
		return nil
	}
	score := 0.0
	if got, _ := call.Data.SubmittedAnswers()[s.name].(string); got == want {
		score = 1
	}
	call.Data.SetPartialScore(s.name, qdata.Scored(score, s.weight))
	return nil
}

func (MultipleChoice) Test(_ context.Context, call *element.Call) error {
	s, err := choiceAttrs(call)
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
		for _, o := range options(call.Data, s.name) {
			if key, _ := o["key"].(string); key != want {
				raw[s.name] = key
				call.Data.SetPartialScore(s.name, qdata.Scored(0, s.weight))
				return nil
			}
		}
		// A single option cannot be answered incorrectly; submit it anyway.
		raw[s.name] = want
		call.Data.SetPartialScore(s.name, qdata.Scored(1, s.weight))
	case qdata.TestInvalid:
		raw[s.name] = "zz"
		call.Data.AddFormatError(s.name, fmt.Sprintf(msgChoice, "zz"))
	}
	return nil
}
