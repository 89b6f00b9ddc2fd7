// Package elements implements the core elements shipped in the
// repository's elements/ directory.
package elements

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/qdata"
	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/tmpl"
)

// Core element tags.
const (
	NumberInputTag     = "el-number-input"
	StringInputTag     = "el-string-input"
	MultipleChoiceTag  = "el-multiple-choice"
	AnswerTag          = "el-answer"
	QuestionPanelTag   = "el-question-panel"
	SubmissionPanelTag = "el-submission-panel"
	AnswerPanelTag     = "el-answer-panel"
)

// Messages recorded as format errors.
const (
	MsgNoSubmission = "No submitted answer."
	msgNumber       = "Invalid format for a number: %q"
	msgChoice       = "Invalid choice: %q"
)

// Register adds the core element controllers to c.
func Register(c *element.Catalog) {
	c.Register(NumberInputTag, element.Static(NumberInput{}))
	c.Register(StringInputTag, element.Static(StringInput{}))
	c.Register(MultipleChoiceTag, element.Static(MultipleChoice{}))
	c.Register(QuestionPanelTag, element.Static(Panel{Show: qdata.PanelQuestion}))
	c.Register(SubmissionPanelTag, element.Static(Panel{Show: qdata.PanelSubmission}))
	c.Register(AnswerPanelTag, element.Static(Panel{Show: qdata.PanelAnswer}))
}

// render expands the element's template, <tag>.mustache in its directory.
func render(call *element.Call, ctx map[string]any) (string, error) {
	out, err := tmpl.RenderFile(filepath.Join(call.Dir, call.Tag+".mustache"), ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// panelContext starts a template context with the current panel set.
func panelContext(call *element.Call, name string) map[string]any {
	panel := call.Data.Panel()
	ctx := map[string]any{
		"name":       name,
		"question":   panel == qdata.PanelQuestion,
		"submission": panel == qdata.PanelSubmission,
		"answer":     panel == qdata.PanelAnswer,
		"editable":   call.Data.Editable(),
		"label":      call.Attrs.String("label", ""),
	}
	if msgs := qdata.FormatErrorMessages(call.Data.FormatErrors()[name]); len(msgs) > 0 {
		ctx["format_error"] = strings.Join(msgs, " ")
	}
	if p, ok := call.Data.PartialScore(name); ok && p.Score != nil {
		ctx["has_score"] = true
		ctx["percent"] = int(*p.Score*100 + 0.5)
	}
	return ctx
}

// rawSubmission returns the submitted text for name.
func rawSubmission(call *element.Call, name string) (string, bool) {
	v, ok := call.Data.SubmittedAnswers()[name]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func weight(call *element.Call) (float64, error) {
	w, err := call.Attrs.Float("weight", 1)
	if err != nil {
		return 0, err
	}
	if w <= 0 {
		return 0, contentError(call, "weight", "attribute weight must be positive")
	}
	return w, nil
}

func contentError(call *element.Call, attribute, format string, args ...any) error {
	return qerr.Content(call.Tag, attribute, format, args...)
}

// text renders a data value for a template.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	if f, ok := qdata.Number(v); ok {
		return formatNumber(f)
	}
	return fmt.Sprint(v)
}
