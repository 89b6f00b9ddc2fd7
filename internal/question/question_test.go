package question_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/events"
	"github.com/p-n-ai/pai-elements/internal/platform/cache"
	"github.com/p-n-ai/pai-elements/internal/qdata"
	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/question"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// numAnswer is a numeric input with an exact correct answer.
type numAnswer struct{}

func (numAnswer) Prepare(_ context.Context, call *element.Call) error {
	name, err := call.Attrs.Required(element.AnswersNameAttr)
	if err != nil {
		return err
	}
	v, err := call.Attrs.Float("correct-answer", 0)
	if err != nil {
		return err
	}
	call.Data.CorrectAnswers()[name] = v
	return nil
}

func (numAnswer) Render(_ context.Context, call *element.Call) (string, error) {
	name := call.Attrs.String(element.AnswersNameAttr, "")
	switch call.Data.Panel() {
	case qdata.PanelAnswer:
		return fmt.Sprintf(`<span class="answer">%v</span>`, call.Data.CorrectAnswers()[name]), nil
	case qdata.PanelSubmission:
		return fmt.Sprintf(`<span class="submitted">%v</span>`, call.Data.SubmittedAnswers()[name]), nil
	}
	return fmt.Sprintf(`<input name="%s">`, name), nil
}

func (numAnswer) Parse(_ context.Context, call *element.Call) error {
	name := call.Attrs.String(element.AnswersNameAttr, "")
	raw, _ := call.Data.SubmittedAnswers()[name].(string)
	if strings.TrimSpace(raw) == "" {
		call.Data.AddFormatError(name, "No submitted answer.")
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		call.Data.AddFormatError(name, fmt.Sprintf("Invalid format for a number: %q", raw))
		call.Data.SubmittedAnswers()[name] = nil
		return nil
	}
	call.Data.SubmittedAnswers()[name] = f
	return nil
}

func (numAnswer) Grade(_ context.Context, call *element.Call) error {
	name := call.Attrs.String(element.AnswersNameAttr, "")
	want, _ := qdata.Number(call.Data.CorrectAnswers()[name])
	got, ok := qdata.Number(call.Data.SubmittedAnswers()[name])
	w, err := call.Attrs.Float("weight", 1)
	if err != nil {
		return err
	}
	score := 0.0
	if ok && math.Abs(got-want) < 1e-9 {
		score = 1
	}
	call.Data.SetPartialScore(name, qdata.Scored(score, w))
	return nil
}

func (numAnswer) Test(_ context.Context, call *element.Call) error {
	name := call.Attrs.String(element.AnswersNameAttr, "")
	want, _ := qdata.Number(call.Data.CorrectAnswers()[name])
	w, _ := call.Attrs.Float("weight", 1)
	raw := call.Data.RawSubmittedAnswers()
	switch call.Data.TestType() {
	case qdata.TestCorrect:
		raw[name] = strconv.FormatFloat(want, 'g', -1, 64)
		call.Data.SetPartialScore(name, qdata.Scored(1, w))
	case qdata.TestIncorrect:
		raw[name] = strconv.FormatFloat(want+1, 'g', -1, 64)
		call.Data.SetPartialScore(name, qdata.Scored(0, w))
	case qdata.TestInvalid:
		raw[name] = "abc"
		call.Data.AddFormatError(name, `Invalid format for a number: "abc"`)
	}
	return nil
}

type fixture struct {
	engine  *question.Engine
	catalog *element.Catalog
	events  *events.MemoryLogger
	cache   *cache.MemoryRenderCache
	root    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	core := filepath.Join(root, "elements")
	writeFile(t, filepath.Join(core, "el-num", "info.json"), `{
		"controller": "el-num",
		"dependencies": {"elementScripts": ["num.js"]},
		"attributes": {"required": ["answers-name"], "optional": {"correct-answer": "0", "weight": "1"}}
	}`)
	writeFile(t, filepath.Join(core, "el-add", "info.json"), `{"controller": "el-add"}`)
	writeFile(t, filepath.Join(core, "el-bad", "info.json"), `{"controller": "el-bad"}`)
	writeFile(t, filepath.Join(core, "el-slow", "info.json"), `{"controller": "el-slow"}`)
	writeFile(t, filepath.Join(core, "el-file", "info.json"), `{"controller": "el-file"}`)
	writeFile(t, filepath.Join(core, "el-liar", "info.json"), `{"controller": "el-liar"}`)

	catalog := element.NewCatalog()
	catalog.Register("el-num", element.Static(numAnswer{}))
	catalog.Register("el-add", element.Static(element.Funcs{
		GenerateFunc: func(_ context.Context, call *element.Call) error {
			a, err := call.Attrs.Float("a", 0)
			if err != nil {
				return err
			}
			b, err := call.Attrs.Float("b", 0)
			if err != nil {
				return err
			}
			call.Data.Params()["sum"] = a + b
			call.Data.CorrectAnswers()["sum"] = a + b
			return nil
		},
		RenderFunc: func(_ context.Context, call *element.Call) (string, error) {
			return fmt.Sprintf("<b>%v</b>", call.Data.Params()["sum"]), nil
		},
	}))
	catalog.Register("el-bad", element.Static(element.Funcs{
		RenderFunc: func(_ context.Context, call *element.Call) (string, error) {
			call.Data[qdata.KeyOptions] = map[string]any{}
			return "<i>bad</i>", nil
		},
	}))
	catalog.Register("el-slow", element.Static(element.Funcs{
		RenderFunc: func(ctx context.Context, call *element.Call) (string, error) {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
			return "<i>late</i>", nil
		},
	}))
	catalog.Register("el-file", element.Static(element.Funcs{
		FileFunc: func(_ context.Context, call *element.Call) ([]byte, error) {
			return []byte("file:" + call.Data.String(qdata.KeyFilename)), nil
		},
	}))

	reg, err := element.NewRegistry(element.RegistryConfig{CoreDir: core})
	if err != nil {
		t.Fatal(err)
	}
	mem := events.NewMemoryLogger()
	rc := cache.NewMemoryRenderCache()
	engine := question.NewEngine(question.EngineConfig{
		Loader:  element.NewLoader(reg, element.LoaderConfig{Catalog: catalog}),
		Timeout: 100 * time.Millisecond,
		Cache:   rc,
		Events:  mem,
	})
	return &fixture{engine: engine, catalog: catalog, events: mem, cache: rc, root: root}
}

// question writes a question directory and loads it.
func (f *fixture) question(t *testing.T, name, template, info string) *question.Question {
	t.Helper()
	dir := filepath.Join(f.root, "questions", name)
	if info == "" {
		info = `{"title": "` + name + `"}`
	}
	writeFile(t, filepath.Join(dir, "info.json"), info)
	writeFile(t, filepath.Join(dir, question.TemplateFile), template)
	q, err := question.Load(dir, f.catalog, nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return q
}

func (f *fixture) prepare(t *testing.T, q *question.Question, seed int64) *question.Variant {
	t.Helper()
	v, err := f.engine.PrepareVariant(context.Background(), q, map[string]any{"base_url": "/pl"}, seed)
	if err != nil {
		t.Fatalf("PrepareVariant() error = %v", err)
	}
	return v
}

func TestLoad(t *testing.T) {
	f := newFixture(t)
	f.catalog.Register("adder", element.Static(element.Funcs{}))

	q := f.question(t, "plain", `<p>hi</p>`, "")
	if q.Controller != nil {
		t.Errorf("Controller = %v, want nil without a script", q.Controller)
	}
	if q.ID != "plain" || q.Info.Title != "plain" {
		t.Errorf("ID = %q, Title = %q", q.ID, q.Info.Title)
	}

	q = f.question(t, "scripted", `<p>hi</p>`, `{"title": "Scripted", "server": "adder", "singleVariant": true}`)
	if q.Controller == nil {
		t.Error("Controller = nil, want the catalog controller")
	}
	if !q.Info.SingleVariant {
		t.Error("SingleVariant = false, want true")
	}
}

func TestLoad_Errors(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name     string
		info     string
		template bool
	}{
		{"missing template", `{"title": "x"}`, false},
		{"missing title", `{"topic": "algebra"}`, true},
		{"bad uuid", `{"title": "x", "uuid": "not-a-uuid"}`, true},
		{"unknown server", `{"title": "x", "server": "nope.py"}`, true},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := filepath.Join(f.root, "bad", strconv.Itoa(i))
			writeFile(t, filepath.Join(dir, "info.json"), tt.info)
			if tt.template {
				writeFile(t, filepath.Join(dir, question.TemplateFile), `<p></p>`)
			}
			if _, err := question.Load(dir, f.catalog, nil); err == nil {
				t.Error("Load() error = nil, want error")
			}
		})
	}

	dir := filepath.Join(f.root, "bad", "notemplate")
	writeFile(t, filepath.Join(dir, "info.json"), `{"title": "x"}`)
	if _, err := question.Load(dir, f.catalog, nil); !errors.Is(err, question.ErrNoTemplate) {
		t.Errorf("Load() error = %v, want ErrNoTemplate", err)
	}
}

func TestLoadBank(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "algebra", "sum", "info.yaml"), "title: Sum\ntags: [easy]\n")
	writeFile(t, filepath.Join(root, "algebra", "sum", question.TemplateFile), `<p></p>`)
	writeFile(t, filepath.Join(root, "geometry", "area", "info.json"), `{"title": "Area"}`)
	writeFile(t, filepath.Join(root, "geometry", "area", question.TemplateFile), `<p></p>`)
	writeFile(t, filepath.Join(root, "broken", question.TemplateFile), `<p></p>`)

	bank, err := question.LoadBank(root, element.NewCatalog(), nil)
	if err != nil {
		t.Fatalf("LoadBank() error = %v", err)
	}
	all := bank.All()
	if len(all) != 2 {
		t.Fatalf("All() = %d questions, want 2", len(all))
	}
	if all[0].ID != "algebra/sum" || all[1].ID != "geometry/area" {
		t.Errorf("IDs = %q, %q", all[0].ID, all[1].ID)
	}
	q, ok := bank.Get("algebra/sum")
	if !ok || q.Info.Title != "Sum" || !slices.Equal(q.Info.Tags, []string{"easy"}) {
		t.Errorf("Get(algebra/sum) = %+v, %v", q, ok)
	}
}

func TestCanMove(t *testing.T) {
	tests := []struct {
		from, to question.State
		want     bool
	}{
		{question.StateSeeded, question.StatePrepared, true},
		{question.StatePrepared, question.StateRenderedQuestion, true},
		{question.StatePrepared, question.StateSubmitted, true},
		{question.StatePrepared, question.StateTested, true},
		{question.StateSubmitted, question.StateParsed, true},
		{question.StateParsed, question.StateGraded, true},
		{question.StateParsed, question.StateFinalized, true},
		{question.StateGraded, question.StateRenderedSubmission, true},
		{question.StateTested, question.StateFinalized, true},
		{question.StateSeeded, question.StateRenderedQuestion, false},
		{question.StatePrepared, question.StateRenderedSubmission, false},
		{question.StateGraded, question.StateTested, false},
		{question.StateFinalized, question.StateTested, false},
	}
	for _, tt := range tests {
		if got := question.CanMove(tt.from, tt.to); got != tt.want {
			t.Errorf("CanMove(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPrepareAndRender_Deterministic(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "add", `<p>seed {{variant_seed}}</p><el-add a="2" b="3"></el-add>`, "")

	v1 := f.prepare(t, q, 7)
	v2 := f.prepare(t, q, 7)
	if !qdata.Equal(map[string]any(v1.Data()), map[string]any(v2.Data())) {
		t.Errorf("prepared data differs:\n%v\n%v", v1.Data(), v2.Data())
	}
	if got := v1.Data().Params()["sum"]; got != 5.0 {
		t.Errorf("params.sum = %v, want 5", got)
	}
	if v1.State() != question.StatePrepared {
		t.Errorf("State() = %s, want prepared", v1.State())
	}

	r1, err := f.engine.Render(context.Background(), v1, question.RenderOptions{Panel: qdata.PanelQuestion})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	r2, err := f.engine.Render(context.Background(), v2, question.RenderOptions{Panel: qdata.PanelQuestion})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(r1.HTML, "<b>5</b>") || !strings.Contains(r1.HTML, "seed 7") {
		t.Errorf("HTML = %q, want the sum and the seed", r1.HTML)
	}
	if r1.HTML != r2.HTML {
		t.Errorf("renders differ:\n%q\n%q", r1.HTML, r2.HTML)
	}
	if !r2.Cached {
		t.Error("second identical render was not served from the cache")
	}
	if !slices.Equal(r1.Tags, []string{"el-add"}) {
		t.Errorf("Tags = %v, want [el-add]", r1.Tags)
	}
	if v1.State() != question.StateRenderedQuestion {
		t.Errorf("State() = %s, want rendered_question", v1.State())
	}
}

func TestRender_IllegalMutation(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "bad", `<p>before</p><el-bad></el-bad><p>after</p>`, "")
	v := f.prepare(t, q, 1)

	res, err := f.engine.Render(context.Background(), v, question.RenderOptions{})
	if !errors.Is(err, qerr.ErrContract) {
		t.Fatalf("Render() error = %v, want contract error", err)
	}
	if !strings.Contains(err.Error(), "data[options] has been illegally modified") {
		t.Errorf("error = %q", err.Error())
	}
	if !strings.Contains(res.HTML, `data-category="contract"`) {
		t.Errorf("HTML = %q, want a contract placeholder", res.HTML)
	}
	if !strings.HasPrefix(res.HTML, "<p>before</p>") || !strings.HasSuffix(res.HTML, "<p>after</p>") {
		t.Errorf("surrounding HTML changed: %q", res.HTML)
	}
	if f.cache.Len() != 0 {
		t.Error("failed render was cached")
	}
}

func TestPrepare_MissingRequiredAttribute(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "choice", `<el-num></el-num>`, "")

	_, err := f.engine.PrepareVariant(context.Background(), q, nil, 1)
	if !errors.Is(err, qerr.ErrContent) {
		t.Fatalf("PrepareVariant() error = %v, want content error", err)
	}
	if err.Error() != "el-num: missing required attribute answers-name" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestParseAndGrade_FormatError(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "num", `<el-num answers-name="x" correct-answer="42"></el-num>`, "")
	v := f.prepare(t, q, 1)

	if err := f.engine.ParseAndGrade(context.Background(), v, map[string]any{"x": "abc"}); err != nil {
		t.Fatalf("ParseAndGrade() error = %v", err)
	}
	data := v.Data()
	got := qdata.FormatErrorMessages(data.FormatErrors()["x"])
	if !slices.Equal(got, []string{`Invalid format for a number: "abc"`}) {
		t.Errorf("format_errors[x] = %v", got)
	}
	if data.Gradable() {
		t.Error("gradable = true, want false")
	}
	if s, _ := data.Score(); s != 0 {
		t.Errorf("score = %v, want 0", s)
	}
	if len(data.PartialScores()) != 0 {
		t.Errorf("partial_scores = %v, want none", data.PartialScores())
	}
	if v.State() != question.StateFinalized {
		t.Errorf("State() = %s, want finalized", v.State())
	}
}

func TestParseAndGrade_EmptySubmission(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "num", `<el-num answers-name="x" correct-answer="42"></el-num>`, "")
	v := f.prepare(t, q, 1)

	if err := f.engine.ParseAndGrade(context.Background(), v, nil); err != nil {
		t.Fatalf("ParseAndGrade() error = %v", err)
	}
	if got := question.FormatErrorNames(v.Data()); !slices.Equal(got, []string{"x"}) {
		t.Errorf("FormatErrorNames() = %v, want [x]", got)
	}
}

func TestParseAndGrade_WeightedScore(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "two", `<el-num answers-name="x" correct-answer="1" weight="2"></el-num>
<el-num answers-name="y" correct-answer="2"></el-num>`, "")
	v := f.prepare(t, q, 1)

	if err := f.engine.ParseAndGrade(context.Background(), v, map[string]any{"x": "1", "y": "3"}); err != nil {
		t.Fatalf("ParseAndGrade() error = %v", err)
	}
	data := v.Data()
	if s, _ := data.Score(); math.Abs(s-2.0/3.0) > 1e-9 {
		t.Errorf("score = %v, want 2/3", s)
	}
	if !data.Gradable() {
		t.Error("gradable = false, want true")
	}
	if v.State() != question.StateGraded {
		t.Errorf("State() = %s, want graded", v.State())
	}

	res, err := f.engine.Render(context.Background(), v, question.RenderOptions{Panel: qdata.PanelSubmission})
	if err != nil {
		t.Fatalf("Render(submission) error = %v", err)
	}
	if !strings.Contains(res.HTML, `<span class="submitted">3</span>`) {
		t.Errorf("submission HTML = %q", res.HTML)
	}
	if !slices.Equal(res.Dependencies.ElementScripts, []string{"el-num/num.js"}) {
		t.Errorf("ElementScripts = %v", res.Dependencies.ElementScripts)
	}
}

func TestTest_SynthesizedSubmissions(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "num", `<el-num answers-name="x" correct-answer="42"></el-num>`, "")
	prepared := f.prepare(t, q, 1)

	tests := []struct {
		testType  qdata.TestType
		wantRaw   func(any) bool
		wantScore float64
		wantError bool
	}{
		{qdata.TestCorrect, func(v any) bool { return v == "42" }, 1, false},
		{qdata.TestIncorrect, func(v any) bool { return v != "42" }, 0, false},
		{qdata.TestInvalid, func(v any) bool { return v == "abc" }, 0, true},
	}
	for _, tt := range tests {
		t.Run(string(tt.testType), func(t *testing.T) {
			v := prepared.Fork()
			if err := f.engine.Test(context.Background(), v, tt.testType); err != nil {
				t.Fatalf("Test() error = %v", err)
			}
			raw := v.Data().RawSubmittedAnswers()["x"]
			if !tt.wantRaw(raw) {
				t.Errorf("raw_submitted_answers[x] = %v", raw)
			}

			graded := prepared.Fork()
			if err := f.engine.ParseAndGrade(context.Background(), graded, v.Data().RawSubmittedAnswers()); err != nil {
				t.Fatalf("ParseAndGrade() error = %v", err)
			}
			data := graded.Data()
			if s, _ := data.Score(); s != tt.wantScore {
				t.Errorf("score = %v, want %v", s, tt.wantScore)
			}
			if data.HasFormatError("x") != tt.wantError {
				t.Errorf("format error on x = %v, want %v", data.HasFormatError("x"), tt.wantError)
			}
			if tt.wantError && data.Gradable() {
				t.Error("invalid submission was gradable")
			}
		})
	}
}

func TestRender_Timeout(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "slow", `<el-slow></el-slow><el-add a="1" b="1"></el-add>`, "")
	v := f.prepare(t, q, 1)

	res, err := f.engine.Render(context.Background(), v, question.RenderOptions{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(res.HTML, `data-category="timeout"`) {
		t.Errorf("HTML = %q, want a timeout placeholder", res.HTML)
	}
	if !strings.Contains(res.HTML, "<b>2</b>") {
		t.Errorf("HTML = %q, want the other element rendered", res.HTML)
	}
	if len(res.Issues) != 1 || !errors.Is(res.Issues[0], qerr.ErrTimeout) {
		t.Errorf("Issues = %v, want one timeout", res.Issues)
	}
	if len(f.events.OfType(events.TypeElementFailed)) != 1 {
		t.Errorf("element_failed events = %d, want 1", len(f.events.OfType(events.TypeElementFailed)))
	}
}

func TestRender_UnknownElementKept(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "unknown", `<el-mystery foo="1">inside</el-mystery>`, "")
	v := f.prepare(t, q, 3)

	res, err := f.engine.Render(context.Background(), v, question.RenderOptions{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if res.HTML != `<el-mystery foo="1">inside</el-mystery>` {
		t.Errorf("HTML = %q", res.HTML)
	}
	if len(res.Tags) != 0 {
		t.Errorf("Tags = %v, want none", res.Tags)
	}
	got := f.events.OfType(events.TypeUnknownElement)
	if len(got) == 0 || got[0].Question != "unknown" || got[0].VariantSeed != 3 {
		t.Errorf("unknown_element events = %+v", got)
	}
}

func TestRender_AnswerPanelAnyState(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "num", `<el-num answers-name="x" correct-answer="42"></el-num>`, "")
	v := f.prepare(t, q, 1)

	res, err := f.engine.Render(context.Background(), v, question.RenderOptions{Panel: qdata.PanelAnswer})
	if err != nil {
		t.Fatalf("Render(answer) error = %v", err)
	}
	if res.HTML != `<span class="answer">42</span>` {
		t.Errorf("HTML = %q", res.HTML)
	}
	if v.State() != question.StatePrepared {
		t.Errorf("State() = %s, want prepared", v.State())
	}
}

func TestPhaseErrors(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "num", `<el-num answers-name="x" correct-answer="42"></el-num>`, "")
	v := f.prepare(t, q, 1)

	if _, err := f.engine.Render(context.Background(), v, question.RenderOptions{Panel: qdata.PanelSubmission}); !errors.Is(err, qerr.ErrPhase) {
		t.Errorf("Render(submission) before a submission: error = %v, want phase error", err)
	}
	if err := f.engine.Test(context.Background(), v, qdata.TestCorrect); err != nil {
		t.Fatalf("Test() error = %v", err)
	}
	if err := f.engine.Test(context.Background(), v, qdata.TestCorrect); !errors.Is(err, qerr.ErrPhase) {
		t.Errorf("second Test(): error = %v, want phase error", err)
	}
	if err := f.engine.Test(context.Background(), f.prepare(t, q, 1), "bogus"); !errors.Is(err, qerr.ErrContract) {
		t.Errorf("Test(bogus): error = %v, want contract error", err)
	}
}

func TestDuplicateAnswerName_FirstWins(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "dup", `<el-num answers-name="x" correct-answer="1"></el-num>
<el-num answers-name="x" correct-answer="2"></el-num>`, "")
	v := f.prepare(t, q, 1)

	if got := v.Data().CorrectAnswers()["x"]; got != 1.0 {
		t.Errorf("correct_answers[x] = %v, want 1", got)
	}
	if err := f.engine.ParseAndGrade(context.Background(), v, map[string]any{"x": "1"}); err != nil {
		t.Fatalf("ParseAndGrade() error = %v", err)
	}
	if s, _ := v.Data().Score(); s != 1 {
		t.Errorf("score = %v, want 1", s)
	}
}

func TestFile(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "file", `<el-file></el-file>`, "")
	v := f.prepare(t, q, 1)

	b, err := f.engine.File(context.Background(), v, "plot.png")
	if err != nil {
		t.Fatalf("File() error = %v", err)
	}
	if string(b) != "file:plot.png" {
		t.Errorf("File() = %q", b)
	}

	q = f.question(t, "nofile", `<el-add a="1" b="2"></el-add>`, "")
	if _, err := f.engine.File(context.Background(), f.prepare(t, q, 1), "x.png"); !errors.Is(err, question.ErrFileNotFound) {
		t.Errorf("File() error = %v, want ErrFileNotFound", err)
	}
}

func TestScript_GenerateAndGrade(t *testing.T) {
	f := newFixture(t)
	f.catalog.Register("server", element.Static(element.Funcs{
		GenerateFunc: func(_ context.Context, call *element.Call) error {
			n := float64(call.Data.Rand("n").IntN(50) + 1)
			call.Data.Params()["n"] = n
			call.Data.CorrectAnswers()["double"] = 2 * n
			return nil
		},
		GradeFunc: func(_ context.Context, call *element.Call) error {
			call.Data.Feedback()["note"] = "graded by script"
			return nil
		},
	}))
	q := f.question(t, "scripted", `<p>Double {{params.n}}</p><el-num answers-name="double" correct-answer="{{correct_answers.double}}"></el-num>`,
		`{"title": "Double", "server": "server"}`)

	v := f.prepare(t, q, 11)
	n, _ := qdata.Number(v.Data().Params()["n"])
	if !strings.Contains(v.HTML, `correct-answer="`+strconv.FormatFloat(2*n, 'g', -1, 64)+`"`) {
		t.Fatalf("substituted HTML = %q", v.HTML)
	}
	if err := f.engine.ParseAndGrade(context.Background(), v, map[string]any{"double": strconv.FormatFloat(2*n, 'g', -1, 64)}); err != nil {
		t.Fatalf("ParseAndGrade() error = %v", err)
	}
	data := v.Data()
	if s, _ := data.Score(); s != 1 {
		t.Errorf("score = %v, want 1", s)
	}
	if data.Feedback()["note"] != "graded by script" {
		t.Errorf("feedback = %v", data.Feedback())
	}
}

func TestScript_ExplicitScore(t *testing.T) {
	tests := []struct {
		name      string
		grade     func(call *element.Call)
		wantScore float64
	}{
		{"left alone", func(*element.Call) {}, 1},
		{"set to zero", func(call *element.Call) { call.Data.SetScore(0) }, 0},
		{"set to half", func(call *element.Call) { call.Data.SetScore(0.5) }, 0.5},
		{"set by map write", func(call *element.Call) { call.Data[qdata.KeyScore] = 0 }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.catalog.Register("server", element.Static(element.Funcs{
				GradeFunc: func(_ context.Context, call *element.Call) error {
					tt.grade(call)
					return nil
				},
			}))
			q := f.question(t, "explicit", `<el-num answers-name="x" correct-answer="4"></el-num>`,
				`{"title": "Explicit", "server": "server"}`)
			v := f.prepare(t, q, 1)
			if err := f.engine.ParseAndGrade(context.Background(), v, map[string]any{"x": "4"}); err != nil {
				t.Fatalf("ParseAndGrade() error = %v", err)
			}
			data := v.Data()
			if p, _ := data.PartialScore("x"); p.Score == nil || *p.Score != 1 {
				t.Errorf("partial_scores[x] = %+v, want 1", p)
			}
			if s, _ := data.Score(); s != tt.wantScore {
				t.Errorf("score = %v, want %v", s, tt.wantScore)
			}
			if !data.ScoreSet() {
				t.Error("score still pending after grading")
			}
		})
	}
}

func TestRunTests(t *testing.T) {
	f := newFixture(t)
	q := f.question(t, "num", `<el-num answers-name="x" correct-answer="42"></el-num>`, "")

	report, err := question.RunTests(context.Background(), f.engine, q, nil, []int64{1, 2})
	if err != nil {
		t.Fatalf("RunTests() error = %v", err)
	}
	if len(report.Cases) != 6 {
		t.Fatalf("Cases = %d, want 6", len(report.Cases))
	}
	if !report.Passed() {
		for _, c := range report.Cases {
			if !c.Passed {
				t.Errorf("case %d/%s failed: %s", c.Seed, c.Type, c.Message)
			}
		}
	}
	cases := f.events.OfType(events.TypeTestCase)
	if len(cases) != 6 {
		t.Fatalf("test_case events = %d, want 6", len(cases))
	}
	for _, e := range cases {
		if e.RunID != report.RunID || e.Question != "num" {
			t.Errorf("event = %+v, want run %s", e, report.RunID)
		}
	}
	if len(f.events.OfType(events.TypeTestRun)) != 1 {
		t.Error("missing test_run event")
	}
}

func TestRunTests_DetectsBrokenTest(t *testing.T) {
	f := newFixture(t)
	// The synthesized "correct" answer is wrong, so grading disagrees.
	f.catalog.Register("el-liar", element.Static(element.Funcs{
		PrepareFunc: func(_ context.Context, call *element.Call) error {
			call.Data.CorrectAnswers()["x"] = 1.0
			return nil
		},
		ParseFunc: func(_ context.Context, call *element.Call) error { return nil },
		GradeFunc: func(_ context.Context, call *element.Call) error {
			score := 0.0
			if call.Data.SubmittedAnswers()["x"] == "1" {
				score = 1
			}
			call.Data.SetPartialScore("x", qdata.Scored(score, 1))
			return nil
		},
		TestFunc: func(_ context.Context, call *element.Call) error {
			call.Data.RawSubmittedAnswers()["x"] = "2"
			call.Data.SetPartialScore("x", qdata.Scored(1, 1))
			return nil
		},
	}))

	q := f.question(t, "liar", `<el-liar answers-name="x"></el-liar>`, `{"title": "Liar", "singleVariant": true}`)
	report, err := question.RunTests(context.Background(), f.engine, q, nil, []int64{5, 6, 7})
	if err != nil {
		t.Fatalf("RunTests() error = %v", err)
	}
	if len(report.Cases) != 3 {
		t.Fatalf("Cases = %d, want 3 for a single-variant question", len(report.Cases))
	}
	if report.Passed() {
		t.Fatal("Passed() = true, want failures")
	}
	if c := report.Cases[0]; c.Type != qdata.TestCorrect || c.Passed || !strings.Contains(c.Message, "correct submission scored 0") {
		t.Errorf("correct case = %+v", c)
	}
}

func TestWeightedScore(t *testing.T) {
	data := qdata.Data{qdata.KeyPartialScores: map[string]any{
		"a": map[string]any{"score": 1.0, "weight": 3.0},
		"b": map[string]any{"score": 0.0},
		"c": map[string]any{"score": nil, "weight": 10.0},
	}}
	s, ok := question.WeightedScore(data)
	if !ok || math.Abs(s-0.75) > 1e-12 {
		t.Errorf("WeightedScore() = %v, %v, want 0.75", s, ok)
	}
	if _, ok := question.WeightedScore(qdata.Data{qdata.KeyPartialScores: map[string]any{}}); ok {
		t.Error("WeightedScore() of no scores reported ok")
	}
}
