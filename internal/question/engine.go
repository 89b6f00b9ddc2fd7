package question

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/events"
	"github.com/p-n-ai/pai-elements/internal/htmlwalk"
	"github.com/p-n-ai/pai-elements/internal/lifecycle"
	"github.com/p-n-ai/pai-elements/internal/platform/cache"
	"github.com/p-n-ai/pai-elements/internal/qdata"
	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/tmpl"
)

// ErrFileNotFound is returned by File when no controller produced the
// requested file.
var ErrFileNotFound = errors.New("no controller produced the file")

// EngineConfig configures an Engine.
type EngineConfig struct {
	Loader         *element.Loader
	Timeout        time.Duration
	MaxRenderDepth int
	TemplateMode   tmpl.Mode
	// Cache memoizes panel renders. Nil disables caching.
	Cache  cache.RenderCache
	Events events.Logger
	Logger *slog.Logger
}

// Engine runs question variants through the pipeline. An engine may be
// shared; a single variant must not be used from two goroutines at once.
type Engine struct {
	loader     *element.Loader
	dispatcher *lifecycle.Dispatcher
	depth      int
	mode       tmpl.Mode
	cache      cache.RenderCache
	events     events.Logger
	log        *slog.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Events == nil {
		cfg.Events = events.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRenderDepth <= 0 {
		cfg.MaxRenderDepth = htmlwalk.DefaultMaxDepth
	}
	return &Engine{
		loader: cfg.Loader,
		dispatcher: lifecycle.New(lifecycle.Config{
			Loader:  cfg.Loader,
			Timeout: cfg.Timeout,
			Events:  cfg.Events,
			Logger:  cfg.Logger,
		}),
		depth:  cfg.MaxRenderDepth,
		mode:   cfg.TemplateMode,
		cache:  cfg.Cache,
		events: cfg.Events,
		log:    cfg.Logger,
	}
}

// WithEvents returns a copy of e that records events to l.
func (e *Engine) WithEvents(l events.Logger) *Engine {
	c := *e
	c.events = l
	c.dispatcher = e.dispatcher.WithEvents(l)
	return &c
}

// Variant is one seeded instance of a question.
type Variant struct {
	Question *Question
	Seed     int64
	// HTML is the question template after substitution.
	HTML string

	data     qdata.Data
	prepared qdata.Data
	state    State
	issues   []error
}

// Data returns a copy of the variant's data.
func (v *Variant) Data() qdata.Data { return v.data.Clone() }

// State returns the pipeline position.
func (v *Variant) State() State { return v.state }

// Issues returns the localized element failures of the last operation.
func (v *Variant) Issues() []error { return slices.Clone(v.issues) }

// Fork returns an independent copy of v.
func (v *Variant) Fork() *Variant {
	c := *v
	c.data = v.data.Clone()
	c.prepared = v.prepared.Clone()
	c.issues = slices.Clone(v.issues)
	return &c
}

// overlay copies the phase keys of src into dst. Extension namespaces
// only live for the duration of a call.
func overlay(dst, src qdata.Data) {
	for k, val := range src {
		if k == qdata.KeyExtensions {
			continue
		}
		dst[k] = val
	}
}

func (e *Engine) dispatcherFor(v *Variant) *lifecycle.Dispatcher {
	return e.dispatcher.WithEvents(events.Scoped{
		Next: e.events,
		Base: events.Event{Question: v.Question.ID, VariantSeed: v.Seed},
	})
}

func (e *Engine) runScript(ctx context.Context, d *lifecycle.Dispatcher, q *Question, phase qdata.Phase, work qdata.Data) (element.Result, bool, error) {
	if q.Controller == nil {
		return element.Result{}, false, nil
	}
	return d.RunController(ctx, phase, q.Controller, q.Scope(), work)
}

func isCustom(tag string) bool {
	return strings.Contains(tag, "-")
}

// consumed reports whether an enclosing element handles n itself.
func (e *Engine) consumed(n *html.Node) bool {
	reg := e.loader.Registry()
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type != html.ElementNode || !isCustom(p.Data) {
			continue
		}
		if d, ok := reg.Lookup(p.Data); ok && d.Consumes(n.Data) {
			return true
		}
	}
	return false
}

// targets returns the elements of markup to dispatch, in document order.
func (e *Engine) targets(markup string) ([]*html.Node, error) {
	nodes, err := htmlwalk.Elements(markup)
	if err != nil {
		return nil, &qerr.Error{Kind: qerr.KindContent, Message: "parsing question template", Err: err}
	}
	out := nodes[:0]
	for _, n := range nodes {
		if isCustom(n.Data) && !e.consumed(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// answerKeys are the per-answer maps an element writes under its names.
var answerKeys = []string{
	qdata.KeyParams,
	qdata.KeyCorrectAnswers,
	qdata.KeySubmittedAnswers,
	qdata.KeyRawSubmittedAnswers,
	qdata.KeyFormatErrors,
	qdata.KeyPartialScores,
	qdata.KeyFeedback,
}

// pin captures the entries of names in the per-answer maps of data and
// returns a func that puts them back.
func pin(data qdata.Data, names []string) func() {
	type entry struct {
		key, name string
		val       any
		ok        bool
	}
	var saved []entry
	for _, key := range answerKeys {
		m := data.Map(key)
		if m == nil {
			continue
		}
		for _, name := range names {
			val, ok := m[name]
			saved = append(saved, entry{key: key, name: name, val: val, ok: ok})
		}
	}
	return func() {
		for _, s := range saved {
			m := data.Map(s.key)
			if m == nil {
				continue
			}
			if s.ok {
				m[s.name] = s.val
			} else {
				delete(m, s.name)
			}
		}
	}
}

// each dispatches phase to every element of v in document order. skip,
// when set, filters elements by the answer names they own. An answer name
// belongs to the first element that declares it; later elements cannot
// change its entries.
func (e *Engine) each(ctx context.Context, d *lifecycle.Dispatcher, v *Variant, phase qdata.Phase,
	work qdata.Data, skip func(names []string) bool) ([]error, error) {
	nodes, err := e.targets(v.HTML)
	if err != nil {
		return nil, err
	}

	owned := map[string]bool{}
	var issues []error
	for _, n := range nodes {
		names := lifecycle.AnswerNames(htmlwalk.Attrs(n))
		if skip != nil && skip(names) {
			continue
		}
		var dup []string
		for _, name := range names {
			if owned[name] {
				dup = append(dup, name)
				continue
			}
			owned[name] = true
		}

		var restore func()
		if len(dup) > 0 {
			if phase == qdata.PhasePrepare {
				e.log.Warn("duplicate answer name", "question", v.Question.ID, "tag", n.Data, "names", dup)
			}
			restore = pin(work, dup)
		}
		out, err := d.Dispatch(ctx, phase, n, work)
		if restore != nil {
			restore()
		}
		if err != nil {
			return issues, err
		}
		if out.Failure != nil {
			issues = append(issues, out.Failure)
		}
	}
	return issues, nil
}

// PrepareVariant seeds a variant and runs generate and prepare: the
// authoring script first, then template substitution, then every element.
func (e *Engine) PrepareVariant(ctx context.Context, q *Question, options map[string]any, seed int64) (*Variant, error) {
	opts := qdata.CloneMap(options)
	if opts == nil {
		opts = map[string]any{}
	}
	v := &Variant{
		Question: q,
		Seed:     seed,
		state:    StateSeeded,
		data: qdata.Data{
			qdata.KeyVariantSeed:    seed,
			qdata.KeyOptions:        opts,
			qdata.KeyParams:         map[string]any{},
			qdata.KeyCorrectAnswers: map[string]any{},
		},
	}
	d := e.dispatcherFor(v)

	work := qdata.ForPhase(qdata.PhaseGenerate, v.data)
	if _, _, err := e.runScript(ctx, d, q, qdata.PhaseGenerate, work); err != nil {
		return nil, err
	}
	work = qdata.ForPhase(qdata.PhasePrepare, work)
	if _, _, err := e.runScript(ctx, d, q, qdata.PhasePrepare, work); err != nil {
		return nil, err
	}

	out, err := tmpl.Substitute(q.Template, work, e.mode)
	if err != nil {
		return nil, &qerr.Error{Kind: qerr.KindContent, Message: "substituting question template", Err: err}
	}
	v.HTML = out

	work = qdata.ForPhase(qdata.PhaseGenerate, work)
	issues, err := e.each(ctx, d, v, qdata.PhaseGenerate, work, nil)
	if err != nil {
		return nil, err
	}
	work = qdata.ForPhase(qdata.PhasePrepare, work)
	more, err := e.each(ctx, d, v, qdata.PhasePrepare, work, nil)
	if err != nil {
		return nil, err
	}

	overlay(v.data, work)
	v.prepared = v.data.Clone()
	v.issues = append(issues, more...)
	v.state = StatePrepared
	e.log.Debug("variant prepared", "question", q.ID, "seed", seed, "issues", len(v.issues))
	return v, nil
}

// RenderOptions are the host's choices for one render.
type RenderOptions struct {
	Panel               qdata.Panel
	Editable            bool
	ManualGrading       bool
	NumValidSubmissions int
}

// RenderResult is a rendered panel.
type RenderResult struct {
	HTML string
	// Tags are the registered elements the page contains, sorted.
	Tags         []string
	Dependencies element.DependencySet
	Issues       []error
	Cached       bool
}

func renderTarget(from State, panel qdata.Panel) (State, error) {
	var to State
	switch panel {
	case qdata.PanelAnswer:
		if from == StateSeeded {
			return "", qerr.Phase(string(from), "rendered_answer")
		}
		return from, nil
	case qdata.PanelQuestion:
		to = StateRenderedQuestion
	case qdata.PanelSubmission:
		to = StateRenderedSubmission
	default:
		return "", qerr.Contract(qdata.KeyPanel, "unknown panel %q", panel)
	}
	return to, checkMove(from, to)
}

// Render produces the panel of v. Render is pure with respect to the
// variant's data. Authoring errors are returned joined, alongside the page
// with their placeholders.
func (e *Engine) Render(ctx context.Context, v *Variant, opts RenderOptions) (RenderResult, error) {
	panel := opts.Panel
	if panel == "" {
		panel = qdata.PanelQuestion
	}
	next, err := renderTarget(v.state, panel)
	if err != nil {
		return RenderResult{}, err
	}

	work := qdata.ForPhase(qdata.PhaseRender, v.data)
	work[qdata.KeyPanel] = string(panel)
	work[qdata.KeyEditable] = opts.Editable
	work[qdata.KeyManualGrading] = opts.ManualGrading
	work[qdata.KeyNumValidSubmissions] = opts.NumValidSubmissions

	reg := e.loader.Registry()
	key := e.cacheKey(v, work)
	if key != "" {
		page, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.log.Warn("render cache read failed", "question", v.Question.ID, "error", err)
		case ok:
			v.state = next
			return RenderResult{
				HTML:         page.HTML,
				Tags:         page.Tags,
				Dependencies: reg.Dependencies(page.Tags),
				Cached:       true,
			}, nil
		}
	}

	d := e.dispatcherFor(v)
	seen := map[string]bool{}
	var issues, authoring []error
	walker := htmlwalk.Walker{MaxDepth: e.depth}
	out, err := walker.TraverseAndReplace(v.HTML, func(n *html.Node) (string, bool, error) {
		if !isCustom(n.Data) || e.consumed(n) {
			return "", false, nil
		}
		res, err := d.Dispatch(ctx, qdata.PhaseRender, n, work)
		if res.Known {
			seen[n.Data] = true
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", false, err
			}
			authoring = append(authoring, err)
			return res.Markup, true, nil
		}
		if res.Failure != nil {
			issues = append(issues, res.Failure)
		}
		if res.Keep {
			return "", false, nil
		}
		return res.Markup, true, nil
	})
	if err != nil {
		return RenderResult{}, err
	}

	tags := slices.Sorted(maps.Keys(seen))
	result := RenderResult{
		HTML:         out,
		Tags:         tags,
		Dependencies: reg.Dependencies(tags),
		Issues:       issues,
	}
	if len(authoring) > 0 {
		return result, qerr.Join(authoring)
	}

	if key != "" && len(issues) == 0 {
		if err := e.cache.Set(ctx, key, cache.Page{HTML: out, Tags: tags}); err != nil {
			e.log.Warn("render cache write failed", "question", v.Question.ID, "error", err)
		}
	}
	v.state = next
	return result, nil
}

func (e *Engine) cacheKey(v *Variant, work qdata.Data) string {
	if e.cache == nil {
		return ""
	}
	key, err := qdata.Digest(v.Question.ID, v.HTML, work.WithoutExtensions())
	if err != nil {
		e.log.Warn("render cache key failed", "question", v.Question.ID, "error", err)
		return ""
	}
	return key
}

// ParseAndGrade installs raw as the submission, parses it and, when every
// answer parsed cleanly, grades it.
func (e *Engine) ParseAndGrade(ctx context.Context, v *Variant, raw map[string]any) error {
	if err := checkMove(v.state, StateSubmitted); err != nil {
		return err
	}
	d := e.dispatcherFor(v)

	submitted := qdata.CloneMap(raw)
	if submitted == nil {
		submitted = map[string]any{}
	}
	parse := qdata.ForPhase(qdata.PhaseParse, v.data)
	parse[qdata.KeyRawSubmittedAnswers] = submitted
	parse[qdata.KeySubmittedAnswers] = qdata.CloneMap(submitted)
	parse[qdata.KeyFormatErrors] = map[string]any{}
	parse[qdata.KeyGradable] = true

	issues, err := e.each(ctx, d, v, qdata.PhaseParse, parse, nil)
	if err != nil {
		return err
	}
	if _, _, err := e.runScript(ctx, d, v.Question, qdata.PhaseParse, parse); err != nil {
		return err
	}
	aggregate(parse)

	staged := v.data.Clone()
	overlay(staged, parse)
	staged[qdata.KeyPartialScores] = map[string]any{}
	staged[qdata.KeyScore] = qdata.PendingScore(0)
	staged[qdata.KeyFeedback] = map[string]any{}

	next := StateFinalized
	if parse.Gradable() {
		grade := qdata.ForPhase(qdata.PhaseGrade, staged)
		more, err := e.each(ctx, d, v, qdata.PhaseGrade, grade, func(names []string) bool {
			return slices.ContainsFunc(names, grade.HasFormatError)
		})
		if err != nil {
			return err
		}
		if _, _, err := e.runScript(ctx, d, v.Question, qdata.PhaseGrade, grade); err != nil {
			return err
		}
		aggregate(grade)
		overlay(staged, grade)
		issues = append(issues, more...)
		next = StateGraded
	} else {
		staged.SetScore(0)
	}

	v.data = staged
	v.issues = issues
	v.state = next
	return nil
}

// Test synthesizes a submission of kind testType and its expected grading.
func (e *Engine) Test(ctx context.Context, v *Variant, testType qdata.TestType) error {
	if !slices.Contains(qdata.TestTypes, testType) {
		return qerr.Contract(qdata.KeyTestType, "unknown test type %q", testType)
	}
	if err := checkMove(v.state, StateTested); err != nil {
		return err
	}
	d := e.dispatcherFor(v)

	work := qdata.ForPhase(qdata.PhaseTest, v.data)
	work[qdata.KeyRawSubmittedAnswers] = map[string]any{}
	work[qdata.KeyFormatErrors] = map[string]any{}
	work[qdata.KeyPartialScores] = map[string]any{}
	work[qdata.KeyScore] = qdata.PendingScore(0)
	work[qdata.KeyFeedback] = map[string]any{}
	work[qdata.KeyGradable] = true
	work[qdata.KeyTestType] = string(testType)

	issues, err := e.each(ctx, d, v, qdata.PhaseTest, work, nil)
	if err != nil {
		return err
	}
	if _, _, err := e.runScript(ctx, d, v.Question, qdata.PhaseTest, work); err != nil {
		return err
	}
	aggregate(work)

	staged := v.data.Clone()
	overlay(staged, work)
	v.data = staged
	v.issues = issues
	v.state = StateFinalized
	return nil
}

// File returns the dynamic file called filename. The authoring script is
// asked first, then each element in document order. Controllers see the
// data as it was after prepare.
func (e *Engine) File(ctx context.Context, v *Variant, filename string) ([]byte, error) {
	if v.state == StateSeeded {
		return nil, qerr.Phase(string(v.state), string(qdata.PhaseFile))
	}
	d := e.dispatcherFor(v)

	work := qdata.ForPhase(qdata.PhaseFile, v.prepared)
	work[qdata.KeyFilename] = filename

	res, implemented, err := e.runScript(ctx, d, v.Question, qdata.PhaseFile, work)
	if err != nil {
		return nil, err
	}
	if implemented && res.File != nil {
		return res.File, nil
	}

	nodes, err := e.targets(v.HTML)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		out, err := d.Dispatch(ctx, qdata.PhaseFile, n, work)
		if err != nil {
			return nil, err
		}
		if out.Implemented && out.File != nil {
			return out.File, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrFileNotFound, filename)
}
