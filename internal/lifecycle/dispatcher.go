// Package lifecycle invokes element controllers for one phase: inside the
// element's sandbox scope, with extensions injected, under a time budget,
// and with the result checked against the data contract before it is
// committed.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	nethtml "golang.org/x/net/html"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/events"
	"github.com/p-n-ai/pai-elements/internal/htmlwalk"
	"github.com/p-n-ai/pai-elements/internal/qdata"
	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/sandbox"
	"github.com/p-n-ai/pai-elements/internal/timeout"
)

// DefaultTimeout is the per-call budget when none is configured.
const DefaultTimeout = 10 * time.Second

// Config configures a Dispatcher.
type Config struct {
	Loader  *element.Loader
	Timeout time.Duration
	Events  events.Logger
	Logger  *slog.Logger
}

// Dispatcher calls element controllers.
type Dispatcher struct {
	loader  *element.Loader
	timeout time.Duration
	events  events.Logger
	log     *slog.Logger
}

// New creates a dispatcher.
func New(cfg Config) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Events == nil {
		cfg.Events = events.NopLogger{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{loader: cfg.Loader, timeout: cfg.Timeout, events: cfg.Events, log: cfg.Logger}
}

// WithEvents returns a copy of d that records events to l.
func (d *Dispatcher) WithEvents(l events.Logger) *Dispatcher {
	c := *d
	c.events = l
	return &c
}

// Timeout returns the per-call budget.
func (d *Dispatcher) Timeout() time.Duration { return d.timeout }

// Outcome is what dispatching one element produced.
type Outcome struct {
	// Known is false when the tag has no registered element.
	Known bool
	// Keep reports that render must leave the element in place.
	Keep bool
	// Markup replaces the element in render.
	Markup string
	File   []byte
	// Implemented is false when the controller has no function for the phase.
	Implemented bool
	// Failure is a localized error: the element failed, its effect on data
	// was discarded and the phase goes on.
	Failure error
}

// Dispatch runs phase for the element n against data. data is modified
// only when the call succeeds and passes validation, except that failures
// in parse, grade and test record format errors against the answer names
// the element owns.
//
// The returned error is an authoring error (contract or content) or the
// cancellation of ctx; either aborts the phase. In render an authoring
// error also yields a placeholder in Outcome.Markup.
//
// The controller sees a detached copy of n. A controller that ignores ctx
// keeps running after its budget expires: its result is discarded, but it
// runs outside the element's sandbox scope and may overlap later calls.
func (d *Dispatcher) Dispatch(ctx context.Context, phase qdata.Phase, n *nethtml.Node, data qdata.Data) (Outcome, error) {
	tag := n.Data
	desc, ok := d.loader.Registry().Lookup(tag)
	if !ok {
		d.log.Warn("element not in registry", "tag", tag, "phase", phase)
		d.record(events.Event{EventType: events.TypeUnknownElement, Phase: string(phase), Tag: tag})
		return Outcome{Keep: true}, nil
	}

	raw := htmlwalk.Attrs(n)
	attrs := element.NewAttributes(desc.Tag, raw, desc.Attributes)
	if phase == qdata.PhasePrepare && desc.Attributes != nil {
		if err := attrs.Check(*desc.Attributes); err != nil {
			return Outcome{Known: true}, withPhase(err, phase, tag)
		}
	}

	ctrl, err := d.loader.Load(desc)
	if err != nil {
		return d.fail(phase, tag, raw, data, err, true), nil
	}
	namespaces, err := d.loader.LoadExtensions(desc.Tag)
	if err != nil {
		return d.fail(phase, tag, raw, data, err, true), nil
	}

	outer, err := htmlwalk.Outer(n)
	if err != nil {
		return Outcome{Known: true}, fmt.Errorf("serializing <%s>: %w", tag, err)
	}
	own, err := detach(outer)
	if err != nil {
		return Outcome{Known: true}, fmt.Errorf("copying <%s>: %w", tag, err)
	}
	call := &element.Call{
		Phase: phase,
		Tag:   desc.Tag,
		HTML:  outer,
		Node:  own,
		Attrs: attrs,
		Dir:   desc.Dir,
	}

	res, implemented, err := d.run(ctx, d.loader.Scope(desc), ctrl, call, data, namespaces)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{Known: true}, ctx.Err()
		}
		if qerr.KindOf(err).Authoring() {
			err = withPhase(err, phase, tag)
			out := Outcome{Known: true}
			if phase == qdata.PhaseRender {
				out.Markup = Placeholder(tag, err)
			}
			return out, err
		}
		return d.fail(phase, tag, raw, data, err, false), nil
	}

	out := Outcome{Known: true, Implemented: implemented, File: res.File}
	if phase == qdata.PhaseRender {
		out.Markup = res.HTML
	}
	return out, nil
}

// RunController invokes a question-level controller (the authoring script)
// for phase inside scope. Every failure is returned.
func (d *Dispatcher) RunController(ctx context.Context, phase qdata.Phase, ctrl any, scope sandbox.Scope, data qdata.Data) (element.Result, bool, error) {
	call := &element.Call{Phase: phase, Tag: "question", Dir: scope.Dir}
	res, implemented, err := d.run(ctx, scope, ctrl, call, data, nil)
	if err != nil {
		if ctx.Err() != nil {
			return element.Result{}, false, ctx.Err()
		}
		return element.Result{}, false, withPhase(err, phase, "question")
	}
	return res, implemented, nil
}

type invoked struct {
	res         element.Result
	implemented bool
}

// run performs one guarded call: snapshot, inject extensions, enter the
// scope, invoke under the budget, remove extensions, validate, commit.
func (d *Dispatcher) run(ctx context.Context, scope sandbox.Scope, ctrl any, call *element.Call,
	data qdata.Data, namespaces map[string]map[string]any) (element.Result, bool, error) {
	phase := call.Phase
	snapshot := data.Clone()
	work := data.Clone()
	if _, ok := work[qdata.KeyExtensions]; ok && namespaces != nil {
		work[qdata.KeyExtensions] = namespaces
	}
	call.Data = work

	release, err := sandbox.Enter(scope)
	if err != nil {
		return element.Result{}, false, qerr.Runtime(call.Tag, string(phase), err)
	}
	got, err := timeout.Run(ctx, d.timeout, func(ctx context.Context) (invoked, error) {
		res, implemented, err := element.Invoke(ctx, ctrl, call)
		return invoked{res: res, implemented: implemented}, err
	})
	release()

	switch {
	case errors.Is(err, timeout.ErrExpired):
		// The abandoned call may still write to work; it is never read again.
		return element.Result{}, false, qerr.Timeout(call.Tag, string(phase), d.timeout)
	case errors.Is(err, timeout.ErrCancelled):
		if ctx.Err() != nil {
			return element.Result{}, false, ctx.Err()
		}
		return element.Result{}, false, qerr.Runtime(call.Tag, string(phase), err)
	case err != nil:
		if _, ok := qerr.As(err); ok {
			return element.Result{}, false, err
		}
		return element.Result{}, false, qerr.Runtime(call.Tag, string(phase), err)
	}

	if _, ok := work[qdata.KeyExtensions]; ok {
		work[qdata.KeyExtensions] = map[string]map[string]any{}
	}
	if err := qdata.Validate(snapshot, work, phase); err != nil {
		return element.Result{}, false, err
	}
	commit(data, work)
	return got.res, got.implemented, nil
}

// detach parses outer into a standalone element node.
func detach(outer string) (*nethtml.Node, error) {
	nodes, err := htmlwalk.ParseFragment(outer)
	if err != nil {
		return nil, err
	}
	for _, n := range nodes {
		if n.Type == nethtml.ElementNode {
			return n, nil
		}
	}
	return nil, fmt.Errorf("no element in %q", outer)
}

func commit(dst, src qdata.Data) {
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range src {
		dst[k] = v
	}
}

// fail records a localized failure and shapes the outcome for phase.
func (d *Dispatcher) fail(phase qdata.Phase, tag string, attrs map[string]string, data qdata.Data, err error, load bool) Outcome {
	category := qerr.KindOf(err).String()
	d.log.Warn("element failed", "tag", tag, "phase", phase, "category", category, "error", err)
	d.record(events.Event{
		EventType: events.TypeElementFailed,
		Phase:     string(phase),
		Tag:       tag,
		Kind:      category,
		Message:   err.Error(),
	})

	out := Outcome{Known: true, Failure: err}
	switch phase {
	case qdata.PhaseRender:
		if load {
			out.Keep = true
		} else {
			out.Markup = Placeholder(tag, err)
		}
	case qdata.PhaseParse, qdata.PhaseGrade, qdata.PhaseTest:
		if load && phase != qdata.PhaseParse {
			break
		}
		for _, name := range AnswerNames(attrs) {
			data.AddFormatError(name, err.Error())
		}
	}
	return out
}

func (d *Dispatcher) record(e events.Event) {
	if err := d.events.LogEvent(e); err != nil {
		d.log.Warn("recording event failed", "type", e.EventType, "error", err)
	}
}

// AnswerNames returns the answer names an element owns.
func AnswerNames(attrs map[string]string) []string {
	return strings.Fields(strings.ReplaceAll(attrs[element.AnswersNameAttr], ",", " "))
}

// Placeholder is the visible markup that replaces a failed element in
// render.
func Placeholder(tag string, err error) string {
	category := qerr.KindOf(err).String()
	return fmt.Sprintf(`<div class="element-error" data-element="%s" data-category="%s">%s</div>`,
		html.EscapeString(tag), category, html.EscapeString(err.Error()))
}

func withPhase(err error, phase qdata.Phase, tag string) error {
	if e, ok := qerr.As(err); ok {
		return e.WithPhase(string(phase), tag)
	}
	return err
}
