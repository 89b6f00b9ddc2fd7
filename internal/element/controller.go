// Package element resolves custom tags to element descriptors and loads the
// controllers behind them.
//
// A controller is any value implementing one or more of the phase
// interfaces below. Phases a controller does not implement are no-ops.
package element

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/net/html"

	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// Call is the input of one controller invocation.
type Call struct {
	Phase qdata.Phase
	Tag   string
	// HTML is the serialized element subtree. Empty for question-level calls.
	HTML string
	// Node is a detached copy of the element; changes to it are not seen by
	// the caller.
	Node  *html.Node
	Attrs Attributes
	Data  qdata.Data
	Dir   string
}

// Extensions returns the namespaces of the extensions registered for the
// element being called.
func (c *Call) Extensions() map[string]map[string]any {
	return c.Data.Extensions()
}

type Generator interface {
	Generate(ctx context.Context, call *Call) error
}

type Preparer interface {
	Prepare(ctx context.Context, call *Call) error
}

type Renderer interface {
	Render(ctx context.Context, call *Call) (string, error)
}

type Parser interface {
	Parse(ctx context.Context, call *Call) error
}

type Grader interface {
	Grade(ctx context.Context, call *Call) error
}

type Tester interface {
	Test(ctx context.Context, call *Call) error
}

type Filer interface {
	File(ctx context.Context, call *Call) ([]byte, error)
}

// Result is what a call produced besides its data mutations.
type Result struct {
	HTML string
	File []byte
}

// Invoker is implemented by controllers that handle every phase through a
// single entry point, such as ProcessController. Returning ErrNotImplemented
// marks the phase as a no-op.
type Invoker interface {
	Invoke(ctx context.Context, call *Call) (Result, error)
}

// ErrNotImplemented reports that a controller has no function for a phase.
var ErrNotImplemented = errors.New("phase not implemented by controller")

// Invoke calls the function of ctrl that matches call.Phase. implemented is
// false when ctrl has none.
func Invoke(ctx context.Context, ctrl any, call *Call) (res Result, implemented bool, err error) {
	if inv, ok := ctrl.(Invoker); ok {
		res, err := inv.Invoke(ctx, call)
		if errors.Is(err, ErrNotImplemented) {
			return Result{}, false, nil
		}
		return res, true, err
	}

	switch call.Phase {
	case qdata.PhaseGenerate:
		if c, ok := ctrl.(Generator); ok {
			return Result{}, true, c.Generate(ctx, call)
		}
	case qdata.PhasePrepare:
		if c, ok := ctrl.(Preparer); ok {
			return Result{}, true, c.Prepare(ctx, call)
		}
	case qdata.PhaseRender:
		if c, ok := ctrl.(Renderer); ok {
			out, err := c.Render(ctx, call)
			return Result{HTML: out}, true, err
		}
	case qdata.PhaseParse:
		if c, ok := ctrl.(Parser); ok {
			return Result{}, true, c.Parse(ctx, call)
		}
	case qdata.PhaseGrade:
		if c, ok := ctrl.(Grader); ok {
			return Result{}, true, c.Grade(ctx, call)
		}
	case qdata.PhaseTest:
		if c, ok := ctrl.(Tester); ok {
			return Result{}, true, c.Test(ctx, call)
		}
	case qdata.PhaseFile:
		if c, ok := ctrl.(Filer); ok {
			b, err := c.File(ctx, call)
			return Result{File: b}, true, err
		}
	}
	return Result{}, false, nil
}

// Funcs adapts plain functions to a controller. Nil fields are phases the
// controller does not implement.
type Funcs struct {
	GenerateFunc func(ctx context.Context, call *Call) error
	PrepareFunc  func(ctx context.Context, call *Call) error
	RenderFunc   func(ctx context.Context, call *Call) (string, error)
	ParseFunc    func(ctx context.Context, call *Call) error
	GradeFunc    func(ctx context.Context, call *Call) error
	TestFunc     func(ctx context.Context, call *Call) error
	FileFunc     func(ctx context.Context, call *Call) ([]byte, error)
}

func (f Funcs) Invoke(ctx context.Context, call *Call) (Result, error) {
	var mutate func(context.Context, *Call) error
	switch call.Phase {
	case qdata.PhaseGenerate:
		mutate = f.GenerateFunc
	case qdata.PhasePrepare:
		mutate = f.PrepareFunc
	case qdata.PhaseParse:
		mutate = f.ParseFunc
	case qdata.PhaseGrade:
		mutate = f.GradeFunc
	case qdata.PhaseTest:
		mutate = f.TestFunc
	case qdata.PhaseRender:
		if f.RenderFunc == nil {
			return Result{}, ErrNotImplemented
		}
		out, err := f.RenderFunc(ctx, call)
		return Result{HTML: out}, err
	case qdata.PhaseFile:
		if f.FileFunc == nil {
			return Result{}, ErrNotImplemented
		}
		b, err := f.FileFunc(ctx, call)
		return Result{File: b}, err
	}
	if mutate == nil {
		return Result{}, ErrNotImplemented
	}
	return Result{}, mutate(ctx, call)
}

// Env describes where a controller is being constructed.
type Env struct {
	Tag        string
	Source     Source
	Dir        string
	SearchPath []string
}

// Factory constructs a controller. It runs with the working directory set
// to env.Dir.
type Factory func(env Env) (any, error)

// Static returns a factory that always yields ctrl.
func Static(ctrl any) Factory {
	return func(Env) (any, error) { return ctrl, nil }
}

// Catalog maps controller names to native Go factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name.
func (c *Catalog) Register(name string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[name] = f
}

// Lookup returns the factory for name, also trying name without its file
// extension so that "el-x.py" resolves to a native "el-x".
func (c *Catalog) Lookup(name string) (Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if f, ok := c.factories[name]; ok {
		return f, true
	}
	if stem := trimExt(name); stem != name {
		f, ok := c.factories[stem]
		return f, ok
	}
	return nil, false
}

func trimExt(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
