package element

import (
	"fmt"
	"reflect"

	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/sandbox"
)

// Exporter is implemented by extension controllers. Exports returns the
// extension's namespace: callables and plain values.
type Exporter interface {
	Exports() map[string]any
}

// LoadExtensions returns the namespace of every extension registered under
// tag, keyed by extension name. Callables are wrapped so that each call runs
// with the working directory set to the extension's directory.
// The caller must not hold a sandbox scope.
func (l *Loader) LoadExtensions(tag string) (map[string]map[string]any, error) {
	exts := l.reg.Extensions(tag)
	out := make(map[string]map[string]any, len(exts))
	for _, e := range exts {
		ns, err := l.loadExtension(e)
		if err != nil {
			return nil, err
		}
		out[e.Name] = ns
	}
	return out, nil
}

func (l *Loader) loadExtension(e *ExtensionDescriptor) (map[string]any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfStale()
	if ns, ok := l.namespaces[e]; ok {
		return ns, nil
	}

	ns := map[string]any{}
	if e.Controller != "" {
		env := Env{Tag: e.Parent, Source: SourceExtension, Dir: e.Dir, SearchPath: l.extensionSearchPath(e)}
		var ctrl any
		err := sandbox.Do(sandbox.Scope{Dir: e.Dir, SearchPath: env.SearchPath}, func() error {
			var err error
			ctrl, err = Resolve(l.cfg.Catalog, l.cfg.Runners, env, e.Controller)
			return err
		})
		if err != nil {
			return nil, qerr.Load(e.Parent, e.Name+"/"+e.Controller, err)
		}
		switch c := ctrl.(type) {
		case Exporter:
			for name, v := range c.Exports() {
				ns[name] = wrapCallable(e.Dir, v)
			}
		case *ProcessController:
			ns["path"] = c.Path
		}
	}
	l.namespaces[e] = ns
	return ns, nil
}

func (l *Loader) extensionSearchPath(e *ExtensionDescriptor) []string {
	var path []string
	if l.cfg.SharedPath != "" {
		path = append(path, l.cfg.SharedPath)
	}
	if l.cfg.CourseServerFilesPath != "" {
		path = append(path, l.cfg.CourseServerFilesPath)
	}
	return append(path, e.Dir)
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// wrapCallable returns fn wrapped to run inside dir; other values are
// returned unchanged. If the directory cannot be entered the wrapper
// returns the error through fn's trailing error result, or panics when fn
// has none.
func wrapCallable(dir string, fn any) any {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return fn
	}
	t := v.Type()
	return reflect.MakeFunc(t, func(args []reflect.Value) []reflect.Value {
		var out []reflect.Value
		err := sandbox.Within(dir, func() error {
			if t.IsVariadic() {
				out = v.CallSlice(args)
			} else {
				out = v.Call(args)
			}
			return nil
		})
		if err == nil {
			return out
		}
		n := t.NumOut()
		if n == 0 || t.Out(n-1) != errorType {
			panic(fmt.Errorf("extension call: %w", err))
		}
		out = make([]reflect.Value, n)
		for i := 0; i < n-1; i++ {
			out[i] = reflect.Zero(t.Out(i))
		}
		out[n-1] = reflect.ValueOf(&err).Elem()
		return out
	}).Interface()
}
