package element

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/sandbox"
)

// LoaderConfig configures controller resolution.
type LoaderConfig struct {
	Catalog *Catalog
	Runners Runners
	// SharedPath is the well-known library directory put first on every
	// element's search path.
	SharedPath string
	// CourseServerFilesPath is added to the search path of course elements.
	CourseServerFilesPath string
}

// Loader resolves descriptors to controllers and caches them per
// descriptor until the registry is refreshed.
type Loader struct {
	reg *Registry
	cfg LoaderConfig

	mu          sync.Mutex
	generation  uint64
	controllers map[*Descriptor]any
	namespaces  map[*ExtensionDescriptor]map[string]any
}

// NewLoader creates a loader over reg.
func NewLoader(reg *Registry, cfg LoaderConfig) *Loader {
	if cfg.Catalog == nil {
		cfg.Catalog = NewCatalog()
	}
	return &Loader{
		reg:         reg,
		cfg:         cfg,
		controllers: make(map[*Descriptor]any),
		namespaces:  make(map[*ExtensionDescriptor]map[string]any),
	}
}

// Registry returns the registry the loader reads from.
func (l *Loader) Registry() *Registry { return l.reg }

// SearchPath returns the search path entries for d, in order: the shared
// path, the course server files (course elements only), the element
// directory.
func (l *Loader) SearchPath(d *Descriptor) []string {
	var path []string
	if l.cfg.SharedPath != "" {
		path = append(path, l.cfg.SharedPath)
	}
	if d.Source == SourceCourse && l.cfg.CourseServerFilesPath != "" {
		path = append(path, l.cfg.CourseServerFilesPath)
	}
	return append(path, d.Dir)
}

// Scope returns the sandbox scope of calls into d.
func (l *Loader) Scope(d *Descriptor) sandbox.Scope {
	return sandbox.Scope{Dir: d.Dir, SearchPath: l.SearchPath(d)}
}

func (l *Loader) resetIfStale() {
	if gen := l.reg.Generation(); gen != l.generation {
		l.generation = gen
		l.controllers = make(map[*Descriptor]any)
		l.namespaces = make(map[*ExtensionDescriptor]map[string]any)
	}
}

// Load returns the controller of d, constructing it inside d's scope on
// first use. Failures are element load errors.
func (l *Loader) Load(d *Descriptor) (any, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resetIfStale()
	if ctrl, ok := l.controllers[d]; ok {
		return ctrl, nil
	}

	env := Env{Tag: d.Tag, Source: d.Source, Dir: d.Dir, SearchPath: l.SearchPath(d)}
	var ctrl any
	err := sandbox.Do(l.Scope(d), func() error {
		var err error
		ctrl, err = Resolve(l.cfg.Catalog, l.cfg.Runners, env, d.Controller)
		return err
	})
	if err != nil {
		return nil, qerr.Load(d.Tag, d.Controller, err)
	}
	l.controllers[d] = ctrl
	return ctrl, nil
}

// Resolve finds the controller called name for env: a catalog factory
// first, then a controller file in env.Dir run through its runner.
func Resolve(catalog *Catalog, runners Runners, env Env, name string) (any, error) {
	if catalog != nil {
		if f, ok := catalog.Lookup(name); ok {
			ctrl, err := f(env)
			if err != nil {
				return nil, fmt.Errorf("constructing %s: %w", name, err)
			}
			return ctrl, nil
		}
	}

	path := filepath.Join(env.Dir, name)
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrControllerNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", path, err)
	}
	runner, ok := runners[filepath.Ext(name)]
	if !ok || runner.Command == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoRunner, name)
	}
	return &ProcessController{Path: path, Runner: runner, Dir: env.Dir, SearchPath: env.SearchPath}, nil
}
