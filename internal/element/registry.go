package element

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// RegistryConfig locates the element directories.
type RegistryConfig struct {
	CoreDir             string
	CourseElementsDir   string
	CourseExtensionsDir string
}

// Registry maps tags to element descriptors. It is built from a filesystem
// scan and rebuilt by Refresh.
type Registry struct {
	cfg RegistryConfig

	mu         sync.RWMutex
	elements   map[string]*Descriptor
	extensions map[string]map[string]*ExtensionDescriptor
	generation uint64
}

// NewRegistry scans the configured directories.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	r := &Registry{cfg: cfg}
	if err := r.Refresh(); err != nil {
		return nil, fmt.Errorf("loading elements: %w", err)
	}
	return r, nil
}

// Refresh rescans every directory and bumps the generation, which drops
// controllers cached by loaders.
func (r *Registry) Refresh() error {
	elements := make(map[string]*Descriptor)
	if r.cfg.CoreDir != "" {
		if err := scanElements(r.cfg.CoreDir, SourceCore, false, elements); err != nil {
			return err
		}
	}
	if r.cfg.CourseElementsDir != "" {
		if err := scanElements(r.cfg.CourseElementsDir, SourceCourse, true, elements); err != nil {
			return err
		}
	}
	extensions := make(map[string]map[string]*ExtensionDescriptor)
	if r.cfg.CourseExtensionsDir != "" {
		if err := scanExtensions(r.cfg.CourseExtensionsDir, extensions); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.elements = elements
	r.extensions = extensions
	r.generation++
	r.mu.Unlock()

	slog.Info("elements loaded", "elements", len(elements), "extensions", countExtensions(extensions))
	return nil
}

func scanElements(root string, source Source, optional bool, into map[string]*Descriptor) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading %s elements: %w", source, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		d, err := ReadDescriptor(dir, source)
		if errors.Is(err, ErrNoDescriptor) {
			continue
		}
		if err != nil {
			slog.Warn("skipping invalid element descriptor", "path", dir, "error", err)
			continue
		}
		if prev, ok := into[d.Tag]; ok && prev.Source != source {
			slog.Debug("element shadowed", "tag", d.Tag, "by", source, "dir", d.Dir)
		}
		into[d.Tag] = d
	}
	return nil
}

func scanExtensions(root string, into map[string]map[string]*ExtensionDescriptor) error {
	parents, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("reading element extensions: %w", err)
	}
	for _, parent := range parents {
		if !parent.IsDir() {
			continue
		}
		tag := strings.ToLower(parent.Name())
		exts, err := os.ReadDir(filepath.Join(root, parent.Name()))
		if err != nil {
			return fmt.Errorf("reading extensions of %s: %w", tag, err)
		}
		for _, ext := range exts {
			if !ext.IsDir() || strings.HasPrefix(ext.Name(), ".") {
				continue
			}
			dir := filepath.Join(root, parent.Name(), ext.Name())
			e, err := ReadExtension(tag, dir)
			if err != nil {
				slog.Warn("skipping invalid extension descriptor", "path", dir, "error", err)
				continue
			}
			if into[tag] == nil {
				into[tag] = make(map[string]*ExtensionDescriptor)
			}
			into[tag][e.Name] = e
		}
	}
	return nil
}

func countExtensions(m map[string]map[string]*ExtensionDescriptor) int {
	n := 0
	for _, exts := range m {
		n += len(exts)
	}
	return n
}

// Lookup returns the descriptor registered for tag. Tags are matched
// case-insensitively, as HTML parsing lowercases them.
func (r *Registry) Lookup(tag string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.elements[strings.ToLower(tag)]
	return d, ok
}

// Extensions returns the extensions registered under tag, ordered by name.
// They apply to whichever descriptor currently owns the tag.
func (r *Registry) Extensions(tag string) []*ExtensionDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := r.extensions[strings.ToLower(tag)]
	out := make([]*ExtensionDescriptor, 0, len(exts))
	for _, e := range exts {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Tags returns every registered tag, sorted.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.elements))
	for t := range r.elements {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// Generation counts completed scans.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// Dependencies collects the client assets of the given tags and their
// extensions. Unknown tags are ignored.
func (r *Registry) Dependencies(tags []string) DependencySet {
	var set DependencySet
	for _, tag := range tags {
		d, ok := r.Lookup(tag)
		if !ok {
			continue
		}
		set.Add(d)
		for _, e := range r.Extensions(tag) {
			set.AddExtension(e)
		}
	}
	return set
}
