// Package sandbox serializes access to the process-wide state that element
// calls depend on: the working directory and the controller search path.
//
// A call enters a Scope, runs, and releases it; release restores the
// previous working directory and search path on every exit path. Only one
// scope may be held at a time per process.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

var (
	mu sync.Mutex

	pathMu     sync.RWMutex
	searchPath []string
)

// Scope is the environment of one element call.
type Scope struct {
	Dir string
	// SearchPath entries are prepended, in order, to the current path.
	SearchPath []string
}

// Enter acquires the sandbox for s. The returned release must be called
// exactly once; extra calls are ignored.
func Enter(s Scope) (release func(), err error) {
	mu.Lock()

	prevDir, err := os.Getwd()
	if err != nil {
		mu.Unlock()
		return nil, fmt.Errorf("reading working directory: %w", err)
	}
	if s.Dir != "" {
		if err := os.Chdir(s.Dir); err != nil {
			mu.Unlock()
			return nil, fmt.Errorf("entering %s: %w", s.Dir, err)
		}
	}

	pathMu.Lock()
	prevPath := searchPath
	searchPath = append(slices.Clone(s.SearchPath), prevPath...)
	pathMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			pathMu.Lock()
			searchPath = prevPath
			pathMu.Unlock()
			_ = os.Chdir(prevDir)
			mu.Unlock()
		})
	}, nil
}

// Do runs fn inside s.
func Do(s Scope, fn func() error) error {
	release, err := Enter(s)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

// Within switches the working directory to dir for the duration of fn and
// restores it afterwards. It does not take the sandbox lock; callers use it
// for nested calls made while a scope is held.
func Within(dir string, fn func() error) error {
	prev, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("reading working directory: %w", err)
	}
	if err := os.Chdir(dir); err != nil {
		return fmt.Errorf("entering %s: %w", dir, err)
	}
	defer os.Chdir(prev)
	return fn()
}

// SearchPath returns the current search path.
func SearchPath() []string {
	pathMu.RLock()
	defer pathMu.RUnlock()
	return slices.Clone(searchPath)
}

// PathList joins entries with the platform list separator, for
// environment variables such as PYTHONPATH.
func PathList(entries []string) string {
	return strings.Join(entries, string(os.PathListSeparator))
}

// ErrNotFound is returned by Resolve when no entry contains the file.
var ErrNotFound = errors.New("file not found on search path")

// Resolve finds name relative to the working directory, then along the
// search path.
func Resolve(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return name, nil
	}
	if _, err := os.Stat(name); err == nil {
		return filepath.Abs(name)
	}
	for _, dir := range SearchPath() {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s: %w", name, ErrNotFound)
}
