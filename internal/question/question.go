// Package question loads questions and drives their variants through the
// element pipeline: prepare, render, parse and grade, test and file.
package question

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/p-n-ai/pai-elements/internal/element"
	"github.com/p-n-ai/pai-elements/internal/qerr"
	"github.com/p-n-ai/pai-elements/internal/sandbox"
)

// TemplateFile is the question template inside a question directory.
const TemplateFile = "question.html"

// scriptFiles are the authoring scripts picked up when info names none.
var scriptFiles = []string{"server.py", "server.sh"}

var infoFiles = []string{"info.json", "info.yaml", "info.yml"}

// Info is the question metadata.
type Info struct {
	UUID          string   `json:"uuid" yaml:"uuid" validate:"omitempty,uuid"`
	Title         string   `json:"title" yaml:"title" validate:"required"`
	Topic         string   `json:"topic" yaml:"topic"`
	Tags          []string `json:"tags" yaml:"tags" validate:"dive,required"`
	SingleVariant bool     `json:"singleVariant" yaml:"singleVariant"`
	// Server names the authoring controller: a catalog entry or a file in
	// the question directory.
	Server string `json:"server" yaml:"server" validate:"omitempty,excludesall=/\\"`
}

// Question is a loaded question.
type Question struct {
	ID       string
	Dir      string
	Info     Info
	Template string
	// Controller is the authoring script, nil when the question has none.
	Controller any
}

// Scope returns the sandbox scope of authoring script calls.
func (q *Question) Scope() sandbox.Scope {
	return sandbox.Scope{Dir: q.Dir, SearchPath: []string{q.Dir}}
}

var validate = validator.New()

// ErrNoTemplate is returned for a directory without question.html.
var ErrNoTemplate = errors.New("no question template")

// Load reads the question in dir and resolves its authoring controller.
func Load(dir string, catalog *element.Catalog, runners element.Runners) (*Question, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	tpl, err := os.ReadFile(filepath.Join(abs, TemplateFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoTemplate, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("reading template: %w", err)
	}

	info, err := readInfo(abs)
	if err != nil {
		return nil, err
	}

	q := &Question{
		ID:       filepath.Base(abs),
		Dir:      abs,
		Info:     info,
		Template: string(tpl),
	}

	name := info.Server
	if name == "" {
		for _, f := range scriptFiles {
			if _, err := os.Stat(filepath.Join(abs, f)); err == nil {
				name = f
				break
			}
		}
	}
	if name == "" {
		return q, nil
	}

	env := element.Env{Tag: "question", Dir: abs, SearchPath: []string{abs}}
	err = sandbox.Do(q.Scope(), func() error {
		var err error
		q.Controller, err = element.Resolve(catalog, runners, env, name)
		return err
	})
	if err != nil {
		return nil, qerr.Load("question", name, err)
	}
	return q, nil
}

func readInfo(dir string) (Info, error) {
	var info Info
	for _, name := range infoFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return info, fmt.Errorf("reading %s: %w", path, err)
		}
		if strings.HasSuffix(name, ".json") {
			err = json.Unmarshal(data, &info)
		} else {
			err = yaml.Unmarshal(data, &info)
		}
		if err != nil {
			return info, fmt.Errorf("decoding %s: %w", path, err)
		}
		if err := validate.Struct(info); err != nil {
			return info, fmt.Errorf("validating %s: %w", path, err)
		}
		return info, nil
	}
	return info, fmt.Errorf("no question info in %s", dir)
}

// Bank holds every question found under a root directory.
type Bank struct {
	root      string
	questions map[string]*Question
	mu        sync.RWMutex
}

// LoadBank loads every directory under root that carries a question
// template. Question IDs are slash-separated paths relative to root.
// Questions that fail to load are skipped with a warning.
func LoadBank(root string, catalog *element.Catalog, runners element.Runners) (*Bank, error) {
	b := &Bank{root: root, questions: make(map[string]*Question)}

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != TemplateFile {
			return nil
		}
		dir := filepath.Dir(path)
		q, err := Load(dir, catalog, runners)
		if err != nil {
			slog.Warn("skipping invalid question", "path", dir, "error", err)
			return nil
		}
		rel, err := filepath.Rel(root, dir)
		if err != nil {
			return err
		}
		if rel != "." {
			q.ID = filepath.ToSlash(rel)
		}
		b.questions[q.ID] = q
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading questions: %w", err)
	}

	slog.Info("questions loaded", "root", root, "questions", len(b.questions))
	return b, nil
}

// Get returns a question by ID.
func (b *Bank) Get(id string) (*Question, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.questions[id]
	return q, ok
}

// All returns every question, ordered by ID.
func (b *Bank) All() []*Question {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Question, 0, len(b.questions))
	for _, q := range b.questions {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
