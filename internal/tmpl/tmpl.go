// Package tmpl performs mustache substitution for question templates and
// element templates.
package tmpl

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/cbroglie/mustache"

	"github.com/p-n-ai/pai-elements/internal/qdata"
)

// Mode controls what happens when a template refers to a variable that the
// context does not define.
type Mode int

const (
	// Silent renders missing variables as empty text.
	Silent Mode = iota
	// Warn renders missing variables as empty text and logs a warning.
	Warn
)

// Substitute expands {{params.x}}, {{correct_answers.x}} and {{options.x}}
// placeholders in a question template.
func Substitute(template string, data qdata.Data, mode Mode) (string, error) {
	ctx := map[string]any{
		qdata.KeyParams:         data.Params(),
		qdata.KeyCorrectAnswers: data.CorrectAnswers(),
		qdata.KeyOptions:        data.Options(),
		qdata.KeyVariantSeed:    data[qdata.KeyVariantSeed],
	}
	return Render(template, ctx, mode)
}

// strictMu guards mustache.AllowMissingVariables, which the library reads
// at render time.
var strictMu sync.Mutex

// Render expands template against ctx.
func Render(template string, ctx map[string]any, mode Mode) (string, error) {
	t, err := mustache.ParseString(template)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	strictMu.Lock()
	defer strictMu.Unlock()

	if mode == Warn {
		mustache.AllowMissingVariables = false
		out, err := t.Render(ctx)
		mustache.AllowMissingVariables = true
		if err == nil {
			return out, nil
		}
		slog.Warn("template variable missing", "error", err)
	}

	out, err := t.Render(ctx)
	if err != nil {
		return "", fmt.Errorf("rendering template: %w", err)
	}
	return out, nil
}

// RenderFile expands the template stored at path. Element controllers call
// it with paths relative to their own directory.
func RenderFile(path string, ctx map[string]any) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading template: %w", err)
	}
	return Render(string(b), ctx, Silent)
}
