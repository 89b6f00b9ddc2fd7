package element

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/p-n-ai/pai-elements/internal/qdata"
	"github.com/p-n-ai/pai-elements/internal/sandbox"
)

var (
	// ErrControllerNotFound means neither the catalog nor the element
	// directory provides the controller.
	ErrControllerNotFound = errors.New("controller not found")
	// ErrNoRunner means a controller file has an extension with no
	// configured interpreter.
	ErrNoRunner = errors.New("no runner for controller file")
	// ErrProcessExit means the controller process exited non-zero.
	ErrProcessExit = errors.New("controller process failed")
	// ErrBadOutput means the controller process wrote something other than
	// a valid response, or reported an error in it.
	ErrBadOutput = errors.New("controller returned invalid output")
)

// Runner is the interpreter used for controller files of one extension.
type Runner struct {
	Command string
	Args    []string
}

// Runners maps a file extension (".py") to its interpreter.
type Runners map[string]Runner

// DefaultRunners returns interpreters for Python and shell controllers.
func DefaultRunners(python, shell string) Runners {
	return Runners{
		".py": {Command: python},
		".sh": {Command: shell},
	}
}

type processRequest struct {
	Phase       string            `json:"phase"`
	Tag         string            `json:"tag,omitempty"`
	ElementHTML string            `json:"element_html,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Data        qdata.Data        `json:"data"`
	Extensions  []string          `json:"extensions,omitempty"`
}

type processResponse struct {
	Implemented *bool          `json:"implemented"`
	Data        map[string]any `json:"data"`
	HTML        string         `json:"html"`
	File        []byte         `json:"file"`
	Error       string         `json:"error"`
}

// ProcessController runs a controller file in a child process, one process
// per call. The request is written to stdin as JSON and the response read
// from stdout. The process starts in Dir with PYTHONPATH and
// ELEMENT_SEARCH_PATH set to SearchPath.
type ProcessController struct {
	Path       string
	Runner     Runner
	Dir        string
	SearchPath []string
}

// Invoke implements Invoker.
func (p *ProcessController) Invoke(ctx context.Context, call *Call) (Result, error) {
	req := processRequest{
		Phase:       string(call.Phase),
		Tag:         call.Tag,
		ElementHTML: call.HTML,
		Attributes:  call.Attrs.Map(),
		Data:        call.Data.WithoutExtensions(),
	}
	for name := range call.Extensions() {
		req.Extensions = append(req.Extensions, name)
	}
	sort.Strings(req.Extensions)

	input, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encoding request: %w", err)
	}

	args := append(append([]string{}, p.Runner.Args...), p.Path)
	cmd := exec.CommandContext(ctx, p.Runner.Command, args...)
	cmd.Dir = p.Dir
	path := sandbox.PathList(p.SearchPath)
	cmd.Env = append(os.Environ(), "PYTHONPATH="+path, "ELEMENT_SEARCH_PATH="+path)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("%w: %s: %v: %s", ErrProcessExit, p.Path, err, strings.TrimSpace(stderr.String()))
	}

	var resp processResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrBadOutput, p.Path, err)
	}
	if resp.Error != "" {
		return Result{}, fmt.Errorf("%w: %s: %s", ErrBadOutput, p.Path, resp.Error)
	}
	if resp.Implemented != nil && !*resp.Implemented {
		return Result{}, ErrNotImplemented
	}
	if resp.Data != nil {
		applyData(call.Data, resp.Data)
	}
	return Result{HTML: resp.HTML, File: resp.File}, nil
}

// applyData replaces the contents of dst with src, keeping the injected
// extensions, so the validator sees exactly what the process returned. A
// pending score the process handed back unchanged stays pending.
func applyData(dst qdata.Data, src map[string]any) {
	ext, hasExt := dst[qdata.KeyExtensions]
	if p, ok := dst[qdata.KeyScore].(qdata.PendingScore); ok {
		if n, ok := qdata.Number(src[qdata.KeyScore]); ok && n == float64(p) {
			src[qdata.KeyScore] = p
		}
	}
	for k := range dst {
		delete(dst, k)
	}
	for k, v := range src {
		dst[k] = v
	}
	if hasExt {
		dst[qdata.KeyExtensions] = ext
	}
}
