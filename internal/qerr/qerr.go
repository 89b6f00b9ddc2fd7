// Package qerr defines the structured errors reported by the question pipeline.
//
// Every error carries a Kind plus the phase, element tag and field it concerns.
// Use errors.Is against the per-kind sentinels, or KindOf, to branch on them.
package qerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline error.
type Kind int

const (
	KindUnknown Kind = iota
	KindContract
	KindElementLoad
	KindElementRuntime
	KindContent
	KindTimeout
	KindPhase
	KindRenderLoop
)

func (k Kind) String() string {
	switch k {
	case KindContract:
		return "contract"
	case KindElementLoad:
		return "element_load"
	case KindElementRuntime:
		return "element_runtime"
	case KindContent:
		return "content"
	case KindTimeout:
		return "timeout"
	case KindPhase:
		return "phase"
	case KindRenderLoop:
		return "render_loop"
	default:
		return "unknown"
	}
}

// Authoring reports whether errors of this kind are meant for the question
// author and abort the current phase.
func (k Kind) Authoring() bool {
	return k == KindContract || k == KindContent || k == KindPhase || k == KindRenderLoop
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrContract       = &Error{Kind: KindContract, Message: "contract violation"}
	ErrElementLoad    = &Error{Kind: KindElementLoad, Message: "element load failed"}
	ErrElementRuntime = &Error{Kind: KindElementRuntime, Message: "element runtime error"}
	ErrContent        = &Error{Kind: KindContent, Message: "invalid question content"}
	ErrTimeout        = &Error{Kind: KindTimeout, Message: "controller timed out"}
	ErrPhase          = &Error{Kind: KindPhase, Message: "invalid phase transition"}
	ErrRenderLoop     = &Error{Kind: KindRenderLoop, Message: "render recursion limit exceeded"}
)

// Error is a structured pipeline error.
type Error struct {
	Kind      Kind
	Phase     string
	Tag       string
	Field     string
	Attribute string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	if e.Message == "" {
		return e.Err.Error()
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t == ErrContract || t == ErrElementLoad || t == ErrElementRuntime ||
		t == ErrContent || t == ErrTimeout || t == ErrPhase || t == ErrRenderLoop)
}

// WithPhase returns a copy of e tagged with phase and tag, keeping values
// already set.
func (e *Error) WithPhase(phase, tag string) *Error {
	c := *e
	if c.Phase == "" {
		c.Phase = phase
	}
	if c.Tag == "" {
		c.Tag = tag
	}
	return &c
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Contract reports an illegal data dictionary shape or mutation.
func Contract(field, format string, args ...any) *Error {
	return &Error{Kind: KindContract, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Content reports a template authoring error attributed to tag.
func Content(tag, attribute, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if tag != "" {
		msg = tag + ": " + msg
	}
	return &Error{Kind: KindContent, Tag: tag, Attribute: attribute, Message: msg}
}

// Load reports a controller that could not be resolved or constructed.
func Load(tag, controller string, err error) *Error {
	return &Error{
		Kind:    KindElementLoad,
		Tag:     tag,
		Field:   controller,
		Message: fmt.Sprintf("%s: loading controller %q", tag, controller),
		Err:     err,
	}
}

// Runtime reports a controller call that failed.
func Runtime(tag, phase string, err error) *Error {
	return &Error{
		Kind:    KindElementRuntime,
		Tag:     tag,
		Phase:   phase,
		Message: fmt.Sprintf("%s: %s failed", tag, phase),
		Err:     err,
	}
}

// Timeout reports a controller call that exceeded its budget.
func Timeout(tag, phase string, budget fmt.Stringer) *Error {
	return &Error{
		Kind:    KindTimeout,
		Tag:     tag,
		Phase:   phase,
		Message: fmt.Sprintf("%s: %s exceeded %s", tag, phase, budget),
	}
}

// Phase reports a variant pipeline transition that is not allowed.
func Phase(from, to string) *Error {
	return &Error{
		Kind:    KindPhase,
		Phase:   to,
		Message: fmt.Sprintf("cannot move variant from %s to %s", from, to),
	}
}

// RenderLoop reports element expansion nested deeper than limit.
func RenderLoop(tag string, limit int) *Error {
	return &Error{
		Kind:    KindRenderLoop,
		Tag:     tag,
		Message: fmt.Sprintf("%s: element expansion exceeded depth %d", tag, limit),
	}
}

// Join combines authoring errors into one, preserving errors.Is behavior.
// It returns nil for an empty list.
func Join(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return joined(errs)
}

type joined []error

func (j joined) Error() string {
	parts := make([]string, len(j))
	for i, e := range j {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

func (j joined) Unwrap() []error { return j }
