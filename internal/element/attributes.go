package element

import (
	"sort"
	"strconv"
	"strings"

	"github.com/p-n-ai/pai-elements/internal/qerr"
)

// AnswersNameAttr is the attribute through which an element declares the
// answer name it owns.
const AnswersNameAttr = "answers-name"

// AttributeSpec is the attribute whitelist of an element.
type AttributeSpec struct {
	Required []string
	// Optional maps attribute names to their default values.
	Optional map[string]string
}

// Allows reports whether name is a legal attribute.
func (s AttributeSpec) Allows(name string) bool {
	if strings.HasPrefix(name, "data-") {
		return true
	}
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	_, ok := s.Optional[name]
	return ok
}

// Attributes gives typed access to an element's attributes, with descriptor
// defaults applied.
type Attributes struct {
	tag      string
	values   map[string]string
	defaults map[string]string
}

// NewAttributes builds the attribute view for one element.
func NewAttributes(tag string, values map[string]string, spec *AttributeSpec) Attributes {
	a := Attributes{tag: tag, values: values}
	if spec != nil {
		a.defaults = spec.Optional
	}
	if a.values == nil {
		a.values = map[string]string{}
	}
	return a
}

// Check validates the attributes against spec: every required attribute is
// present and every present attribute is legal.
func (a Attributes) Check(spec AttributeSpec) error {
	for _, name := range spec.Required {
		if _, ok := a.values[name]; !ok {
			return qerr.Content(a.tag, name, "missing required attribute %s", name)
		}
	}
	names := make([]string, 0, len(a.values))
	for name := range a.values {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !spec.Allows(name) {
			return qerr.Content(a.tag, name, "unknown attribute %s", name)
		}
	}
	return nil
}

// Has reports whether the attribute is set on the element.
func (a Attributes) Has(name string) bool {
	_, ok := a.values[name]
	return ok
}

func (a Attributes) lookup(name string) (string, bool) {
	if v, ok := a.values[name]; ok {
		return v, true
	}
	if v, ok := a.defaults[name]; ok {
		return v, true
	}
	return "", false
}

// Required returns the attribute or a content error when it is absent.
func (a Attributes) Required(name string) (string, error) {
	v, ok := a.values[name]
	if !ok {
		return "", qerr.Content(a.tag, name, "missing required attribute %s", name)
	}
	return v, nil
}

// String returns the attribute, its descriptor default, or def.
func (a Attributes) String(name, def string) string {
	if v, ok := a.lookup(name); ok {
		return v
	}
	return def
}

// Int parses an integer attribute.
func (a Attributes) Int(name string, def int) (int, error) {
	v, ok := a.lookup(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, qerr.Content(a.tag, name, "attribute %s must be an integer, got %q", name, v)
	}
	return n, nil
}

// Float parses a numeric attribute.
func (a Attributes) Float(name string, def float64) (float64, error) {
	v, ok := a.lookup(name)
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, qerr.Content(a.tag, name, "attribute %s must be a number, got %q", name, v)
	}
	return f, nil
}

// Bool parses a boolean attribute (true/false, t/f, 1/0, yes/no).
func (a Attributes) Bool(name string, def bool) (bool, error) {
	v, ok := a.lookup(name)
	if !ok || v == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "t", "1", "yes", "y":
		return true, nil
	case "false", "f", "0", "no", "n":
		return false, nil
	}
	return false, qerr.Content(a.tag, name, "attribute %s must be a boolean, got %q", name, v)
}

// Map returns a copy of the raw attributes.
func (a Attributes) Map() map[string]string {
	out := make(map[string]string, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}
