package element

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Source says where an element comes from.
type Source string

const (
	SourceCore      Source = "core"
	SourceCourse    Source = "course"
	SourceExtension Source = "extension"
)

// Descriptor file names, in lookup order.
var descriptorFiles = []string{"info.json", "info.yaml", "info.yml"}

// ClientFilesExtensionDir is the asset directory of an extension.
const ClientFilesExtensionDir = "clientFilesExtension"

// Dependencies are the client-side assets the host must bundle for an
// element.
type Dependencies struct {
	ElementStyles            []string `json:"elementStyles" yaml:"elementStyles" validate:"dive,required"`
	ElementScripts           []string `json:"elementScripts" yaml:"elementScripts" validate:"dive,required"`
	NodeModulesStyles        []string `json:"nodeModulesStyles" yaml:"nodeModulesStyles" validate:"dive,required"`
	NodeModulesScripts       []string `json:"nodeModulesScripts" yaml:"nodeModulesScripts" validate:"dive,required"`
	ClientFilesCourseStyles  []string `json:"clientFilesCourseStyles" yaml:"clientFilesCourseStyles" validate:"dive,required"`
	ClientFilesCourseScripts []string `json:"clientFilesCourseScripts" yaml:"clientFilesCourseScripts" validate:"dive,required"`
}

// Descriptor describes one element: where it lives, which controller backs
// it and what it needs.
type Descriptor struct {
	Tag          string
	Source       Source
	Dir          string
	Controller   string
	Dependencies Dependencies
	// Attributes is nil when the element does not declare a whitelist.
	Attributes *AttributeSpec
	// Children are tags the element consumes itself; they are not
	// dispatched when nested inside it.
	Children []string
}

// ExtensionDescriptor describes an extension registered under a parent
// element.
type ExtensionDescriptor struct {
	Parent string
	Name   string
	Dir    string
	// Controller is empty for asset-only extensions.
	Controller   string
	Dependencies Dependencies
	ClientFiles  bool
}

type attributesFile struct {
	Required []string       `json:"required" yaml:"required" validate:"dive,attrname"`
	Optional map[string]any `json:"optional" yaml:"optional" validate:"dive,keys,attrname,endkeys"`
}

type descriptorFile struct {
	Controller   string          `json:"controller" yaml:"controller" validate:"omitempty,excludesall=/\\"`
	Dependencies Dependencies    `json:"dependencies" yaml:"dependencies"`
	Attributes   *attributesFile `json:"attributes" yaml:"attributes"`
	Children     []string        `json:"children" yaml:"children" validate:"dive,required,contains=-"`
}

var validate = newValidator()

// attrName is the shape of an attribute name in a descriptor.
var attrName = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("attrname", func(fl validator.FieldLevel) bool {
		return attrName.MatchString(fl.Field().String())
	})
	return v
}

// ErrNoDescriptor is returned when a directory carries no descriptor file.
var ErrNoDescriptor = errors.New("no element descriptor")

// readDescriptorFile decodes the first descriptor file found in dir.
func readDescriptorFile(dir string) (descriptorFile, error) {
	var f descriptorFile
	for _, name := range descriptorFiles {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return f, fmt.Errorf("reading %s: %w", path, err)
		}
		if strings.HasSuffix(name, ".json") {
			err = json.Unmarshal(data, &f)
		} else {
			err = yaml.Unmarshal(data, &f)
		}
		if err != nil {
			return f, fmt.Errorf("decoding %s: %w", path, err)
		}
		if err := validate.Struct(f); err != nil {
			return f, fmt.Errorf("validating %s: %w", path, err)
		}
		return f, nil
	}
	return f, ErrNoDescriptor
}

// ReadDescriptor reads the element descriptor in dir. The tag is the
// directory name; the controller defaults to "<tag>.py".
func ReadDescriptor(dir string, source Source) (*Descriptor, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	f, err := readDescriptorFile(abs)
	if err != nil {
		return nil, err
	}
	tag := strings.ToLower(filepath.Base(abs))
	d := &Descriptor{
		Tag:          tag,
		Source:       source,
		Dir:          abs,
		Controller:   f.Controller,
		Dependencies: f.Dependencies,
		Children:     f.Children,
	}
	if d.Controller == "" {
		d.Controller = tag + ".py"
	}
	if f.Attributes != nil {
		spec := &AttributeSpec{
			Required: slices.Clone(f.Attributes.Required),
			Optional: make(map[string]string, len(f.Attributes.Optional)),
		}
		for name, def := range f.Attributes.Optional {
			spec.Optional[name] = defaultString(def)
		}
		d.Attributes = spec
	}
	return d, nil
}

// ReadExtension reads an extension directory. The descriptor file is
// optional for extensions.
func ReadExtension(parent, dir string) (*ExtensionDescriptor, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}
	f, err := readDescriptorFile(abs)
	if err != nil && !errors.Is(err, ErrNoDescriptor) {
		return nil, err
	}
	e := &ExtensionDescriptor{
		Parent:       parent,
		Name:         filepath.Base(abs),
		Dir:          abs,
		Controller:   f.Controller,
		Dependencies: f.Dependencies,
	}
	if info, err := os.Stat(filepath.Join(abs, ClientFilesExtensionDir)); err == nil && info.IsDir() {
		e.ClientFiles = true
	}
	return e, nil
}

func defaultString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	return fmt.Sprint(v)
}

// Consumes reports whether tag is one of d's child tags.
func (d *Descriptor) Consumes(tag string) bool {
	return slices.Contains(d.Children, strings.ToLower(tag))
}
