package element

import (
	"path"
	"slices"
)

// DependencySet is the de-duplicated, ordered union of client assets the
// host must bundle for a rendered page. Element and extension files are
// qualified with their tag (and extension name).
type DependencySet struct {
	ElementStyles            []string `json:"elementStyles,omitempty"`
	ElementScripts           []string `json:"elementScripts,omitempty"`
	NodeModulesStyles        []string `json:"nodeModulesStyles,omitempty"`
	NodeModulesScripts       []string `json:"nodeModulesScripts,omitempty"`
	ClientFilesCourseStyles  []string `json:"clientFilesCourseStyles,omitempty"`
	ClientFilesCourseScripts []string `json:"clientFilesCourseScripts,omitempty"`
	ExtensionStyles          []string `json:"extensionStyles,omitempty"`
	ExtensionScripts         []string `json:"extensionScripts,omitempty"`
	ExtensionClientFiles     []string `json:"extensionClientFiles,omitempty"`
}

// Add merges the dependencies of d.
func (s *DependencySet) Add(d *Descriptor) {
	deps := d.Dependencies
	s.ElementStyles = appendUnique(s.ElementStyles, qualify(d.Tag, deps.ElementStyles)...)
	s.ElementScripts = appendUnique(s.ElementScripts, qualify(d.Tag, deps.ElementScripts)...)
	s.NodeModulesStyles = appendUnique(s.NodeModulesStyles, deps.NodeModulesStyles...)
	s.NodeModulesScripts = appendUnique(s.NodeModulesScripts, deps.NodeModulesScripts...)
	s.ClientFilesCourseStyles = appendUnique(s.ClientFilesCourseStyles, deps.ClientFilesCourseStyles...)
	s.ClientFilesCourseScripts = appendUnique(s.ClientFilesCourseScripts, deps.ClientFilesCourseScripts...)
}

// AddExtension merges the dependencies of e.
func (s *DependencySet) AddExtension(e *ExtensionDescriptor) {
	prefix := path.Join(e.Parent, e.Name)
	deps := e.Dependencies
	s.ExtensionStyles = appendUnique(s.ExtensionStyles, qualify(prefix, deps.ElementStyles)...)
	s.ExtensionScripts = appendUnique(s.ExtensionScripts, qualify(prefix, deps.ElementScripts)...)
	s.NodeModulesStyles = appendUnique(s.NodeModulesStyles, deps.NodeModulesStyles...)
	s.NodeModulesScripts = appendUnique(s.NodeModulesScripts, deps.NodeModulesScripts...)
	s.ClientFilesCourseStyles = appendUnique(s.ClientFilesCourseStyles, deps.ClientFilesCourseStyles...)
	s.ClientFilesCourseScripts = appendUnique(s.ClientFilesCourseScripts, deps.ClientFilesCourseScripts...)
	if e.ClientFiles {
		s.ExtensionClientFiles = appendUnique(s.ExtensionClientFiles, path.Join(prefix, ClientFilesExtensionDir))
	}
}

// Empty reports whether the set holds no assets.
func (s DependencySet) Empty() bool {
	return len(s.ElementStyles)+len(s.ElementScripts)+len(s.NodeModulesStyles)+
		len(s.NodeModulesScripts)+len(s.ClientFilesCourseStyles)+len(s.ClientFilesCourseScripts)+
		len(s.ExtensionStyles)+len(s.ExtensionScripts)+len(s.ExtensionClientFiles) == 0
}

func qualify(prefix string, files []string) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = path.Join(prefix, f)
	}
	return out
}

func appendUnique(list []string, items ...string) []string {
	for _, it := range items {
		if !slices.Contains(list, it) {
			list = append(list, it)
		}
	}
	return list
}
