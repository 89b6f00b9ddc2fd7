package qdata

import (
	"sort"
	"strings"

	"github.com/p-n-ai/pai-elements/internal/qerr"
)

// Validate checks the dictionary returned by a controller against the
// pre-call snapshot old. It fails with a contract error when next carries
// keys outside the phase schema, lacks keys, holds a value of the wrong type,
// or changed a key that is not writable in phase.
func Validate(old, next Data, phase Phase) error {
	var extra []string
	for key := range next {
		if !PresentIn(key, phase) {
			extra = append(extra, key)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return qerr.Contract(extra[0], "data contains extra keys: %s", strings.Join(extra, ", "))
	}

	missing := map[string]bool{}
	for key := range old {
		if v, ok := next[key]; !ok || v == nil {
			missing[key] = true
		}
	}
	for _, key := range KeysFor(phase) {
		if v, ok := next[key]; !ok || v == nil {
			missing[key] = true
		}
	}
	if len(missing) > 0 {
		keys := make([]string, 0, len(missing))
		for k := range missing {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return qerr.Contract(keys[0], "data is missing keys: %s", strings.Join(keys, ", "))
	}

	for _, key := range KeysFor(phase) {
		if err := checkType(key, next[key]); err != nil {
			return &qerr.Error{
				Kind:    qerr.KindContract,
				Phase:   string(phase),
				Field:   key,
				Message: "data[" + key + "] has an invalid value",
				Err:     err,
			}
		}
	}

	for _, key := range KeysFor(phase) {
		if WritableIn(key, phase) {
			continue
		}
		prev, ok := old[key]
		if !ok {
			continue
		}
		if !unchanged(key, prev, next[key]) {
			e := qerr.Contract(key, "data[%s] has been illegally modified", key)
			e.Phase = string(phase)
			return e
		}
	}
	return nil
}

func unchanged(key string, a, b any) bool {
	if key != KeyExtensions {
		return Equal(a, b)
	}
	// Namespaces contain callables; compare the set of extension names.
	na, nb := namespaceNames(a), namespaceNames(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

func namespaceNames(v any) []string {
	var names []string
	switch t := v.(type) {
	case map[string]map[string]any:
		for k := range t {
			names = append(names, k)
		}
	case map[string]any:
		for k := range t {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}
