// Package template implements the strict, logic-free substitution engine
// used for GCS upload paths and release-registry URL templates: dotted
// variable access only, no conditionals, no loops. An unknown variable is a
// hard Configuration error rather than a silent empty expansion.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// UnknownVariableError is returned by Render when the template references a
// variable not present in vars (after accounting for the "__" alias of
// dotted keys). Callers map this to a Configuration-kind error.
type UnknownVariableError struct {
	Name string
}

func (e *UnknownVariableError) Error() string {
	return fmt.Sprintf("unknown template variable %q", e.Name)
}

// Render expands every "{{name}}" placeholder in tmpl against vars. vars may
// nest maps (resolved via dotted paths, e.g. {{revision.short}}); flat keys
// that themselves contain a literal dot (e.g. a manifest key "foo.bar") are
// additionally exposed under a "__"-joined alias, so both {{foo.bar}} (a
// nested lookup) and {{foo__bar}} (the literal flat key) can be referenced
// unambiguously.
func Render(tmpl string, vars map[string]interface{}) (string, error) {
	flat := flatten("", vars)

	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := strings.TrimSpace(placeholderPattern.FindStringSubmatch(match)[1])
		val, ok := flat[name]
		if !ok {
			firstErr = &UnknownVariableError{Name: name}
			return match
		}
		return fmt.Sprint(val)
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// EnsureLeadingSlash prepends "/" to path if it doesn't already start with
// one, per the GCS target's path-template requirement.
func EnsureLeadingSlash(path string) string {
	if strings.HasPrefix(path, "/") {
		return path
	}
	return "/" + path
}

// flatten walks vars, producing a map keyed by dotted path ("a.b.c") for
// every leaf value, plus a "__"-joined alias for any path containing a dot.
func flatten(prefix string, vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range vars {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(map[string]interface{}); ok {
			for nk, nv := range flatten(path, nested) {
				out[nk] = nv
			}
			continue
		}
		out[path] = v
	}
	aliases := make(map[string]interface{})
	for path, v := range out {
		if strings.Contains(path, ".") {
			aliases[strings.ReplaceAll(path, ".", "__")] = v
		}
	}
	for k, v := range aliases {
		out[k] = v
	}
	return out
}
