package artifacts

import (
	"fmt"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/filter"
)

// NormalizeFilterConfig compiles the artifact-filter discriminated union
// accepted by .craft.yml into a list of craft.ArtifactFilter: a bare
// string or []string is one filter matching any workflow run; a
// map[workflowPattern]→(string|[]string) is one filter per key, scoped to
// runs whose name matches that workflow pattern.
func NormalizeFilterConfig(raw interface{}) ([]craft.ArtifactFilter, error) {
	out, err := normalizeFilterConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := validate(out); err != nil {
		return nil, errs.Wrap(errs.Configuration, "artifact filter config", err)
	}
	return out, nil
}

func normalizeFilterConfig(raw interface{}) ([]craft.ArtifactFilter, error) {
	switch v := raw.(type) {
	case nil:
		return nil, errs.Configurationf("artifacts", "artifact filter config is required")
	case string:
		names, err := filter.CompileAll([]string{v})
		if err != nil {
			return nil, errs.Wrap(errs.Configuration, "invalid artifact pattern", err)
		}
		return []craft.ArtifactFilter{{ArtifactNames: names}}, nil
	case []string:
		names, err := filter.CompileAll(v)
		if err != nil {
			return nil, errs.Wrap(errs.Configuration, "invalid artifact pattern", err)
		}
		return []craft.ArtifactFilter{{ArtifactNames: names}}, nil
	case []interface{}:
		strs := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, errs.Configurationf("artifacts", "artifact pattern list must contain only strings, got %T", e)
			}
			strs = append(strs, s)
		}
		return normalizeFilterConfig(strs)
	case map[string]interface{}:
		out := make([]craft.ArtifactFilter, 0, len(v))
		for workflowPattern, patterns := range v {
			workflowRe, err := filter.Compile(workflowPattern)
			if err != nil {
				return nil, errs.Wrap(errs.Configuration, "invalid workflow pattern", err)
			}
			var artifactPatterns []string
			switch p := patterns.(type) {
			case string:
				artifactPatterns = []string{p}
			case []interface{}:
				for _, e := range p {
					s, ok := e.(string)
					if !ok {
						return nil, errs.Configurationf("artifacts", "artifact pattern list must contain only strings, got %T", e)
					}
					artifactPatterns = append(artifactPatterns, s)
				}
			default:
				return nil, errs.Configurationf("artifacts", "unsupported artifact pattern value type %T for workflow %q", patterns, workflowPattern)
			}
			names, err := filter.CompileAll(artifactPatterns)
			if err != nil {
				return nil, errs.Wrap(errs.Configuration, "invalid artifact pattern", err)
			}
			out = append(out, craft.ArtifactFilter{WorkflowPattern: workflowRe, ArtifactNames: names})
		}
		if len(out) == 0 {
			return nil, errs.Configurationf("artifacts", "workflow-keyed artifact filter must have at least one entry")
		}
		return out, nil
	default:
		return nil, errs.Configurationf("artifacts", "unsupported artifact filter config type %T", raw)
	}
}

// validate enforces that every filter has at least one artifact pattern,
// per the data-model invariant on WorkflowRun/Artifact filter.
func validate(filters []craft.ArtifactFilter) error {
	for i, f := range filters {
		if len(f.ArtifactNames) == 0 {
			return fmt.Errorf("filter %d: artifacts list must be non-empty", i)
		}
	}
	return nil
}
