package artifacts

import (
	"regexp"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/filter"
)

// BuildFilter compiles a TargetConfig's IncludeNames/ExcludeNames pair into
// a craft.ArtifactFilter (inclusion only, matching the targetdef.ArtifactProvider
// contract) plus a separate exclude pattern, since ArtifactFilter itself
// models only the union of include patterns a filter-string config can name.
func BuildFilter(cfg craft.TargetConfig) (craft.ArtifactFilter, *regexp.Regexp, error) {
	if cfg.IncludeNames == "" {
		return craft.ArtifactFilter{}, nil, errs.Configurationf("includeNames", "target %q has no includeNames pattern", cfg.Key())
	}
	include, err := filter.Compile(cfg.IncludeNames)
	if err != nil {
		return craft.ArtifactFilter{}, nil, errs.Wrap(errs.Configuration, "compile includeNames", err)
	}

	var exclude *regexp.Regexp
	if cfg.ExcludeNames != "" {
		exclude, err = filter.Compile(cfg.ExcludeNames)
		if err != nil {
			return craft.ArtifactFilter{}, nil, errs.Wrap(errs.Configuration, "compile excludeNames", err)
		}
	}

	return craft.ArtifactFilter{ArtifactNames: []*regexp.Regexp{include}}, exclude, nil
}

// ApplyExclude drops every artifact whose name matches exclude. exclude may
// be nil, in which case batch is returned unchanged.
func ApplyExclude(batch []craft.RemoteArtifact, exclude *regexp.Regexp) []craft.RemoteArtifact {
	if exclude == nil {
		return batch
	}
	out := make([]craft.RemoteArtifact, 0, len(batch))
	for _, a := range batch {
		if !exclude.MatchString(a.Filename) {
			out = append(out, a)
		}
	}
	return out
}
