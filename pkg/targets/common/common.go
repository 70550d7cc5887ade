// Package common holds the artifact-selection and bounded-concurrent-
// download boilerplate shared by every language-registry target (spec
// §4.4's "common publish shape"): filter the revision's artifacts by
// includeNames/excludeNames, download the matches, in parallel bounded by
// download concurrency.
package common

import (
	"context"

	"github.com/sourcegraph/conc/pool"

	"github.com/getsentry/craft/pkg/artifacts"
	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/craft/errs"
	"github.com/getsentry/craft/pkg/targetdef"
)

// Downloaded is one matched, downloaded artifact.
type Downloaded struct {
	Artifact craft.RemoteArtifact
	Path     string
}

// SelectAndDownload filters the revision's artifacts per cfg's
// includeNames/excludeNames (artifacts.BuildFilter/ApplyExclude), then
// downloads every match into dstDir, bounded by concurrency downloads
// in-flight at once. concurrency <= 0 uses constants.DefaultArtifactDownloadConcurrency.
func SelectAndDownload(ctx context.Context, provider targetdef.ArtifactProvider, revision craft.Revision, cfg craft.TargetConfig, dstDir string, concurrency int) ([]Downloaded, error) {
	filter, exclude, err := artifacts.BuildFilter(cfg)
	if err != nil {
		return nil, err
	}

	matches, err := provider.FilterArtifactsForRevision(ctx, revision, filter)
	if err != nil {
		return nil, err
	}
	matches = artifacts.ApplyExclude(matches, exclude)
	if len(matches) == 0 {
		return nil, nil
	}

	if concurrency <= 0 {
		concurrency = constants.DefaultArtifactDownloadConcurrency
	}

	results := make([]Downloaded, len(matches))
	p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithMaxGoroutines(concurrency)
	for i, artifact := range matches {
		i, artifact := i, artifact
		p.Go(func(ctx context.Context) error {
			path, err := provider.DownloadArtifact(ctx, artifact, dstDir)
			if err != nil {
				return errs.Wrap(errs.Transient, "download "+artifact.Filename, err)
			}
			results[i] = Downloaded{Artifact: artifact, Path: path}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Paths returns the on-disk paths of every downloaded artifact, in order.
func Paths(downloaded []Downloaded) []string {
	out := make([]string, len(downloaded))
	for i, d := range downloaded {
		out[i] = d.Path
	}
	return out
}
