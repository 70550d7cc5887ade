package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/constants"
	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/targetdef"
)

func TestNew_RequiresAtLeastOneEntry(t *testing.T) {
	_, err := New(craft.TargetConfig{})
	require.Error(t, err)
}

func TestNew_DecodesEntries(t *testing.T) {
	cfg := craft.TargetConfig{Extra: map[string]interface{}{
		"entries": []interface{}{
			map[string]interface{}{
				"type":      "sdk",
				"canonical": "npm:@sentry/node",
				"checksums": []interface{}{"sha256-hex"},
			},
		},
	}}
	tg, err := New(cfg)
	require.NoError(t, err)
	target, ok := tg.(*Target)
	require.True(t, ok)
	require.Equal(t, constants.DefaultRegistryRepo, target.repoSlug)
	require.Len(t, target.entries, 1)
	require.Equal(t, "npm:@sentry/node", target.entries[0].Canonical)
	require.Equal(t, []craft.ChecksumSpec{{Algorithm: craft.SHA256, Format: craft.Hex}}, target.entries[0].Checksums)
}

func TestNew_RejectsInvalidType(t *testing.T) {
	cfg := craft.TargetConfig{Extra: map[string]interface{}{
		"entries": []interface{}{
			map[string]interface{}{"type": "bogus", "canonical": "x"},
		},
	}}
	_, err := New(cfg)
	require.Error(t, err)
}

func TestNew_RejectsMissingCanonical(t *testing.T) {
	cfg := craft.TargetConfig{Extra: map[string]interface{}{
		"entries": []interface{}{
			map[string]interface{}{"type": "sdk"},
		},
	}}
	_, err := New(cfg)
	require.Error(t, err)
}

type noArtifactsProvider struct{}

func (noArtifactsProvider) FilterArtifactsForRevision(ctx context.Context, revision craft.Revision, filter craft.ArtifactFilter) ([]craft.RemoteArtifact, error) {
	return nil, nil
}
func (noArtifactsProvider) DownloadArtifact(ctx context.Context, artifact craft.RemoteArtifact, dstDir string) (string, error) {
	return "", nil
}
func (noArtifactsProvider) GetChecksum(ctx context.Context, artifact craft.RemoteArtifact, algo craft.ChecksumAlgorithm, format craft.ChecksumFormat) (string, error) {
	return "", nil
}

func TestShouldSkip_PreviewWithoutLinkPrereleases(t *testing.T) {
	target := &Target{}
	req := targetdef.PublishRequest{Version: craft.MustParseVersion("1.0.0-rc.1"), Artifacts: noArtifactsProvider{}}
	skip, err := target.shouldSkip(context.Background(), Entry{LinkPrereleases: false}, req)
	require.NoError(t, err)
	require.True(t, skip)
}

func TestShouldSkip_OnlyIfPresentNoMatch(t *testing.T) {
	target := &Target{}
	e := Entry{LinkPrereleases: true, OnlyIfPresent: `\.tar\.gz$`}
	req := targetdef.PublishRequest{Version: craft.MustParseVersion("1.0.0"), Artifacts: noArtifactsProvider{}}
	skip, err := target.shouldSkip(context.Background(), e, req)
	require.NoError(t, err)
	require.True(t, skip)
}
