package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
	"github.com/getsentry/craft/pkg/targetdef"
	"github.com/getsentry/craft/pkg/targets/common"
)

func TestReadManifest_MissingFileReturnsZeroValue(t *testing.T) {
	m, err := readManifest(filepath.Join(t.TempDir(), "latest.json"))
	require.NoError(t, err)
	require.Equal(t, craft.RegistryManifest{}, m)
}

func TestWriteAndReadManifest_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.0.0.json")
	m := craft.RegistryManifest{Canonical: "npm:@sentry/node", Version: "1.0.0", RepoURL: "https://github.com/getsentry/sentry-javascript"}
	require.NoError(t, writeManifestFile(path, m))

	got, err := readManifest(path)
	require.NoError(t, err)
	require.Equal(t, m.Canonical, got.Canonical)
	require.Equal(t, m.Version, got.Version)
	require.Equal(t, m.RepoURL, got.RepoURL)
}

func TestUpdateSeriesSymlinks_CreatesWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, updateSeriesSymlinks(dir, craft.MustParseVersion("1.2.3"), ""))

	target, err := os.Readlink(filepath.Join(dir, "1.json"))
	require.NoError(t, err)
	require.Equal(t, "1.2.3.json", target)

	target, err = os.Readlink(filepath.Join(dir, "1.2.json"))
	require.NoError(t, err)
	require.Equal(t, "1.2.3.json", target)
}

func TestUpdateSeriesSymlinks_RepointsWhenTargetingPreviousVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Symlink("1.2.3.json", filepath.Join(dir, "1.json")))
	require.NoError(t, os.Symlink("1.2.3.json", filepath.Join(dir, "1.2.json")))

	require.NoError(t, updateSeriesSymlinks(dir, craft.MustParseVersion("1.2.4"), "1.2.3"))

	target, err := os.Readlink(filepath.Join(dir, "1.json"))
	require.NoError(t, err)
	require.Equal(t, "1.2.4.json", target)

	target, err = os.Readlink(filepath.Join(dir, "1.2.json"))
	require.NoError(t, err)
	require.Equal(t, "1.2.4.json", target)
}

func TestUpdateSeriesSymlinks_LeavesNewerSeriesAlone(t *testing.T) {
	dir := t.TempDir()
	// 1.json already points at a newer minor release than the one we're
	// retroactively publishing; must not be clobbered.
	require.NoError(t, os.Symlink("1.5.0.json", filepath.Join(dir, "1.json")))

	require.NoError(t, updateSeriesSymlinks(dir, craft.MustParseVersion("1.2.3"), "1.2.2"))

	target, err := os.Readlink(filepath.Join(dir, "1.json"))
	require.NoError(t, err)
	require.Equal(t, "1.5.0.json", target)
}

func TestFileURLs_RendersPerArtifactTemplate(t *testing.T) {
	e := Entry{URLTemplate: "https://downloads.example.com/{{version}}/{{filename}}"}
	downloaded := []common.Downloaded{
		{Artifact: craft.RemoteArtifact{Filename: "app-release.apk"}},
	}
	req := targetdef.PublishRequest{Version: craft.MustParseVersion("1.2.3")}

	urls, err := fileURLs(e, downloaded, req)
	require.NoError(t, err)
	require.Equal(t, "https://downloads.example.com/1.2.3/app-release.apk", urls["app-release.apk"])
}
