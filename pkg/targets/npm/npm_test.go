package npm

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
)

func TestResolveTag_PreviewIsNext(t *testing.T) {
	tg := &Target{}
	v := craft.MustParseVersion("1.2.3-beta.1")
	require.Equal(t, "next", tg.resolveTag(context.Background(), v, craft.TargetConfig{}, ""))
}

func TestResolveTag_OlderThanLatestIsOld(t *testing.T) {
	tg := &Target{}
	v := craft.MustParseVersion("1.0.0")
	cfg := craft.TargetConfig{Extra: map[string]interface{}{"currentLatest": "2.0.0"}}
	require.Equal(t, "old", tg.resolveTag(context.Background(), v, cfg, ""))
}

func TestResolveTag_NewestIsUntagged(t *testing.T) {
	tg := &Target{}
	v := craft.MustParseVersion("3.0.0")
	cfg := craft.TargetConfig{Extra: map[string]interface{}{"currentLatest": "2.0.0"}}
	require.Equal(t, "", tg.resolveTag(context.Background(), v, cfg, ""))
}

func TestResolveTag_NoConfigAndUnreadableTarballIsUntagged(t *testing.T) {
	tg := &Target{bin: "npm"}
	v := craft.MustParseVersion("1.0.0")
	require.Equal(t, "", tg.resolveTag(context.Background(), v, craft.TargetConfig{}, filepath.Join(t.TempDir(), "missing.tgz")))
}

func TestPackageNameFromTarball_ReadsNameField(t *testing.T) {
	path := writeTestTarball(t, `{"name":"@sentry/node","version":"1.0.0"}`)
	name, err := packageNameFromTarball(path)
	require.NoError(t, err)
	require.Equal(t, "@sentry/node", name)
}

func TestPackageNameFromTarball_MissingManifestIsNotFound(t *testing.T) {
	_, err := packageNameFromTarball(writeEmptyTarball(t))
	require.Error(t, err)
}

func writeTestTarball(t *testing.T, packageJSON string) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "package/package.json", Size: int64(len(packageJSON)), Mode: 0o644}))
	_, err := tw.Write([]byte(packageJSON))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "pkg.tgz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func writeEmptyTarball(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "empty.tgz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestWriteAuthFile_RequiresToken(t *testing.T) {
	os.Unsetenv("NPM_TOKEN")
	_, _, err := writeAuthFile(t.TempDir(), "")
	require.Error(t, err)
}

func TestWriteAuthFile_WritesTokenAndRegistry(t *testing.T) {
	t.Setenv("NPM_TOKEN", "secret-token")
	path, cleanup, err := writeAuthFile(t.TempDir(), "https://registry.example.com/")
	require.NoError(t, err)
	defer cleanup()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "secret-token")
	require.Contains(t, string(data), "registry.example.com")
}

func TestNew_DefaultsToYarnWhenUseYarnSet(t *testing.T) {
	t.Setenv("USE_YARN", "1")
	tg, err := New(craft.TargetConfig{})
	require.NoError(t, err)
	require.Equal(t, "yarn", tg.(*Target).bin)
}

func TestNew_ExplicitBinOverridesUseYarn(t *testing.T) {
	t.Setenv("USE_YARN", "1")
	tg, err := New(craft.TargetConfig{Extra: map[string]interface{}{"bin": "npm"}})
	require.NoError(t, err)
	require.Equal(t, "npm", tg.(*Target).bin)
}

func TestStripScheme(t *testing.T) {
	require.Equal(t, "registry.npmjs.org", stripScheme("https://registry.npmjs.org/"))
	require.Equal(t, "example.com", stripScheme("example.com"))
}
