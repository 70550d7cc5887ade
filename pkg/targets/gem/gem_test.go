package gem

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestBumpVersion_RewritesGemspecAndVersionRb(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "mygem.gemspec"), "Gem::Specification.new do |s|\n  s.version = \"1.0.0\"\nend\n")
	writeFile(t, filepath.Join(root, "lib", "mygem", "version.rb"), "module Mygem\n  VERSION = \"1.0.0\"\nend\n")

	changed, err := BumpVersion(root, craft.MustParseVersion("2.0.0"))
	require.NoError(t, err)
	require.True(t, changed)

	spec, err := os.ReadFile(filepath.Join(root, "mygem.gemspec"))
	require.NoError(t, err)
	require.Contains(t, string(spec), `s.version = "2.0.0"`)

	versionRb, err := os.ReadFile(filepath.Join(root, "lib", "mygem", "version.rb"))
	require.NoError(t, err)
	require.Contains(t, string(versionRb), `VERSION = "2.0.0"`)
}

func TestBumpVersion_RespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, ".gitignore"), "vendor.gemspec\n")
	writeFile(t, filepath.Join(root, "vendor.gemspec"), "s.version = \"1.0.0\"\n")

	changed, err := BumpVersion(root, craft.MustParseVersion("2.0.0"))
	require.NoError(t, err)
	require.False(t, changed)
}

func TestBumpVersion_NoGemspecsIsNoop(t *testing.T) {
	root := t.TempDir()
	changed, err := BumpVersion(root, craft.MustParseVersion("2.0.0"))
	require.NoError(t, err)
	require.False(t, changed)
}
