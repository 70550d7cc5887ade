package hex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
)

func TestBumpVersion_RewritesVersionKeyword(t *testing.T) {
	root := t.TempDir()
	mixExs := "defmodule MyApp.MixProject do\n  use Mix.Project\n\n  @version \"1.0.0\"\n\n  def project do\n    [\n      version: \"1.0.0\"\n    ]\n  end\nend\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "mix.exs"), []byte(mixExs), 0o644))

	changed, err := BumpVersion(root, craft.MustParseVersion("2.0.0"))
	require.NoError(t, err)
	require.True(t, changed)

	data, err := os.ReadFile(filepath.Join(root, "mix.exs"))
	require.NoError(t, err)
	require.Contains(t, string(data), `@version "2.0.0"`)
	require.Contains(t, string(data), `version: "2.0.0"`)
}

func TestBumpVersion_MissingMixExsIsNoop(t *testing.T) {
	changed, err := BumpVersion(t.TempDir(), craft.MustParseVersion("2.0.0"))
	require.NoError(t, err)
	require.False(t, changed)
}
