package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompile_RegexLiteral(t *testing.T) {
	re, err := Compile(`/^.*\d\.\d.*(\.whl|\.gz|\.zip)$/`)
	require.NoError(t, err)
	require.True(t, re.MatchString("package-1.2.3.whl"))
	require.False(t, re.MatchString("package.txt"))
}

func TestCompile_RegexLiteralCaseInsensitive(t *testing.T) {
	re, err := Compile(`/^release$/i`)
	require.NoError(t, err)
	require.True(t, re.MatchString("RELEASE"))
	require.True(t, re.MatchString("release"))
}

func TestCompile_Glob(t *testing.T) {
	re, err := Compile("sentry-*.tgz")
	require.NoError(t, err)
	require.True(t, re.MatchString("sentry-browser.tgz"))
	require.False(t, re.MatchString("sentry-browser.tar.gz"))
}

func TestCompile_GlobSingleChar(t *testing.T) {
	re, err := Compile("artifact-?.zip")
	require.NoError(t, err)
	require.True(t, re.MatchString("artifact-1.zip"))
	require.False(t, re.MatchString("artifact-12.zip"))
}

func TestCompile_ExactString(t *testing.T) {
	re, err := Compile("release.yml")
	require.NoError(t, err)
	require.True(t, re.MatchString("release.yml"))
	require.False(t, re.MatchString("xrelease.ymlx"))
	// The dot must be escaped, not treated as "any character".
	require.False(t, re.MatchString("releaseXyml"))
}

func TestCompileAll(t *testing.T) {
	res, err := CompileAll([]string{"a", "b*"})
	require.NoError(t, err)
	require.Len(t, res, 2)
}

func TestCompileAll_UnterminatedLiteralFallsBackToExactString(t *testing.T) {
	_, err := CompileAll([]string{"a", "/unterminated"})
	require.NoError(t, err) // "/unterminated" has no matching "/", falls back to exact-string form
}
