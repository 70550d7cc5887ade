package prepare

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/getsentry/craft/pkg/craft"
)

func TestClassifyCommit(t *testing.T) {
	cases := []struct {
		message string
		want    bump
	}{
		{"feat: add login", bumpMinor},
		{"fix: null pointer on empty cart", bumpPatch},
		{"chore: bump deps", bumpPatch},
		{"feat!: drop legacy API", bumpMajor},
		{"fix: regression\n\nBREAKING CHANGE: removes old flag", bumpMajor},
		{"wip work in progress", bumpNone},
		{"Merge pull request #42", bumpNone},
	}
	for _, c := range cases {
		require.Equal(t, c.want, classifyCommit(c.message), c.message)
	}
}

func TestDeriveNextVersion_PicksLoudestBump(t *testing.T) {
	previous := craft.MustParseVersion("1.2.3")
	v := deriveNextVersion(previous, []string{"fix: typo", "feat: new widget", "chore: lint"})
	require.Equal(t, "1.3.0", v.String())
}

func TestDeriveNextVersion_BreakingChangeWins(t *testing.T) {
	previous := craft.MustParseVersion("1.2.3")
	v := deriveNextVersion(previous, []string{"feat: new widget", "feat!: remove old widget"})
	require.Equal(t, "2.0.0", v.String())
}

func TestDeriveNextVersion_NonConventionalHistoryStillBumpsPatch(t *testing.T) {
	previous := craft.MustParseVersion("1.2.3")
	v := deriveNextVersion(previous, []string{"misc tweak", "readme update"})
	require.Equal(t, "1.2.4", v.String())
}

func TestDeriveNextVersion_NoCommitsIsNoOp(t *testing.T) {
	previous := craft.MustParseVersion("1.2.3")
	v := deriveNextVersion(previous, nil)
	require.Equal(t, "1.2.3", v.String())
}

func TestSimpleBump_BumpsPatchOnly(t *testing.T) {
	v := simpleBump(craft.MustParseVersion("1.2.3"))
	require.Equal(t, "1.2.4", v.String())
}
