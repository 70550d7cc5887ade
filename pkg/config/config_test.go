package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
minVersion: "1.2.0"
githubRepo: getsentry/craft
changelogPolicy: auto
preReleaseCommand: "bash scripts/bump-version.sh"
statusProvider:
  name: github
  contexts:
    - ci/build
    - ci/test
targets:
  - name: npm
    includeNames: "*.tgz"
    access: public
  - name: pypi
    id: wheel
    includeNames: "/.*\\.whl$/"
artifacts: "*.tgz"
`

func TestParse_DecodesTopLevelFields(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "1.2.0", cfg.MinVersion)
	require.Equal(t, "getsentry/craft", cfg.GitHubRepo)
	require.Equal(t, ChangelogPolicyAuto, cfg.ChangelogPolicy)
	require.Equal(t, []string{"ci/build", "ci/test"}, cfg.StatusProvider.Contexts)
}

func TestParse_ConvertsTargets(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, cfg.Targets, 2)

	npm := cfg.Targets[0]
	require.Equal(t, "npm", npm.Name)
	require.Equal(t, "*.tgz", npm.IncludeNames)
	access, ok := npm.String("access")
	require.True(t, ok)
	require.Equal(t, "public", access)

	pypi := cfg.Targets[1]
	require.Equal(t, "pypi", pypi.Key()[:4])
	require.Equal(t, "wheel", pypi.ID)
}

func TestParse_DefaultsChangelogPolicy(t *testing.T) {
	cfg, err := Parse([]byte("targets:\n  - name: npm\n"))
	require.NoError(t, err)
	require.Equal(t, ChangelogPolicyAuto, cfg.ChangelogPolicy)
}

func TestParse_DefaultsVersioningPolicy(t *testing.T) {
	cfg, err := Parse([]byte("targets:\n  - name: npm\n"))
	require.NoError(t, err)
	require.Equal(t, VersioningPolicyAuto, cfg.VersioningPolicy)
}

func TestParse_DecodesExplicitVersioningPolicy(t *testing.T) {
	cfg, err := Parse([]byte("versioningPolicy: none\ntargets:\n  - name: npm\n"))
	require.NoError(t, err)
	require.Equal(t, VersioningPolicyNone, cfg.VersioningPolicy)
}

func TestParse_RejectsTargetWithoutName(t *testing.T) {
	_, err := Parse([]byte("targets:\n  - id: x\n"))
	require.Error(t, err)
}

func TestParse_RejectsInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("targets: [\n"))
	require.Error(t, err)
}

func TestArtifactFilters_NormalizesConfiguredArtifacts(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	filters, err := cfg.ArtifactFilters()
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.Nil(t, filters[0].WorkflowPattern)
	require.True(t, filters[0].Matches("release.tgz"))
}

func TestArtifactFilters_NilWhenUnconfigured(t *testing.T) {
	cfg, err := Parse([]byte("targets:\n  - name: npm\n"))
	require.NoError(t, err)
	filters, err := cfg.ArtifactFilters()
	require.NoError(t, err)
	require.Nil(t, filters)
}

func TestArtifactFilters_SupportsWorkflowKeyedForm(t *testing.T) {
	cfg, err := Parse([]byte("targets:\n  - name: npm\nartifacts:\n  release: [\"*.tgz\", \"*.whl\"]\n"))
	require.NoError(t, err)
	filters, err := cfg.ArtifactFilters()
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.NotNil(t, filters[0].WorkflowPattern)
	require.True(t, filters[0].WorkflowPattern.MatchString("release"))
	require.True(t, filters[0].Matches("x.whl"))
}

func TestEffective_ProducesJSON(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	out, err := cfg.Effective()
	require.NoError(t, err)
	require.Contains(t, out, `"githubRepo"`)
}
