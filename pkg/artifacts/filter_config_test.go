package artifacts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeFilterConfig_BareString(t *testing.T) {
	filters, err := NormalizeFilterConfig("*.tgz")
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.Nil(t, filters[0].WorkflowPattern)
	require.True(t, filters[0].Matches("release.tgz"))
	require.False(t, filters[0].Matches("release.zip"))
}

func TestNormalizeFilterConfig_StringList(t *testing.T) {
	filters, err := NormalizeFilterConfig([]interface{}{"*.tgz", "*.whl"})
	require.NoError(t, err)
	require.Len(t, filters, 1)
	require.True(t, filters[0].Matches("a.whl"))
	require.True(t, filters[0].Matches("a.tgz"))
}

func TestNormalizeFilterConfig_ByWorkflow(t *testing.T) {
	filters, err := NormalizeFilterConfig(map[string]interface{}{
		"build": []interface{}{"*.tgz"},
		"wheel": "*.whl",
	})
	require.NoError(t, err)
	require.Len(t, filters, 2)
	for _, f := range filters {
		require.NotNil(t, f.WorkflowPattern)
	}
}

func TestNormalizeFilterConfig_RejectsNonStringEntries(t *testing.T) {
	_, err := NormalizeFilterConfig([]interface{}{"*.tgz", 42})
	require.Error(t, err)
}

func TestNormalizeFilterConfig_RejectsUnsupportedType(t *testing.T) {
	_, err := NormalizeFilterConfig(42)
	require.Error(t, err)
}

func TestNormalizeFilterConfig_RejectsNil(t *testing.T) {
	_, err := NormalizeFilterConfig(nil)
	require.Error(t, err)
}

func TestNormalizeFilterConfig_RejectsInvalidPattern(t *testing.T) {
	_, err := NormalizeFilterConfig(map[string]interface{}{
		"/[/": "*.tgz",
	})
	require.Error(t, err)
}
