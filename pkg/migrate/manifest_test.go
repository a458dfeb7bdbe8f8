package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadManifestMissingFileUsesDefaults(t *testing.T) {
	m, err := LoadManifest(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Empty(t, m.Disable)
	assert.Empty(t, m.Features)
	assert.False(t, m.Disabled(GroupTenancy))
}

func TestLoadManifestParsesGroupsAndFeatures(t *testing.T) {
	path := writeManifest(t, `
disable:
  - rbac
  - admin
features:
  - name: reports
    description: Reporting endpoints
  - name: exports
`)
	m, err := LoadManifest(path)
	require.NoError(t, err)

	assert.True(t, m.Disabled(GroupRBAC))
	assert.True(t, m.Disabled(GroupAdmin))
	assert.False(t, m.Disabled(GroupAuth))

	require.Len(t, m.Features, 2)
	assert.Equal(t, FeatureSeed{Name: "reports", Description: "Reporting endpoints"}, m.Features[0])
	assert.Equal(t, FeatureSeed{Name: "exports"}, m.Features[1])
}

func TestLoadManifestRejectsUnknownGroup(t *testing.T) {
	path := writeManifest(t, "disable: [tenant]\n")

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown group "tenant"`)
}

func TestLoadManifestRejectsUnnamedFeature(t *testing.T) {
	path := writeManifest(t, "features:\n  - description: nameless\n")

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature without a name")
}

func TestLoadManifestRejectsMalformedYAML(t *testing.T) {
	path := writeManifest(t, "disable: [unterminated\n")

	_, err := LoadManifest(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse manifest")
}
