package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestPatchConfigFileCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, patchConfigFile(path, "github_token", "ghp_newtoken"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "github_token: ghp_newtoken")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestPatchConfigFilePreservesExistingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	existing := "seed_orgs:\n    - acme\nfreshness_window_days: 7\n"
	require.NoError(t, os.WriteFile(path, []byte(existing), 0600))

	require.NoError(t, patchConfigFile(path, "github_token", "ghp_patched"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var options map[string]any
	require.NoError(t, yaml.Unmarshal(data, &options))
	assert.Equal(t, "ghp_patched", options["github_token"])
	assert.Equal(t, 7, options["freshness_window_days"])
	assert.Equal(t, []any{"acme"}, options["seed_orgs"])
}

func TestPatchConfigFileRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0600))

	err := patchConfigFile(path, "github_token", "ghp_x")
	require.Error(t, err)
}

func TestStoreTokenRejectsEmpty(t *testing.T) {
	_, err := StoreToken("", filepath.Join(t.TempDir(), "config.yaml"))
	require.Error(t, err)
}
