package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader().Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 3, cfg.AgentPool.Coder)
	assert.Equal(t, "main", cfg.Git.BaseBranch)
	assert.Equal(t, dir, cfg.ProjectPath)
}

func TestLoadReadsProjectConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".nexus"), 0o755))
	yamlContent := []byte("agent_pool:\n  coder: 7\ngit:\n  base_branch: develop\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus", "config.yaml"), yamlContent, 0o644))

	cfg, err := NewLoader().Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.AgentPool.Coder)
	assert.Equal(t, "develop", cfg.Git.BaseBranch)
	// Untouched keys still fall back to defaults.
	assert.Equal(t, 1, cfg.AgentPool.Tester)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".nexus"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus", "config.yaml"), []byte("agent_pool:\n  coder: 7\n"), 0o644))

	t.Setenv("NEXUS_AGENT_POOL_CODER", "9")

	cfg, err := NewLoader().Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.AgentPool.Coder)
}

func TestLoadParsesTimeoutDuration(t *testing.T) {
	dir := t.TempDir()
	cfg, err := NewLoader().Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "10h0m0s", cfg.Timeout.String())
}

func TestLoadRejectsInvalidAgentPool(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".nexus"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".nexus", "config.yaml"), []byte("agent_pool:\n  coder: 0\n"), 0o644))

	_, err := NewLoader().Load(dir)
	assert.Error(t, err)
}

func TestLoadDotEnvPopulatesEnvironment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("NEXUS_TEST_API_KEY=secret123\n"), 0o644))
	os.Unsetenv("NEXUS_TEST_API_KEY")

	require.NoError(t, loadDotEnv(dir))
	assert.Equal(t, "secret123", os.Getenv("NEXUS_TEST_API_KEY"))
}
