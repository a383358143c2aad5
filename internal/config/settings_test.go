package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	stateDir := t.TempDir()
	settings := NewDefaultSettings(t.TempDir())
	settings.Envs = []string{"API_KEY"}

	require.NoError(t, Save(stateDir, settings))

	loaded, err := Load(stateDir, nil)
	require.NoError(t, err)
	assert.Equal(t, SettingsVersion, loaded.Version)
	assert.Equal(t, "claude", loaded.Agent)
	assert.Equal(t, "default", loaded.Workflow)
	assert.Equal(t, []string{"API_KEY"}, loaded.Envs)
}

func TestLoad_NotInitialized(t *testing.T) {
	_, err := Load(t.TempDir(), nil)
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestLoad_MigratesLegacyLayout(t *testing.T) {
	stateDir := t.TempDir()
	legacy := `{
  "version": "1.0",
  "ai_agent": "codex",
  "workflow": "default",
  "container_image": "agent:v1",
  "container_engine": "podman",
  "custom_note": "kept"
}`
	require.NoError(t, os.WriteFile(SettingsPath(stateDir), []byte(legacy), 0o644))

	loaded, err := Load(stateDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "codex", loaded.Agent)
	assert.Equal(t, "agent:v1", loaded.Sandbox.Image)
	assert.Equal(t, "podman", loaded.Sandbox.Engine)

	// Migration is written back in place and preserves unknown fields.
	data, err := os.ReadFile(SettingsPath(stateDir))
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, SettingsVersion, raw["version"])
	assert.Equal(t, "kept", raw["custom_note"])
	assert.NotContains(t, raw, "ai_agent")
	assert.NotContains(t, raw, "container_image")
}

func TestLoad_MissingVersionTreatedAsLegacy(t *testing.T) {
	stateDir := t.TempDir()
	legacy := `{"ai_agent": "claude", "workflow": "default", "container_image": "img"}`
	require.NoError(t, os.WriteFile(SettingsPath(stateDir), []byte(legacy), 0o644))

	loaded, err := Load(stateDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "img", loaded.Sandbox.Image)
}

func TestLoad_UnsupportedVersion(t *testing.T) {
	stateDir := t.TempDir()
	require.NoError(t, os.WriteFile(SettingsPath(stateDir), []byte(`{"version": "9.9"}`), 0o644))

	_, err := Load(stateDir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported settings version")
}

func TestLoad_EnvOverride(t *testing.T) {
	stateDir := t.TempDir()
	require.NoError(t, Save(stateDir, NewDefaultSettings(t.TempDir())))
	t.Setenv("ROVER_SANDBOX__IMAGE", "override:latest")
	t.Setenv("ROVER_AGENT", "gemini")

	loaded, err := Load(stateDir, nil)
	require.NoError(t, err)
	assert.Equal(t, "override:latest", loaded.Sandbox.Image)
	assert.Equal(t, "gemini", loaded.Agent)
}

func TestValidate(t *testing.T) {
	settings := NewDefaultSettings(t.TempDir())
	require.NoError(t, settings.Validate())

	settings.Sandbox.Image = ""
	require.Error(t, settings.Validate())
}

func TestDetectProject(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"go.mod", "go.sum", "package.json", "yarn.lock"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte("x"), 0o644))
	}

	languages, manager := DetectProject(root)
	assert.Equal(t, []string{"go", "javascript"}, languages)
	assert.Equal(t, "yarn", manager)
}

func TestDetectProject_Empty(t *testing.T) {
	languages, manager := DetectProject(t.TempDir())
	assert.Empty(t, languages)
	assert.Empty(t, manager)
}
