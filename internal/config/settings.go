// Package config loads and migrates the project settings rover keeps in
// its state directory.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	koanfjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/roverdev/rover/internal/logging"
)

const (
	// SettingsVersion is the current settings document version.
	SettingsVersion = "1.1"

	settingsFileName = "settings.json"
	envPrefix        = "ROVER_"
)

// ErrNotInitialized indicates the project has no settings file yet.
var ErrNotInitialized = errors.New("project not initialized (run \"rover init\")")

// SandboxSettings configures the agent's execution environment.
type SandboxSettings struct {
	// Engine is "docker" or "podman"; empty means auto-detect.
	Engine string `koanf:"engine" json:"engine,omitempty"`
	// Image is the container image tasks run in.
	Image string `koanf:"image" json:"image"`
	// Command overrides the image's default agent invocation.
	Command []string `koanf:"command" json:"command,omitempty"`
}

// Settings is the project configuration document at .rover/settings.json.
type Settings struct {
	Version        string          `koanf:"version" json:"version"`
	Languages      []string        `koanf:"languages" json:"languages,omitempty"`
	PackageManager string          `koanf:"package_manager" json:"package_manager,omitempty"`
	Agent          string          `koanf:"agent" json:"agent"`
	Workflow       string          `koanf:"workflow" json:"workflow"`
	Sandbox        SandboxSettings `koanf:"sandbox" json:"sandbox"`
	// Envs are KEY or KEY=VALUE entries forwarded into the sandbox.
	Envs     []string `koanf:"envs" json:"envs,omitempty"`
	EnvsFile string   `koanf:"envs_file" json:"envs_file,omitempty"`
}

// NewDefaultSettings returns settings for a freshly initialized project,
// with languages and package manager detected from marker files.
func NewDefaultSettings(projectRoot string) *Settings {
	languages, packageManager := DetectProject(projectRoot)
	return &Settings{
		Version:        SettingsVersion,
		Languages:      languages,
		PackageManager: packageManager,
		Agent:          "claude",
		Workflow:       "default",
		Sandbox: SandboxSettings{
			Image: "ghcr.io/roverdev/agent:latest",
		},
	}
}

// Validate checks the settings are usable.
func (s *Settings) Validate() error {
	if s.Version != SettingsVersion {
		return fmt.Errorf("unsupported settings version %q", s.Version)
	}
	if strings.TrimSpace(s.Agent) == "" {
		return errors.New("agent is required")
	}
	if strings.TrimSpace(s.Workflow) == "" {
		return errors.New("workflow is required")
	}
	if strings.TrimSpace(s.Sandbox.Image) == "" {
		return errors.New("sandbox image is required")
	}
	return nil
}

// SettingsPath returns the settings file location for a state directory.
func SettingsPath(stateDir string) string {
	return filepath.Join(stateDir, settingsFileName)
}

// Load reads, migrates, and decodes the project settings. Migrated files
// are rewritten in place so the upgrade happens once. Environment
// variables with the ROVER_ prefix override file values, with double
// underscore as the nesting separator (ROVER_SANDBOX__IMAGE overrides
// sandbox.image).
func Load(stateDir string, logger *logging.Logger) (*Settings, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	path := SettingsPath(stateDir)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	migrated, changed, err := migrateSettings(data)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := writeFileAtomic(path, migrated); err != nil {
			return nil, fmt.Errorf("rewrite migrated settings: %w", err)
		}
		logger.Info("migrated settings file", zap.String("path", path), zap.String("version", SettingsVersion))
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(migrated), koanfjson.Parser()); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKeyTransform), nil); err != nil {
		return nil, fmt.Errorf("load settings env overrides: %w", err)
	}

	var settings Settings
	if err := k.Unmarshal("", &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return &settings, nil
}

// Save writes the settings document.
func Save(stateDir string, settings *Settings) error {
	if settings == nil {
		return errors.New("settings are required")
	}
	if err := settings.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return writeFileAtomic(SettingsPath(stateDir), append(data, '\n'))
}

// envKeyTransform maps ROVER_SANDBOX__IMAGE to sandbox.image.
func envKeyTransform(key string) string {
	key = strings.TrimPrefix(key, envPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "__", ".")
}

// writeFileAtomic writes via temp file + rename so readers never observe a
// partial document.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
