package config

import (
	"encoding/json"
	"fmt"
)

// settingsMigration rewrites one raw settings document version to the next.
// Operating on the raw map preserves optional fields the current struct
// does not know about.
type settingsMigration struct {
	from  string
	to    string
	apply func(raw map[string]any)
}

var settingsMigrations = []settingsMigration{
	{from: "1.0", to: "1.1", apply: migrateSandboxSection},
}

// migrateSandboxSection moves the 1.0 flat container fields under the
// sandbox section and renames ai_agent to agent.
func migrateSandboxSection(raw map[string]any) {
	sandbox, _ := raw["sandbox"].(map[string]any)
	if sandbox == nil {
		sandbox = map[string]any{}
	}
	if image, ok := raw["container_image"]; ok {
		if _, exists := sandbox["image"]; !exists {
			sandbox["image"] = image
		}
		delete(raw, "container_image")
	}
	if engine, ok := raw["container_engine"]; ok {
		if _, exists := sandbox["engine"]; !exists {
			sandbox["engine"] = engine
		}
		delete(raw, "container_engine")
	}
	raw["sandbox"] = sandbox

	if agent, ok := raw["ai_agent"]; ok {
		if _, exists := raw["agent"]; !exists {
			raw["agent"] = agent
		}
		delete(raw, "ai_agent")
	}
}

// migrateSettings upgrades a raw settings document to the current version.
// Returns the (possibly rewritten) bytes and whether anything changed.
func migrateSettings(data []byte) ([]byte, bool, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, fmt.Errorf("parse settings: %w", err)
	}

	version, _ := raw["version"].(string)
	if version == "" {
		// Pre-versioning files predate 1.1's layout.
		version = "1.0"
	}
	if version == SettingsVersion {
		return data, false, nil
	}

	for _, step := range settingsMigrations {
		if version != step.from {
			continue
		}
		step.apply(raw)
		raw["version"] = step.to
		version = step.to
	}
	if version != SettingsVersion {
		return nil, false, fmt.Errorf("unsupported settings version %q", version)
	}

	migrated, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, false, fmt.Errorf("encode migrated settings: %w", err)
	}
	return append(migrated, '\n'), true, nil
}
