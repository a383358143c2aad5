package config

import (
	"os"
	"path/filepath"
)

// languageMarkers maps a marker file to the language it indicates.
var languageMarkers = []struct {
	file     string
	language string
}{
	{"go.mod", "go"},
	{"package.json", "javascript"},
	{"tsconfig.json", "typescript"},
	{"pyproject.toml", "python"},
	{"requirements.txt", "python"},
	{"Cargo.toml", "rust"},
	{"pom.xml", "java"},
	{"Gemfile", "ruby"},
}

// packageManagerMarkers maps a lockfile to its package manager, in
// precedence order.
var packageManagerMarkers = []struct {
	file    string
	manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"bun.lockb", "bun"},
	{"package-lock.json", "npm"},
	{"uv.lock", "uv"},
	{"poetry.lock", "poetry"},
	{"Cargo.lock", "cargo"},
	{"go.sum", "go"},
}

// DetectProject inspects the project root for language and package manager
// marker files. Best effort: an unreadable root yields empty results.
func DetectProject(projectRoot string) (languages []string, packageManager string) {
	seen := map[string]bool{}
	for _, marker := range languageMarkers {
		if !fileExists(filepath.Join(projectRoot, marker.file)) {
			continue
		}
		if seen[marker.language] {
			continue
		}
		seen[marker.language] = true
		languages = append(languages, marker.language)
	}
	for _, marker := range packageManagerMarkers {
		if fileExists(filepath.Join(projectRoot, marker.file)) {
			packageManager = marker.manager
			break
		}
	}
	return languages, packageManager
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
