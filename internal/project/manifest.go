// Package project reads and edits the target project's manifest
// (package.json) and exposes framework detection to the rest of the
// pipeline.
package project

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Manifest is the subset of package.json the pipeline cares about.
type Manifest struct {
	Name            string            `json:"name,omitempty"`
	Version         string            `json:"version,omitempty"`
	Scripts         map[string]string `json:"scripts,omitempty"`
	Dependencies    map[string]string `json:"dependencies,omitempty"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`

	// raw keeps every field we do not model so saving does not destroy
	// user data.
	raw map[string]json.RawMessage
}

// ManifestPath returns the package.json location for a project directory.
func ManifestPath(projectDir string) string {
	return filepath.Join(projectDir, "package.json")
}

// LoadManifest reads package.json from a project directory.
func LoadManifest(projectDir string) (*Manifest, error) {
	data, err := os.ReadFile(ManifestPath(projectDir))
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}

	m := &Manifest{raw: raw}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse package.json: %w", err)
	}
	if m.Dependencies == nil {
		m.Dependencies = map[string]string{}
	}
	if m.DevDependencies == nil {
		m.DevDependencies = map[string]string{}
	}
	return m, nil
}

// Save writes the manifest back, preserving unmodeled fields.
func (m *Manifest) Save(projectDir string) error {
	if m.raw == nil {
		m.raw = map[string]json.RawMessage{}
	}

	set := func(key string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		m.raw[key] = data
		return nil
	}

	if m.Name != "" {
		if err := set("name", m.Name); err != nil {
			return err
		}
	}
	if len(m.Scripts) > 0 {
		if err := set("scripts", m.Scripts); err != nil {
			return err
		}
	}
	if err := set("dependencies", m.Dependencies); err != nil {
		return err
	}
	if err := set("devDependencies", m.DevDependencies); err != nil {
		return err
	}

	data, err := json.MarshalIndent(m.raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal package.json: %w", err)
	}
	return os.WriteFile(ManifestPath(projectDir), append(data, '\n'), 0644)
}

// HasDependency reports whether a package is declared in either bucket.
func (m *Manifest) HasDependency(name string) bool {
	if _, ok := m.Dependencies[name]; ok {
		return true
	}
	_, ok := m.DevDependencies[name]
	return ok
}

// DependencyVersion returns the declared version of a package, checking
// runtime dependencies first.
func (m *Manifest) DependencyVersion(name string) (string, bool) {
	if v, ok := m.Dependencies[name]; ok {
		return v, true
	}
	v, ok := m.DevDependencies[name]
	return v, ok
}

// IsNextProject reports whether the project directory declares the Next.js
// framework in its manifest. Errors (missing or unreadable manifest) read
// as "not a Next project".
func IsNextProject(projectDir string) bool {
	m, err := LoadManifest(projectDir)
	if err != nil {
		return false
	}
	return m.HasDependency("next")
}
