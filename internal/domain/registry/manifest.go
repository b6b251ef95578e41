package registry

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is the optional sidecar file register_from_directory reads
// alongside a component's WASM blob (manifest.yaml, next to <type>.wasm).
// Any field left unset is inferred from the path or the module itself.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Type        string   `yaml:"type"`
	Category    string   `yaml:"category"`
	Tags        []string `yaml:"tags"`
	License     string   `yaml:"license"`
	Description string   `yaml:"description"`
}

// ParseManifest decodes a manifest.yaml document. An empty document is
// valid — every field is inferred elsewhere.
func ParseManifest(data []byte) (Manifest, error) {
	if len(data) == 0 {
		return Manifest{}, nil
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("registry: parse manifest: %w", err)
	}
	return m, nil
}
