package model

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// registryFile is the on-disk declaration format. JSON files parse too since
// YAML is a superset.
//
//	models:
//	  resource:
//	    plural: RESOURCES
//	    references:
//	      user: user
type registryFile struct {
	Models map[string]Model `yaml:"models"`
}

// ParseRegistry builds a registry from a YAML or JSON document. Hooks cannot
// be declared in data; attach them with WithHooks.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse model registry: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, fmt.Errorf("model registry declares no models")
	}
	keys := make([]string, 0, len(file.Models))
	for k := range file.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	models := make([]Model, 0, len(keys))
	for _, k := range keys {
		m := file.Models[k]
		if m.Key == "" {
			m.Key = k
		}
		models = append(models, m)
	}
	return NewRegistry(models...)
}

// LoadRegistryFile reads and parses a registry declaration file.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// WithHooks returns a copy of the registry where fn may attach hooks to each
// model. The source registry is not modified.
func (r *Registry) WithHooks(fn func(m *Model)) (*Registry, error) {
	models := make([]Model, 0, len(r.keys))
	for _, k := range r.keys {
		m := *r.models[k]
		fn(&m)
		models = append(models, m)
	}
	return NewRegistry(models...)
}
