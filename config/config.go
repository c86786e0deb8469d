// Package config loads declarative pod declarations, either from
// pyproject.toml's [tool.python-pods.pods] array-of-tables (the primary
// format) or from a pods.yaml list (the fallback format), the same
// parallel-config-file pattern podhost's own kong.Configuration uses.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// PodDecl is one declared pod dependency.
type PodDecl struct {
	Name    string         `toml:"name" yaml:"name"`
	Version string         `toml:"version,omitempty" yaml:"version,omitempty"`
	Path    string         `toml:"path,omitempty" yaml:"path,omitempty"`
	Cache   bool           `toml:"cache,omitempty" yaml:"cache,omitempty"`
	Opts    map[string]any `toml:"opts,omitempty" yaml:"opts,omitempty"`
}

// Validate enforces that exactly one of Version/Path is set: a pod is
// either fetched from the registry or run from a local executable.
func (p PodDecl) Validate() error {
	if p.Version == "" && p.Path == "" {
		return fmt.Errorf("pod %q: must set exactly one of version or path", p.Name)
	}
	if p.Version != "" && p.Path != "" {
		return fmt.Errorf("pod %q: version and path are mutually exclusive", p.Name)
	}
	return nil
}

type pyprojectDoc struct {
	Tool struct {
		PythonPods struct {
			Pods []PodDecl `toml:"pods"`
		} `toml:"python-pods"`
	} `toml:"tool"`
}

// Load reads [tool.python-pods.pods] from a pyproject.toml file.
func Load(path string) ([]PodDecl, error) {
	var doc pyprojectDoc
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	pods := doc.Tool.PythonPods.Pods
	for _, p := range pods {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return pods, nil
}

type podsYAMLDoc struct {
	Pods []PodDecl `yaml:"pods"`
}

// LoadYAML reads a pods.yaml file shaped as `pods: [...]`.
func LoadYAML(path string) ([]PodDecl, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var doc podsYAMLDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	for _, p := range doc.Pods {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return doc.Pods, nil
}

// LoadAny tries pyproject.toml first, then falls back to pods.yaml.
func LoadAny(pyprojectPath, yamlPath string) ([]PodDecl, error) {
	if _, err := os.Stat(pyprojectPath); err == nil {
		return Load(pyprojectPath)
	}
	if _, err := os.Stat(yamlPath); err == nil {
		return LoadYAML(yamlPath)
	}
	return nil, nil
}
