package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerPreset is one entry of a servers.yaml file: a server spec in
// "url::type" form plus an optional bearer token.
type ServerPreset struct {
	Spec      string `yaml:"spec"`
	AuthToken string `yaml:"authToken,omitempty"`
}

type serversFile struct {
	Servers []ServerPreset `yaml:"servers"`
}

// LoadServerPresets reads a YAML preset file. A missing path returns no
// presets; a present but unreadable or malformed file is an error.
func LoadServerPresets(path string) ([]ServerPreset, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read servers file %s: %w", path, err)
	}
	var f serversFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse servers file %s: %w", path, err)
	}
	for i, p := range f.Servers {
		if p.Spec == "" {
			return nil, fmt.Errorf("config: servers file %s: entry %d has no spec", path, i)
		}
	}
	return f.Servers, nil
}
