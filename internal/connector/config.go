// Connector configuration generation.

package connector

import "gopkg.in/yaml.v3"

// Config describes how a dataset reader should attach to a resolved study:
// where the study lives and which datasets each domain holds. Emitted as
// YAML for downstream tooling.
type Config struct {
	Source  string              `yaml:"source"`
	Path    string              `yaml:"path"`
	Domains map[string][]string `yaml:"domains,omitempty"`
}

// NewConfig builds a connector configuration for a resolved study root.
func NewConfig(source, path string, domains map[string][]string) *Config {
	return &Config{Source: source, Path: path, Domains: domains}
}

// YAML renders the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
