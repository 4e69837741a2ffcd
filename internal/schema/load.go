package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type file struct {
	Fields []Field `yaml:"fields"`
}

// Parse builds a schema from a YAML document with a top-level "fields" list.
func Parse(data []byte) (*Schema, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return New(f.Fields)
}

// Load reads a schema file; an empty path yields the permit schema.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Permit(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file: %w", err)
	}
	return Parse(data)
}
