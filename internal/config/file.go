package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// readFileValues reads a flat YAML mapping of environment keys to scalar values.
func readFileValues(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	out := make(map[string]string, len(doc))
	for key, value := range doc {
		switch v := value.(type) {
		case nil:
			continue
		case map[string]any, []any:
			return nil, fmt.Errorf("config file %s: key %s must be a scalar", path, key)
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out, nil
}
