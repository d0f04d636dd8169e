// Package synonyms reads the optional query-expansion dictionary.
package synonyms

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/command-router/internal/core/domain"
)

// Load reads a YAML mapping of term to replacement list, for example `k8s: [kubernetes]`.
// A single string value is accepted as a one-element list.
func Load(path string) (map[string][]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "read synonyms", err)
	}

	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "parse synonyms", err)
	}

	out := make(map[string][]string, len(raw))
	for term, node := range raw {
		switch node.Kind {
		case yaml.ScalarNode:
			out[term] = []string{node.Value}
		case yaml.SequenceNode:
			var values []string
			if err := node.Decode(&values); err != nil {
				return nil, domain.WrapError(domain.ErrConfiguration, "parse synonyms", fmt.Errorf("term %q: %w", term, err))
			}
			out[term] = values
		default:
			return nil, domain.WrapError(domain.ErrConfiguration, "parse synonyms", fmt.Errorf("term %q: expected string or list", term))
		}
	}
	return out, nil
}
