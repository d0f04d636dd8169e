package usecase

import (
	"strings"
)

// defaultSynonyms expands common operator shorthand. Keys and values are lowercase.
var defaultSynonyms = map[string][]string{
	"k8s":    {"kubernetes"},
	"db":     {"database"},
	"pg":     {"postgres"},
	"repo":   {"repository"},
	"env":    {"environment"},
	"config": {"configuration"},
	"auth":   {"authentication"},
	"ci":     {"continuous integration"},
	"llm":    {"language model"},
	"rag":    {"retrieval augmented generation"},
	"os":     {"operating system"},
	"vm":     {"virtual machine"},
}

// QueryExpander derives search variants from a query. The original text is always the first variant.
type QueryExpander struct {
	synonyms    map[string][]string
	maxVariants int
}

// NewQueryExpander merges extra over the built-in dictionary. maxVariants <= 0 disables expansion.
func NewQueryExpander(extra map[string][]string, maxVariants int) *QueryExpander {
	merged := make(map[string][]string, len(defaultSynonyms)+len(extra))
	for k, v := range defaultSynonyms {
		merged[k] = v
	}
	for k, v := range extra {
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		merged[key] = v
	}
	return &QueryExpander{synonyms: merged, maxVariants: maxVariants}
}

func (e *QueryExpander) Expand(query string) []string {
	query = collapseSpaces(query)
	variants := []string{query}
	if e == nil || e.maxVariants <= 1 {
		return variants
	}

	seen := map[string]struct{}{strings.ToLower(query): {}}
	words := strings.Fields(query)
	for i, word := range words {
		key := strings.ToLower(strings.Trim(word, ".,;:!?()\"'"))
		for _, replacement := range e.synonyms[key] {
			next := make([]string, len(words))
			copy(next, words)
			next[i] = replacement
			variant := strings.Join(next, " ")
			if _, dup := seen[strings.ToLower(variant)]; dup {
				continue
			}
			seen[strings.ToLower(variant)] = struct{}{}
			variants = append(variants, variant)
			if len(variants) >= e.maxVariants {
				return variants
			}
		}
	}
	return variants
}
