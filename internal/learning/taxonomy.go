// Package learning classifies interactions into pattern categories and
// records each observation against the pattern table.
package learning

import (
	"strings"

	"github.com/kalambet/foresight/internal/similarity"
	"github.com/kalambet/foresight/internal/synth"
)

// DefaultType is assigned when no category keyword matches.
const DefaultType = "general"

// Category is one pattern type and the keywords that select it.
type Category struct {
	Type     string
	Keywords []string
}

// Taxonomy is evaluated in order; the first category with a keyword
// contained in the lower-cased context wins.
var Taxonomy = []Category{
	{Type: "database", Keywords: []string{"database", "query", "sql", "index", "postgres"}},
	{Type: "performance", Keywords: []string{"optimize", "slow", "performance", "speed", "latency"}},
	{Type: "architecture", Keywords: []string{"architecture", "design", "structure", "pattern"}},
	{Type: "scaling", Keywords: []string{"scale", "growth", "load", "traffic", "capacity"}},
	{Type: "caching", Keywords: []string{"cache", "redis", "memcache", "cdn"}},
	{Type: "api", Keywords: []string{"api", "endpoint", "rest", "graphql", "http"}},
}

// Classify returns the pattern type of an interaction's context.
func Classify(in synth.Input) string {
	return ClassifyText(in.Context)
}

func ClassifyText(text string) string {
	lower := strings.ToLower(text)
	for _, c := range Taxonomy {
		for _, k := range c.Keywords {
			if strings.Contains(lower, k) {
				return c.Type
			}
		}
	}
	return DefaultType
}

// Signature is the structured key of an interaction's pattern. Its terms
// are the sorted tokens of the context, so textually equivalent contexts
// share one pattern.
func Signature(in synth.Input, patternType string) map[string]any {
	sig := map[string]any{
		"context_type": patternType,
		"has_decision": strings.TrimSpace(in.Decision) != "",
		"terms":        similarity.Tokens(in.Context).Sorted(),
	}
	if in.Complexity != "" {
		sig["complexity"] = in.Complexity
	}
	return sig
}
