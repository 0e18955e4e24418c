package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/foresight/internal/storage"
)

// ErrInvalidThreshold is returned for similarity thresholds outside [0,1].
var ErrInvalidThreshold = errors.New("similarity threshold must be within [0,1]")

// PatternSource supplies the candidate patterns to score.
type PatternSource interface {
	PatternCandidates(ctx context.Context, limit int) ([]storage.Pattern, error)
}

// Match is a stored pattern with its similarity to the queried context.
type Match struct {
	Pattern storage.Pattern `json:"pattern"`
	Score   float64         `json:"similarity_score"`
}

// Matcher ranks stored patterns by Jaccard similarity to a context.
type Matcher struct {
	source     PatternSource
	candidates int
}

// NewMatcher creates a Matcher. candidates caps how many stored patterns
// are scored per query (most recently seen first); <= 0 scores all of them.
func NewMatcher(source PatternSource, candidates int) *Matcher {
	return &Matcher{source: source, candidates: candidates}
}

// FindPatterns returns the patterns whose signature scores at least
// threshold against context, best first. Ties are broken by occurrences,
// then recency, then ID. limit <= 0 returns every match.
func (m *Matcher) FindPatterns(ctx context.Context, context map[string]any, threshold float64, limit int) ([]Match, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}

	candidates, err := m.source.PatternCandidates(ctx, m.candidates)
	if err != nil {
		return nil, fmt.Errorf("loading pattern candidates: %w", err)
	}

	query := FeatureSet(context)
	var matches []Match
	for _, p := range candidates {
		score := Jaccard(query, SignatureSet(p))
		if score < threshold || score == 0 {
			continue
		}
		matches = append(matches, Match{Pattern: p, Score: score})
	}

	Rank(matches)
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SignatureSet is the feature set of a pattern: its signature values plus
// its type.
func SignatureSet(p storage.Pattern) Set {
	set := FeatureSet(p.Signature)
	for t := range Tokens(p.Type) {
		set[t] = struct{}{}
	}
	return set
}

// Rank sorts matches in place: score desc, occurrences desc, last seen desc,
// ID asc.
func Rank(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Pattern.Occurrences != b.Pattern.Occurrences {
			return a.Pattern.Occurrences > b.Pattern.Occurrences
		}
		if !a.Pattern.LastSeen.Equal(b.Pattern.LastSeen) {
			return a.Pattern.LastSeen.After(b.Pattern.LastSeen)
		}
		return a.Pattern.ID < b.Pattern.ID
	})
}
