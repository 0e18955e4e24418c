package learning

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kalambet/foresight/internal/synth"
)

// PatternStore records pattern observations.
type PatternStore interface {
	UpsertPattern(ctx context.Context, patternType string, signature map[string]any, optimization string) (string, error)
}

// SolutionStore caches synthesized solutions.
type SolutionStore interface {
	Store(ctx context.Context, signature, solution, metrics map[string]any) (string, error)
}

// Learner turns each processed interaction into pattern statistics and,
// when history informed the answer, a cached solution.
type Learner struct {
	patterns PatternStore
	cache    SolutionStore
}

func NewLearner(patterns PatternStore, cache SolutionStore) *Learner {
	return &Learner{patterns: patterns, cache: cache}
}

// Observe upserts one observation of (patternType, signature).
func (l *Learner) Observe(ctx context.Context, patternType string, signature map[string]any, optimization string) (string, error) {
	id, err := l.patterns.UpsertPattern(ctx, patternType, signature, optimization)
	if err != nil {
		return "", fmt.Errorf("observing %s pattern: %w", patternType, err)
	}
	return id, nil
}

// Outcome is what Learn recorded.
type Outcome struct {
	PatternID   string
	PatternType string
	CacheKey    string
}

// Learn classifies and observes the interaction exactly once, then caches
// the direct solution under the interaction's context if at least one
// pattern matched.
func (l *Learner) Learn(ctx context.Context, in synth.Input, resp synth.Response) (Outcome, error) {
	typ := Classify(in)
	id, err := l.Observe(ctx, typ, Signature(in, typ), resp.LearnableOptimization())
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{PatternID: id, PatternType: typ}

	if resp.IntelligenceMetrics.PatternsMatched == 0 {
		return out, nil
	}
	solution, metrics := cacheable(resp)
	key, err := l.cache.Store(ctx, CacheSignature(in), solution, metrics)
	if err != nil {
		return Outcome{}, fmt.Errorf("caching solution: %w", err)
	}
	out.CacheKey = key
	slog.Debug("cached solution", "key", key, "pattern_type", typ)
	return out, nil
}

// cacheable returns the solution and metrics to store. A cache-served
// response is unwrapped back to the entry it came from, so repeated hits
// keep the stored solution unchanged instead of nesting it.
func cacheable(resp synth.Response) (map[string]any, map[string]any) {
	d := resp.DirectSolution
	if d.Source == synth.SourceCache {
		if sol, ok := d.Solution.(map[string]any); ok {
			metrics := d.Performance
			if metrics == nil {
				metrics = metricsMap(resp.IntelligenceMetrics)
			}
			return sol, metrics
		}
	}
	return d.Map(), metricsMap(resp.IntelligenceMetrics)
}

// CacheSignature is the cache signature of an interaction: its raw context.
func CacheSignature(in synth.Input) map[string]any {
	return map[string]any{"context": in.Context}
}

func metricsMap(m synth.IntelligenceMetrics) map[string]any {
	return map[string]any{
		"delta":            m.Delta,
		"patterns_matched": m.PatternsMatched,
		"cache_hit":        m.CacheHit,
		"prediction_depth": m.PredictionDepth,
	}
}
