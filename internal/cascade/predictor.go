// Package cascade predicts leveled downstream effects of a decision from
// similar decisions analyzed before.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/foresight/internal/canonical"
	"github.com/kalambet/foresight/internal/learning"
	"github.com/kalambet/foresight/internal/similarity"
	"github.com/kalambet/foresight/internal/storage"
)

// ErrDepthOutOfRange is returned when a requested depth is outside
// [1, MaxDepth].
var ErrDepthOutOfRange = errors.New("cascade depth out of range")

const (
	DefaultMaxDepth      = 10
	DefaultDecay         = 0.8
	DefaultSeedThreshold = 0.5
)

// Source supplies stored decisions and per-type pattern accuracy.
type Source interface {
	DecisionCandidates(ctx context.Context, limit int) ([]storage.Decision, error)
	TypeAccuracy(ctx context.Context, patternType string) (float64, int, error)
}

// Options configures a Predictor. Zero values select the defaults.
type Options struct {
	MaxDepth      int
	DefaultDecay  float64
	SeedThreshold float64
	// Candidates caps how many stored decisions are considered as seeds.
	Candidates int
}

type Predictor struct {
	src  Source
	opts Options
}

func NewPredictor(src Source, opts Options) *Predictor {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.DefaultDecay <= 0 || opts.DefaultDecay > 1 {
		opts.DefaultDecay = DefaultDecay
	}
	if opts.SeedThreshold <= 0 || opts.SeedThreshold > 1 {
		opts.SeedThreshold = DefaultSeedThreshold
	}
	return &Predictor{src: src, opts: opts}
}

// MaxDepth is the largest depth Predict accepts.
func (p *Predictor) MaxDepth() int { return p.opts.MaxDepth }

// ClampDepth forces depth into [1, MaxDepth].
func (p *Predictor) ClampDepth(depth int) int {
	return min(max(depth, 1), p.opts.MaxDepth)
}

// ValidateDepth reports ErrDepthOutOfRange for depths outside [1, MaxDepth].
func (p *Predictor) ValidateDepth(depth int) error {
	if depth < 1 || depth > p.opts.MaxDepth {
		return fmt.Errorf("%w: %d not in [1,%d]", ErrDepthOutOfRange, depth, p.opts.MaxDepth)
	}
	return nil
}

// Seed is a stored decision similar enough to seed a prediction.
type Seed struct {
	Decision   storage.Decision
	Similarity float64
}

func (s Seed) weight() float64 { return s.Similarity * s.Decision.ConfidenceScore }

// Seeds returns stored decisions whose text overlaps decision by at least
// the seed threshold, strongest first.
func (p *Predictor) Seeds(ctx context.Context, decision string) ([]Seed, error) {
	stored, err := p.src.DecisionCandidates(ctx, p.opts.Candidates)
	if err != nil {
		return nil, fmt.Errorf("loading decisions: %w", err)
	}

	query := similarity.Tokens(decision)
	var seeds []Seed
	for _, d := range stored {
		sim := similarity.Jaccard(query, similarity.Tokens(d.Decision))
		if sim == 0 || sim < p.opts.SeedThreshold {
			continue
		}
		seeds = append(seeds, Seed{Decision: d, Similarity: sim})
	}
	sort.SliceStable(seeds, func(i, j int) bool {
		if seeds[i].weight() != seeds[j].weight() {
			return seeds[i].weight() > seeds[j].weight()
		}
		return seeds[i].Decision.CreatedAt.After(seeds[j].Decision.CreatedAt)
	})
	return seeds, nil
}

// Decay is the per-level probability decay for decision: the mean
// prediction accuracy of patterns of its classified type, or the default
// when that type has no history.
func (p *Predictor) Decay(ctx context.Context, decision string) (float64, error) {
	acc, n, err := p.src.TypeAccuracy(ctx, learning.ClassifyText(decision))
	if err != nil {
		return 0, fmt.Errorf("loading pattern accuracy: %w", err)
	}
	if n == 0 {
		return p.opts.DefaultDecay, nil
	}
	return clamp01(acc), nil
}

// Predict returns effects for levels 1..depth. It returns an empty slice
// when no similar decision has been analyzed before.
func (p *Predictor) Predict(ctx context.Context, decision string, depth int) ([]storage.CascadeEffect, error) {
	if err := p.ValidateDepth(depth); err != nil {
		return nil, err
	}

	seeds, err := p.Seeds(ctx, decision)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return []storage.CascadeEffect{}, nil
	}
	decay, err := p.Decay(ctx, decision)
	if err != nil {
		return nil, err
	}

	best := seeds[0]
	recorded := recordedEffects(best.Decision)

	effects := make([]storage.CascadeEffect, 0, depth)
	prob := clamp01(best.weight())
	cumulative := 1.0
	prev := ""
	for level := 1; level <= depth; level++ {
		if level > 1 {
			prob *= decay
		}
		cumulative *= prob

		text, ok := recorded[level]
		switch {
		case ok:
		case level == 1:
			text = impactText(best.Decision)
		default:
			text = fmt.Sprintf("level %d: downstream of %s", level, prev)
		}
		prev = text

		effects = append(effects, storage.CascadeEffect{
			Level:                level,
			Effect:               text,
			Probability:          prob,
			CumulativeConfidence: cumulative,
		})
	}
	return effects, nil
}

func recordedEffects(d storage.Decision) map[int]string {
	out := make(map[int]string, len(d.CascadeEffects))
	for _, e := range d.CascadeEffects {
		if e.Effect == "" {
			continue
		}
		if _, dup := out[e.Level]; !dup {
			out[e.Level] = e.Effect
		}
	}
	return out
}

func impactText(d storage.Decision) string {
	if s, ok := d.ImmediateImpact["effect"].(string); ok && s != "" {
		return s
	}
	if len(d.ImmediateImpact) > 0 {
		if b, err := canonical.Marshal(d.ImmediateImpact); err == nil {
			return string(b)
		}
	}
	return "immediate impact of " + d.Decision
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
