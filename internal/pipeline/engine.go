package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/foresight/internal/cascade"
	"github.com/kalambet/foresight/internal/learning"
	"github.com/kalambet/foresight/internal/similarity"
	"github.com/kalambet/foresight/internal/solutioncache"
	"github.com/kalambet/foresight/internal/storage"
	"github.com/kalambet/foresight/internal/synth"
)

// Store is the persistence the engine drives. *storage.Store implements it.
type Store interface {
	similarity.PatternSource
	cascade.Source
	solutioncache.Backend
	learning.PatternStore

	StoreInteraction(ctx context.Context, i storage.Interaction) (storage.Interaction, error)
	ListInteractions(ctx context.Context, filter storage.InteractionFilter, limit, offset int) ([]storage.Interaction, error)
	AverageIntelligence(ctx context.Context, window time.Duration) (float64, error)
	IntelligenceMetrics(ctx context.Context, window time.Duration) (storage.IntelligenceMetrics, error)
	GetPattern(ctx context.Context, id string) (storage.Pattern, error)
	TopPatterns(ctx context.Context, limit int, minAccuracy float64) ([]storage.Pattern, error)
	PatternEffectiveness(ctx context.Context, limit int) ([]storage.PatternEffectiveness, error)
	StoreDecision(ctx context.Context, d storage.Decision) (storage.Decision, error)
	LogError(ctx context.Context, errCtx, solution map[string]any, resolutionSeconds *int) (string, error)
	ErrorSolution(ctx context.Context, errCtx map[string]any) (storage.ErrorRecord, bool, error)
	EnqueueJob(ctx context.Context, job storage.Job) (string, error)
	Health(ctx context.Context) storage.Health
}

// Config tunes the engine. Zero values select the defaults.
type Config struct {
	SimilarityThreshold float64
	DefaultCascadeDepth int
	MaxCascadeDepth     int
	WindowSize          int
	DefaultDecay        float64
	LearningRate        float64
	// PatternCandidates caps how many stored patterns are scored per query.
	PatternCandidates int
	// MatchLimit caps how many matched patterns feed synthesis.
	MatchLimit int
}

func (c *Config) applyDefaults() {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		c.SimilarityThreshold = 0.6
	}
	if c.MaxCascadeDepth <= 0 {
		c.MaxCascadeDepth = cascade.DefaultMaxDepth
	}
	if c.DefaultCascadeDepth <= 0 || c.DefaultCascadeDepth > c.MaxCascadeDepth {
		c.DefaultCascadeDepth = min(5, c.MaxCascadeDepth)
	}
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.DefaultDecay <= 0 || c.DefaultDecay > 1 {
		c.DefaultDecay = cascade.DefaultDecay
	}
	if c.LearningRate <= 0 || c.LearningRate > 1 {
		c.LearningRate = 0.1
	}
	if c.MatchLimit <= 0 {
		c.MatchLimit = 10
	}
}

// Options are the per-request knobs of Process.
type Options struct {
	PredictFuture       bool
	CascadeDepth        int
	SimilarityThreshold float64
}

// Engine runs the intelligence pipeline. It owns the recent-context window;
// all durable state lives in the Store.
type Engine struct {
	store     Store
	cfg       Config
	window    *Window
	matcher   *similarity.Matcher
	predictor *cascade.Predictor
	cache     *solutioncache.Cache
	learner   *learning.Learner
	synth     *synth.Synthesizer
	now       func() time.Time
}

func New(store Store, cfg Config) *Engine {
	cfg.applyDefaults()
	cache := solutioncache.New(store)
	return &Engine{
		store:   store,
		cfg:     cfg,
		window:  NewWindow(cfg.WindowSize),
		matcher: similarity.NewMatcher(store, cfg.PatternCandidates),
		predictor: cascade.NewPredictor(store, cascade.Options{
			MaxDepth:     cfg.MaxCascadeDepth,
			DefaultDecay: cfg.DefaultDecay,
		}),
		cache:   cache,
		learner: learning.NewLearner(store, cache),
		synth:   synth.New(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// DefaultOptions returns request options filled from configuration.
func (e *Engine) DefaultOptions() Options {
	return Options{
		PredictFuture:       true,
		CascadeDepth:        e.cfg.DefaultCascadeDepth,
		SimilarityThreshold: e.cfg.SimilarityThreshold,
	}
}

// Window exposes the recent-context window.
func (e *Engine) Window() *Window { return e.window }

func (e *Engine) validate(in synth.Input, opts Options) error {
	if strings.TrimSpace(in.Context) == "" {
		return validationErr("context is required")
	}
	if err := e.predictor.ValidateDepth(opts.CascadeDepth); err != nil {
		return configErr(err)
	}
	if opts.SimilarityThreshold < 0 || opts.SimilarityThreshold > 1 {
		return configErr(fmt.Errorf("%w: got %v", similarity.ErrInvalidThreshold, opts.SimilarityThreshold))
	}
	return nil
}

type step struct {
	name string
	run  func() error
}

// stage runs fn as the named stage, timing it and wrapping any failure.
func stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	stageDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	if err != nil {
		failuresTotal.WithLabelValues(name).Inc()
		return &PipelineError{Stage: name, Err: err}
	}
	return nil
}

// Process runs one interaction through the pipeline:
// ingest, store, match, cache lookup, predict (optional), synthesize, learn.
// Invalid input is rejected before anything is recorded. Any stage failure
// aborts the request with a *PipelineError; the interaction row may already
// be committed at that point.
func (e *Engine) Process(ctx context.Context, in synth.Input, opts Options) (synth.Response, error) {
	if err := e.validate(in, opts); err != nil {
		return synth.Response{}, err
	}

	var (
		stored   storage.Interaction
		matches  []similarity.Match
		cached   *storage.CacheEntry
		cascades []storage.CascadeEffect
		resp     synth.Response
	)

	steps := []step{
		{StageIngest, func() error {
			e.window.Add(WindowEntry{Input: in, IngestedAt: e.now()})
			windowSize.Set(float64(e.window.Len()))
			return nil
		}},
		{StageStore, func() error {
			var err error
			stored, err = e.store.StoreInteraction(ctx, storage.Interaction{
				Context:          in.Context,
				Decision:         in.Decision,
				Complexity:       in.Complexity,
				ExpectedOutcomes: in.ExpectedOutcomes,
				RelatedDecisions: in.RelatedDecisions,
				Metadata:         in.Metadata,
			})
			return err
		}},
		{StageMatch, func() error {
			var err error
			// Query with the same signature shape Learn stores, so a repeat
			// request scores 1 against its own pattern.
			matches, err = e.matcher.FindPatterns(ctx, learning.Signature(in, learning.Classify(in)), opts.SimilarityThreshold, e.cfg.MatchLimit)
			return err
		}},
		{StageCache, func() error {
			entry, ok, err := e.cache.Lookup(ctx, learning.CacheSignature(in))
			if err != nil {
				return err
			}
			if ok {
				cached = &entry
				cacheLookups.WithLabelValues("hit").Inc()
			} else {
				cacheLookups.WithLabelValues("miss").Inc()
			}
			return nil
		}},
	}
	if opts.PredictFuture && strings.TrimSpace(in.Decision) != "" {
		steps = append(steps, step{StagePredict, func() error {
			var err error
			cascades, err = e.predictor.Predict(ctx, in.Decision, opts.CascadeDepth)
			return err
		}})
	}
	steps = append(steps,
		step{StageSynth, func() error {
			resp = e.synth.Synthesize(in, matches, cached, cascades, stored.IntelligenceDelta)
			return nil
		}},
		step{StageLearn, func() error {
			_, err := e.learner.Learn(ctx, in, resp)
			return err
		}},
	)

	for _, s := range steps {
		if err := stage(s.name, s.run); err != nil {
			slog.Warn("pipeline stage failed", "stage", s.name, "interaction_id", stored.ID, "error", err)
			return synth.Response{}, err
		}
	}

	processedTotal.WithLabelValues(resp.DirectSolution.Source).Inc()
	slog.Debug("interaction processed",
		"interaction_id", stored.ID,
		"source", resp.DirectSolution.Source,
		"patterns_matched", len(matches),
		"cascade_levels", len(cascades),
	)
	return resp, nil
}
