package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/foresight/internal/feedback"
	"github.com/kalambet/foresight/internal/similarity"
	"github.com/kalambet/foresight/internal/storage"
)

// analytics wraps a store failure the same way Process does.
func analytics(err error) error {
	if err == nil {
		return nil
	}
	failuresTotal.WithLabelValues(StageAnalysis).Inc()
	return &PipelineError{Stage: StageAnalysis, Err: err}
}

// SearchPatterns ranks stored patterns against an arbitrary context object.
func (e *Engine) SearchPatterns(ctx context.Context, query map[string]any, threshold float64, limit int) ([]similarity.Match, error) {
	if len(query) == 0 {
		return nil, validationErr("context is required")
	}
	if threshold < 0 || threshold > 1 {
		return nil, configErr(fmt.Errorf("%w: got %v", similarity.ErrInvalidThreshold, threshold))
	}
	matches, err := e.matcher.FindPatterns(ctx, query, threshold, limit)
	if err != nil {
		return nil, analytics(err)
	}
	if matches == nil {
		matches = []similarity.Match{}
	}
	return matches, nil
}

func (e *Engine) TopPatterns(ctx context.Context, limit int, minAccuracy float64) ([]storage.Pattern, error) {
	if limit <= 0 {
		return nil, validationErr("limit must be positive")
	}
	if minAccuracy < 0 || minAccuracy > 1 {
		return nil, configErr(fmt.Errorf("min accuracy %v outside [0,1]", minAccuracy))
	}
	patterns, err := e.store.TopPatterns(ctx, limit, minAccuracy)
	if err != nil {
		return nil, analytics(err)
	}
	if patterns == nil {
		patterns = []storage.Pattern{}
	}
	return patterns, nil
}

// PredictCascades runs only the cascade predictor.
func (e *Engine) PredictCascades(ctx context.Context, decision string, depth int) ([]storage.CascadeEffect, error) {
	if strings.TrimSpace(decision) == "" {
		return nil, validationErr("decision is required")
	}
	if err := e.predictor.ValidateDepth(depth); err != nil {
		return nil, configErr(err)
	}
	effects, err := e.predictor.Predict(ctx, decision, depth)
	if err != nil {
		return nil, analytics(err)
	}
	return effects, nil
}

// DecisionRequest describes a decision to analyze and store.
type DecisionRequest struct {
	Decision        string
	ImmediateImpact map[string]any
	Confidence      float64
	Depth           int
}

// AnalyzeDecision predicts cascades for a decision from earlier ones, then
// stores it with that prediction as its snapshot.
func (e *Engine) AnalyzeDecision(ctx context.Context, req DecisionRequest) (storage.Decision, error) {
	if req.Confidence < 0 || req.Confidence > 1 {
		return storage.Decision{}, configErr(fmt.Errorf("confidence %v outside [0,1]", req.Confidence))
	}
	effects, err := e.PredictCascades(ctx, req.Decision, req.Depth)
	if err != nil {
		return storage.Decision{}, err
	}
	d, err := e.store.StoreDecision(ctx, storage.Decision{
		Decision:        req.Decision,
		ImmediateImpact: req.ImmediateImpact,
		CascadeEffects:  effects,
		ConfidenceScore: req.Confidence,
	})
	if err != nil {
		return storage.Decision{}, analytics(err)
	}
	return d, nil
}

// History returns stored interactions, newest first.
func (e *Engine) History(ctx context.Context, limit, offset int) ([]storage.Interaction, error) {
	if limit <= 0 || offset < 0 {
		return nil, validationErr("limit must be positive and offset non-negative")
	}
	items, err := e.store.ListInteractions(ctx, storage.InteractionFilter{}, limit, offset)
	if err != nil {
		return nil, analytics(err)
	}
	if items == nil {
		items = []storage.Interaction{}
	}
	return items, nil
}

// IntelligenceScore is the mean intelligence delta over window.
func (e *Engine) IntelligenceScore(ctx context.Context, window time.Duration) (float64, error) {
	if window <= 0 {
		return 0, validationErr("window must be positive")
	}
	avg, err := e.store.AverageIntelligence(ctx, window)
	if err != nil {
		return 0, analytics(err)
	}
	return avg, nil
}

func (e *Engine) IntelligenceMetrics(ctx context.Context, window time.Duration) (storage.IntelligenceMetrics, error) {
	if window <= 0 {
		return storage.IntelligenceMetrics{}, validationErr("window must be positive")
	}
	m, err := e.store.IntelligenceMetrics(ctx, window)
	if err != nil {
		return storage.IntelligenceMetrics{}, analytics(err)
	}
	return m, nil
}

func (e *Engine) PatternEffectiveness(ctx context.Context, limit int) ([]storage.PatternEffectiveness, error) {
	if limit <= 0 {
		return nil, validationErr("limit must be positive")
	}
	eff, err := e.store.PatternEffectiveness(ctx, limit)
	if err != nil {
		return nil, analytics(err)
	}
	if eff == nil {
		eff = []storage.PatternEffectiveness{}
	}
	return eff, nil
}

// SystemIntelligence is the aggregate view of what the engine has learned.
type SystemIntelligence struct {
	Metrics        storage.IntelligenceMetrics    `json:"intelligence_metrics"`
	Effectiveness  []storage.PatternEffectiveness `json:"pattern_effectiveness"`
	TopPatterns    []storage.Pattern              `json:"top_patterns"`
	WindowSize     int                            `json:"context_window_size"`
	WindowCapacity int                            `json:"context_window_capacity"`
	LearningRate   float64                        `json:"learning_rate"`
	Status         string                         `json:"system_status"`
}

// SystemIntelligence fetches the last day's metrics, per-type effectiveness
// and the top patterns concurrently.
func (e *Engine) SystemIntelligence(ctx context.Context) (SystemIntelligence, error) {
	out := SystemIntelligence{
		WindowSize:     e.window.Len(),
		WindowCapacity: e.window.Cap(),
		LearningRate:   e.cfg.LearningRate,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := e.IntelligenceMetrics(gctx, 24*time.Hour)
		out.Metrics = m
		return err
	})
	g.Go(func() error {
		eff, err := e.PatternEffectiveness(gctx, 10)
		out.Effectiveness = eff
		return err
	})
	g.Go(func() error {
		top, err := e.TopPatterns(gctx, 10, 0.7)
		out.TopPatterns = top
		return err
	})
	if err := g.Wait(); err != nil {
		return SystemIntelligence{}, err
	}

	out.Status = "learning"
	if out.Metrics.TotalInteractions == 0 {
		out.Status = "idle"
	}
	return out, nil
}

// LogError records an error occurrence and returns its signature.
func (e *Engine) LogError(ctx context.Context, errCtx, solution map[string]any, resolutionSeconds *int) (string, error) {
	if len(errCtx) == 0 {
		return "", validationErr("error context is required")
	}
	if resolutionSeconds != nil && *resolutionSeconds < 0 {
		return "", validationErr("resolution time must be non-negative")
	}
	sig, err := e.store.LogError(ctx, errCtx, solution, resolutionSeconds)
	if err != nil {
		return "", analytics(err)
	}
	return sig, nil
}

// ErrorSolution returns the known solution for errCtx, if any.
func (e *Engine) ErrorSolution(ctx context.Context, errCtx map[string]any) (storage.ErrorRecord, bool, error) {
	if len(errCtx) == 0 {
		return storage.ErrorRecord{}, false, validationErr("error context is required")
	}
	rec, ok, err := e.store.ErrorSolution(ctx, errCtx)
	if err != nil {
		return storage.ErrorRecord{}, false, analytics(err)
	}
	return rec, ok, nil
}

// RecordOutcome queues an observed outcome for a pattern. The accuracy
// update is applied by the feedback worker. Returns storage.ErrNotFound for
// unknown patterns.
func (e *Engine) RecordOutcome(ctx context.Context, patternID string, success bool) (string, error) {
	if _, err := e.store.GetPattern(ctx, patternID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", err
		}
		return "", analytics(err)
	}
	job, err := feedback.NewOutcomeJob(patternID, success)
	if err != nil {
		return "", err
	}
	id, err := e.store.EnqueueJob(ctx, job)
	if err != nil {
		return "", analytics(err)
	}
	return id, nil
}

// Health reports store health and the window fill.
type Health struct {
	storage.Health
	WindowSize int `json:"context_window_size"`
}

func (e *Engine) Health(ctx context.Context) Health {
	return Health{Health: e.store.Health(ctx), WindowSize: e.window.Len()}
}

// Recent returns the recent-context window, oldest first.
func (e *Engine) Recent() []WindowEntry {
	return e.window.Snapshot()
}
