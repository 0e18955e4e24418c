package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/foresight/internal/storage"
	"github.com/kalambet/foresight/internal/synth"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestEngine(t *testing.T) (*Engine, *storage.Store) {
	t.Helper()
	s := openTestStore(t)
	return New(s, Config{}), s
}

var dbInput = synth.Input{
	Context:  "optimize database queries with slow performance",
	Decision: "add database indexes",
}

func TestProcess_FirstRequestUsesAnalysis(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	resp, err := e.Process(ctx, dbInput, e.DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, synth.SourceAnalysis, resp.DirectSolution.Source)
	assert.Equal(t, 0.6, resp.DirectSolution.Confidence)
	require.NotEmpty(t, resp.OptimizationPath)
	assert.Equal(t, "Start simple, measure, optimize bottlenecks iteratively", resp.OptimizationPath[0].Optimization)
	assert.Equal(t, 1.0, resp.IntelligenceMetrics.Delta)
	assert.Zero(t, resp.IntelligenceMetrics.PredictionDepth)

	// Exactly one pattern was observed, classified as database.
	top, err := s.TopPatterns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "database", top[0].Type)
	assert.Equal(t, 1, top[0].Occurrences)

	assert.Equal(t, 1, e.Window().Len())
}

// The cache populates once a repeat request matches a learned pattern and
// is served from then on.
func TestProcess_RepeatedRequestServedFromCache(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	first, err := e.Process(ctx, dbInput, e.DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, first.IntelligenceMetrics.PatternsMatched)

	second, err := e.Process(ctx, dbInput, e.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, second.IntelligenceMetrics.PatternsMatched)
	assert.False(t, second.IntelligenceMetrics.CacheHit)
	assert.InDelta(t, 0.5, second.IntelligenceMetrics.Delta, 1e-9)

	third, err := e.Process(ctx, dbInput, e.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, synth.SourceCache, third.DirectSolution.Source)
	assert.Equal(t, 0.95, third.DirectSolution.Confidence)
	assert.True(t, third.IntelligenceMetrics.CacheHit)

	// The cached solution is the second response's direct solution.
	sol, ok := third.DirectSolution.Solution.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, synth.SourceAnalysis, sol["source"])

	top, err := s.TopPatterns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, 3, top[0].Occurrences)
}

// solutionDepth counts how many "solution" objects are nested inside v.
func solutionDepth(v any) int {
	m, ok := v.(map[string]any)
	if !ok {
		return 0
	}
	return 1 + solutionDepth(m["solution"])
}

func TestProcess_CacheHitsKeepStoredSolution(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var served []any
	for i := 0; i < 8; i++ {
		resp, err := e.Process(ctx, dbInput, e.DefaultOptions())
		require.NoError(t, err)
		if i >= 2 {
			require.Equal(t, synth.SourceCache, resp.DirectSolution.Source, "request %d", i+1)
			served = append(served, resp.DirectSolution.Solution)
		}
	}

	want := served[0]
	for i, sol := range served {
		assert.Equal(t, want, sol, "hit %d", i+1)
		assert.Equal(t, solutionDepth(want), solutionDepth(sol))
	}
	m := want.(map[string]any)
	assert.Equal(t, synth.SourceAnalysis, m["source"])
}

func TestProcess_ShortContextsCacheOnThirdRequest(t *testing.T) {
	inputs := []synth.Input{
		{Context: "redis"},
		{Context: "slow api", Complexity: "enterprise grade"},
		{Context: "go db"},
	}
	for _, in := range inputs {
		t.Run(in.Context, func(t *testing.T) {
			e, _ := newTestEngine(t)
			ctx := context.Background()

			var last synth.Response
			for i := 0; i < 3; i++ {
				resp, err := e.Process(ctx, in, e.DefaultOptions())
				require.NoError(t, err)
				if i == 1 {
					assert.Equal(t, 1, resp.IntelligenceMetrics.PatternsMatched)
				}
				last = resp
			}
			assert.Equal(t, synth.SourceCache, last.DirectSolution.Source)
			assert.True(t, last.IntelligenceMetrics.CacheHit)
		})
	}
}

func TestProcess_CascadesFromAnalyzedDecision(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AnalyzeDecision(ctx, DecisionRequest{
		Decision:        "add database indexes",
		ImmediateImpact: map[string]any{"effect": "faster reads"},
		Confidence:      0.9,
		Depth:           3,
	})
	require.NoError(t, err)

	opts := e.DefaultOptions()
	opts.CascadeDepth = 4
	resp, err := e.Process(ctx, dbInput, opts)
	require.NoError(t, err)

	assert.Equal(t, 4, resp.IntelligenceMetrics.PredictionDepth)
	assert.Equal(t, 4, resp.FutureImplications.CascadeDepth)
	require.Len(t, resp.FutureImplications.Timeline, 4)
	assert.Equal(t, []string{"faster reads"}, resp.FutureImplications.Timeline[0].Effects)
	assert.InDelta(t, 0.9, resp.FutureImplications.OverallConfidence, 1e-9)
	assert.NotEmpty(t, resp.FutureImplications.Warning)
}

// Observed patterns without outcomes leave the default decay in place.
func TestPredictCascades_DecayIgnoresUnratedPatterns(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.AnalyzeDecision(ctx, DecisionRequest{Decision: "add database indexes", Confidence: 0.9, Depth: 1})
	require.NoError(t, err)
	opts := e.DefaultOptions()
	opts.PredictFuture = false
	_, err = e.Process(ctx, dbInput, opts)
	require.NoError(t, err)

	effects, err := e.PredictCascades(ctx, "add database indexes", 2)
	require.NoError(t, err)
	require.Len(t, effects, 2)
	assert.InDelta(t, 0.9, effects[0].Probability, 1e-9)
	assert.InDelta(t, 0.9*0.8, effects[1].Probability, 1e-9)
}

func TestProcess_PredictionSkipped(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.AnalyzeDecision(ctx, DecisionRequest{Decision: "add database indexes", Confidence: 0.9, Depth: 2})
	require.NoError(t, err)

	opts := e.DefaultOptions()
	opts.PredictFuture = false
	resp, err := e.Process(ctx, dbInput, opts)
	require.NoError(t, err)
	assert.Zero(t, resp.IntelligenceMetrics.PredictionDepth)

	noDecision := synth.Input{Context: dbInput.Context}
	resp, err = e.Process(ctx, noDecision, e.DefaultOptions())
	require.NoError(t, err)
	assert.Zero(t, resp.IntelligenceMetrics.PredictionDepth)
}

func TestProcess_Validation(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Process(ctx, synth.Input{Context: "   "}, e.DefaultOptions())
	assert.ErrorIs(t, err, ErrValidation)

	opts := e.DefaultOptions()
	opts.CascadeDepth = 15
	_, err = e.Process(ctx, dbInput, opts)
	assert.ErrorIs(t, err, ErrConfiguration)

	opts = e.DefaultOptions()
	opts.SimilarityThreshold = 1.5
	_, err = e.Process(ctx, dbInput, opts)
	assert.ErrorIs(t, err, ErrConfiguration)

	// Rejected requests leave no trace.
	items, err := s.ListInteractions(ctx, storage.InteractionFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, e.Window().Len())
}

type failingStore struct {
	*storage.Store
	candidatesErr error
	upsertErr     error
}

func (f *failingStore) PatternCandidates(ctx context.Context, limit int) ([]storage.Pattern, error) {
	if f.candidatesErr != nil {
		return nil, f.candidatesErr
	}
	return f.Store.PatternCandidates(ctx, limit)
}

func (f *failingStore) UpsertPattern(ctx context.Context, typ string, sig map[string]any, opt string) (string, error) {
	if f.upsertErr != nil {
		return "", f.upsertErr
	}
	return f.Store.UpsertPattern(ctx, typ, sig, opt)
}

func TestProcess_StageFailure(t *testing.T) {
	s := openTestStore(t)
	cause := errors.Join(storage.ErrUnavailable, errors.New("pool exhausted"))
	e := New(&failingStore{Store: s, candidatesErr: cause}, Config{})

	resp, err := e.Process(context.Background(), dbInput, e.DefaultOptions())
	require.Error(t, err)
	assert.Empty(t, resp.DirectSolution.Source)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageMatch, pe.Stage)
	assert.ErrorIs(t, err, ErrPipeline)
	assert.ErrorIs(t, err, storage.ErrUnavailable)

	// The interaction insert had already committed.
	items, err := s.ListInteractions(context.Background(), storage.InteractionFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestProcess_LearnFailure(t *testing.T) {
	s := openTestStore(t)
	e := New(&failingStore{Store: s, upsertErr: storage.ErrUnavailable}, Config{})

	_, err := e.Process(context.Background(), dbInput, e.DefaultOptions())
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, StageLearn, pe.Stage)
}

func TestConfigDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := e.Config()
	assert.Equal(t, 0.6, cfg.SimilarityThreshold)
	assert.Equal(t, 5, cfg.DefaultCascadeDepth)
	assert.Equal(t, 10, cfg.MaxCascadeDepth)
	assert.Equal(t, 50, cfg.WindowSize)
	assert.Equal(t, 0.8, cfg.DefaultDecay)
	assert.Equal(t, 0.1, cfg.LearningRate)

	opts := e.DefaultOptions()
	assert.True(t, opts.PredictFuture)
	assert.Equal(t, 5, opts.CascadeDepth)
}
