package cascade

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/foresight/internal/storage"
)

type fakeSource struct {
	decisions []storage.Decision
	accuracy  map[string]float64
	asked     []string
}

func (f *fakeSource) DecisionCandidates(context.Context, int) ([]storage.Decision, error) {
	return f.decisions, nil
}

func (f *fakeSource) TypeAccuracy(_ context.Context, typ string) (float64, int, error) {
	f.asked = append(f.asked, typ)
	acc, ok := f.accuracy[typ]
	if !ok {
		return 0, 0, nil
	}
	return acc, 1, nil
}

func TestPredict_NoSeeds(t *testing.T) {
	p := NewPredictor(&fakeSource{}, Options{})
	got, err := p.Predict(context.Background(), "adopt kubernetes", 5)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestPredict_DepthBounds(t *testing.T) {
	p := NewPredictor(&fakeSource{}, Options{})
	for _, d := range []int{0, -1, 11, 15} {
		_, err := p.Predict(context.Background(), "x", d)
		assert.ErrorIs(t, err, ErrDepthOutOfRange, "depth %d", d)
	}
	assert.Equal(t, 10, p.ClampDepth(15))
	assert.Equal(t, 1, p.ClampDepth(0))
	assert.Equal(t, 7, p.ClampDepth(7))
}

func TestPredict_DefaultDecay(t *testing.T) {
	src := &fakeSource{decisions: []storage.Decision{{
		ID:              "d1",
		Decision:        "adopt microservices architecture",
		ImmediateImpact: map[string]any{"effect": "more services to deploy"},
		CascadeEffects: []storage.CascadeEffect{
			{Level: 2, Effect: "ops load grows"},
		},
		ConfidenceScore: 1,
	}}}
	p := NewPredictor(src, Options{})

	got, err := p.Predict(context.Background(), "adopt microservices architecture", 4)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "more services to deploy", got[0].Effect)
	assert.Equal(t, "ops load grows", got[1].Effect)
	assert.Equal(t, "level 3: downstream of ops load grows", got[2].Effect)
	assert.Equal(t, "level 4: downstream of level 3: downstream of ops load grows", got[3].Effect)

	assert.InDelta(t, 1.0, got[0].Probability, 1e-9)
	assert.InDelta(t, 0.8, got[1].Probability, 1e-9)
	assert.InDelta(t, 0.64, got[2].Probability, 1e-9)
	assert.InDelta(t, 0.8*0.64, got[2].CumulativeConfidence, 1e-9)
	assert.Equal(t, []string{"architecture"}, src.asked)
}

func TestPredict_DecayFromHistory(t *testing.T) {
	src := &fakeSource{
		decisions: []storage.Decision{{Decision: "add database index", ConfidenceScore: 0.9}},
		accuracy:  map[string]float64{"database": 0.5},
	}
	p := NewPredictor(src, Options{})

	got, err := p.Predict(context.Background(), "add database index now", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// similarity 3/4, confidence 0.9
	p1 := 0.75 * 0.9
	assert.InDelta(t, p1, got[0].Probability, 1e-9)
	assert.InDelta(t, p1*0.5, got[1].Probability, 1e-9)
	assert.Equal(t, "immediate impact of add database index", got[0].Effect)
}

// Probabilities stay in [0,1] and cumulative confidence never increases.
func TestPredict_Invariants(t *testing.T) {
	src := &fakeSource{
		decisions: []storage.Decision{{Decision: "cache api responses", ConfidenceScore: 0.7}},
		accuracy:  map[string]float64{"caching": 0.9},
	}
	p := NewPredictor(src, Options{})

	for depth := 1; depth <= p.MaxDepth(); depth++ {
		got, err := p.Predict(context.Background(), "cache api responses", depth)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(got), depth)
		for i, e := range got {
			assert.Equal(t, i+1, e.Level)
			assert.GreaterOrEqual(t, e.Probability, 0.0)
			assert.LessOrEqual(t, e.Probability, 1.0)
			if i > 0 {
				assert.LessOrEqual(t, e.CumulativeConfidence, got[i-1].CumulativeConfidence)
			}
		}
	}
}

func TestSeeds_ThresholdAndOrder(t *testing.T) {
	now := time.Now()
	src := &fakeSource{decisions: []storage.Decision{
		{ID: "weak", Decision: "migrate to postgres", ConfidenceScore: 0.9, CreatedAt: now},
		{ID: "low-confidence", Decision: "migrate billing to postgres", ConfidenceScore: 0.2, CreatedAt: now},
		{ID: "strong", Decision: "migrate billing to postgres", ConfidenceScore: 0.9, CreatedAt: now},
		{ID: "unrelated", Decision: "hire more engineers", ConfidenceScore: 1, CreatedAt: now},
	}}
	p := NewPredictor(src, Options{})

	seeds, err := p.Seeds(context.Background(), "migrate billing to postgres")
	require.NoError(t, err)
	var ids []string
	for _, s := range seeds {
		ids = append(ids, s.Decision.ID)
	}
	assert.Equal(t, []string{"strong", "weak", "low-confidence"}, ids)
}

func TestDecay_Clamped(t *testing.T) {
	src := &fakeSource{accuracy: map[string]float64{"general": 1.7}}
	d, err := NewPredictor(src, Options{}).Decay(context.Background(), "team offsite")
	require.NoError(t, err)
	assert.Equal(t, 1.0, d)
}
