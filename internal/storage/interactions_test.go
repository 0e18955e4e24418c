package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHash_Normalizes(t *testing.T) {
	assert.Equal(t, ContextHash("Slow  Query"), ContextHash(" slow query "))
	assert.NotEqual(t, ContextHash("slow query"), ContextHash("fast query"))
}

func TestStoreInteraction_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	in := Interaction{
		Context:          "Optimize the slow database query",
		Decision:         "add index",
		Complexity:       "medium",
		ExpectedOutcomes: []map[string]any{{"latency": "lower"}},
		RelatedDecisions: []string{"d1"},
		Metadata:         map[string]any{"source": "test"},
	}
	stored, err := s.StoreInteraction(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, stored.ID)
	assert.Equal(t, ContextHash(in.Context), stored.ContextHash)
	assert.InDelta(t, 1.0, stored.IntelligenceDelta, 1e-9)

	got, err := s.GetInteraction(ctx, stored.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.CreatedAt, got.CreatedAt)
	assert.Equal(t, "add index", got.Decision)
	assert.Equal(t, []string{"d1"}, got.RelatedDecisions)
	assert.Equal(t, "test", got.Metadata["source"])
	assert.Equal(t, "lower", got.ExpectedOutcomes[0]["latency"])
}

func TestGetInteraction_NotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetInteraction(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

// Repeating a context lowers its novelty: 1, 1/2, 1/3.
func TestStoreInteraction_IntelligenceDeltaDecays(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	want := []float64{1, 0.5, 1.0 / 3}
	for i, w := range want {
		got, err := s.StoreInteraction(ctx, Interaction{Context: "same context"})
		require.NoError(t, err)
		assert.InDelta(t, w, got.IntelligenceDelta, 1e-9, "interaction %d", i)
	}

	other, err := s.StoreInteraction(ctx, Interaction{Context: "different context"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, other.IntelligenceDelta, 1e-9)
}

func TestListInteractions_NewestFirstAndFilters(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, c := range []string{"a", "b", "a"} {
		_, err := s.StoreInteraction(ctx, Interaction{Context: c, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		require.NoError(t, err)
	}

	all, err := s.ListInteractions(ctx, InteractionFilter{}, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))

	onlyA, err := s.ListInteractions(ctx, InteractionFilter{ContextHash: ContextHash("a")}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, onlyA, 2)

	recent, err := s.ListInteractions(ctx, InteractionFilter{Since: base.Add(90 * time.Second)}, 10, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	page, err := s.ListInteractions(ctx, InteractionFilter{}, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func TestIntelligenceMetrics(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	fixedClock(s, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for _, c := range []string{"x", "x", "y"} {
		_, err := s.StoreInteraction(ctx, Interaction{Context: c})
		require.NoError(t, err)
	}
	// Outside the window.
	_, err := s.StoreInteraction(ctx, Interaction{Context: "old", CreatedAt: s.now().Add(-48 * time.Hour)})
	require.NoError(t, err)

	m, err := s.IntelligenceMetrics(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalInteractions)
	assert.Equal(t, 2, m.UniqueContexts)
	assert.InDelta(t, 2.5, m.TotalAccumulated, 1e-9)
	assert.InDelta(t, 2.5/3, m.AvgIntelligence, 1e-9)
	assert.InDelta(t, 1.0, m.MaxIntelligence, 1e-9)

	avg, err := s.AverageIntelligence(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.InDelta(t, m.AvgIntelligence, avg, 1e-9)
}

func TestIntelligenceMetrics_Empty(t *testing.T) {
	s := openTestStore(t)
	m, err := s.IntelligenceMetrics(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, m.TotalInteractions)
	assert.Zero(t, m.AvgIntelligence)
}
