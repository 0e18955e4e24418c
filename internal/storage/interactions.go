package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/foresight/internal/canonical"
)

// ContextHash is the content address of an interaction's context text.
func ContextHash(context string) string {
	return canonical.MustKey(map[string]any{"context": canonical.NormalizeText(context)})
}

// StoreInteraction inserts i and returns the stored row. ID, CreatedAt and
// ContextHash are filled when empty. IntelligenceDelta is computed by the
// insert itself as 1/(1+n), n being the number of earlier interactions with
// the same context hash, so the novelty score and the row are written
// atomically.
func (s *Store) StoreInteraction(ctx context.Context, i Interaction) (Interaction, error) {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = s.now()
	}
	i.CreatedAt = i.CreatedAt.UTC().Truncate(time.Microsecond)
	if i.ContextHash == "" {
		i.ContextHash = ContextHash(i.Context)
	}

	outcomes, err := encodeJSON(i.ExpectedOutcomes, "[]")
	if err != nil {
		return Interaction{}, fmt.Errorf("encoding expected outcomes: %w", err)
	}
	related, err := encodeJSON(i.RelatedDecisions, "[]")
	if err != nil {
		return Interaction{}, fmt.Errorf("encoding related decisions: %w", err)
	}
	metadata, err := encodeJSON(i.Metadata, "{}")
	if err != nil {
		return Interaction{}, fmt.Errorf("encoding metadata: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO interactions (id, created_at, context, decision, complexity, expected_outcomes, related_decisions, metadata, context_hash, intelligence_delta)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, 1.0 / (1 + COUNT(*))
		FROM interactions WHERE context_hash = ?
		RETURNING intelligence_delta`,
		i.ID, formatTime(i.CreatedAt), i.Context, i.Decision, i.Complexity,
		outcomes, related, metadata, i.ContextHash, i.ContextHash,
	).Scan(&i.IntelligenceDelta)
	if err != nil {
		return Interaction{}, unavailable("storing interaction", err)
	}
	return i, nil
}

const interactionColumns = `id, created_at, context, decision, complexity, expected_outcomes, related_decisions, metadata, context_hash, intelligence_delta`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(r rowScanner) (Interaction, error) {
	var i Interaction
	var createdAt, outcomes, related, metadata string
	if err := r.Scan(&i.ID, &createdAt, &i.Context, &i.Decision, &i.Complexity, &outcomes, &related, &metadata, &i.ContextHash, &i.IntelligenceDelta); err != nil {
		return Interaction{}, err
	}
	var err error
	if i.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Interaction{}, err
	}
	if err := decodeJSON("expected_outcomes", outcomes, &i.ExpectedOutcomes); err != nil {
		return Interaction{}, err
	}
	if err := decodeJSON("related_decisions", related, &i.RelatedDecisions); err != nil {
		return Interaction{}, err
	}
	if err := decodeJSON("metadata", metadata, &i.Metadata); err != nil {
		return Interaction{}, err
	}
	return i, nil
}

func (s *Store) GetInteraction(ctx context.Context, id string) (Interaction, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	i, err := scanInteraction(s.db.QueryRowContext(ctx,
		`SELECT `+interactionColumns+` FROM interactions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Interaction{}, ErrNotFound
	}
	if err != nil {
		return Interaction{}, unavailable("getting interaction", err)
	}
	return i, nil
}

// ListInteractions returns interactions newest first.
func (s *Store) ListInteractions(ctx context.Context, filter InteractionFilter, limit, offset int) ([]Interaction, error) {
	var where []string
	var args []any
	if filter.ContextHash != "" {
		where = append(where, "context_hash = ?")
		args = append(args, filter.ContextHash)
	}
	if !filter.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	query := `SELECT ` + interactionColumns + ` FROM interactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("listing interactions", err)
	}
	defer rows.Close()

	var results []Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, unavailable("scanning interaction", err)
		}
		results = append(results, i)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing interactions", err)
	}
	return results, nil
}

// AverageIntelligence is the mean intelligence delta over the last window.
func (s *Store) AverageIntelligence(ctx context.Context, window time.Duration) (float64, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var avg float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(intelligence_delta), 0) FROM interactions WHERE created_at > ?`,
		formatTime(s.now().Add(-window)),
	).Scan(&avg)
	if err != nil {
		return 0, unavailable("averaging intelligence", err)
	}
	return avg, nil
}

// IntelligenceMetrics aggregates interactions over the last window.
func (s *Store) IntelligenceMetrics(ctx context.Context, window time.Duration) (IntelligenceMetrics, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	m := IntelligenceMetrics{WindowSeconds: int64(window.Seconds())}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(AVG(intelligence_delta), 0),
		       COALESCE(MAX(intelligence_delta), 0),
		       COUNT(DISTINCT context_hash),
		       COALESCE(SUM(intelligence_delta), 0)
		FROM interactions WHERE created_at > ?`,
		formatTime(s.now().Add(-window)),
	).Scan(&m.TotalInteractions, &m.AvgIntelligence, &m.MaxIntelligence, &m.UniqueContexts, &m.TotalAccumulated)
	if err != nil {
		return IntelligenceMetrics{}, unavailable("computing intelligence metrics", err)
	}
	return m, nil
}
