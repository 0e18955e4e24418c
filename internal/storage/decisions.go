package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StoreDecision inserts an analyzed decision. Decisions are immutable.
func (s *Store) StoreDecision(ctx context.Context, d Decision) (Decision, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = s.now()
	}
	d.CreatedAt = d.CreatedAt.UTC().Truncate(time.Microsecond)
	for i := range d.CascadeEffects {
		d.CascadeEffects[i].DecisionID = d.ID
	}

	impact, err := encodeJSON(d.ImmediateImpact, "{}")
	if err != nil {
		return Decision{}, fmt.Errorf("encoding immediate impact: %w", err)
	}
	effects, err := encodeJSON(d.CascadeEffects, "[]")
	if err != nil {
		return Decision{}, fmt.Errorf("encoding cascade effects: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO decisions (decision_id, decision, immediate_impact, cascade_effects, confidence_score, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Decision, impact, effects, d.ConfidenceScore, formatTime(d.CreatedAt),
	)
	if err != nil {
		return Decision{}, unavailable("storing decision", err)
	}
	return d, nil
}

// DecisionCandidates returns stored decisions, newest first, for cascade
// seeding. limit <= 0 returns all of them.
func (s *Store) DecisionCandidates(ctx context.Context, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = -1
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT decision_id, decision, immediate_impact, cascade_effects, confidence_score, created_at
		FROM decisions ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("loading decisions", err)
	}
	defer rows.Close()

	var results []Decision
	for rows.Next() {
		var d Decision
		var impact, effects, createdAt string
		if err := rows.Scan(&d.ID, &d.Decision, &impact, &effects, &d.ConfidenceScore, &createdAt); err != nil {
			return nil, unavailable("scanning decision", err)
		}
		if err := decodeJSON("immediate_impact", impact, &d.ImmediateImpact); err != nil {
			return nil, err
		}
		if err := decodeJSON("cascade_effects", effects, &d.CascadeEffects); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("loading decisions", err)
	}
	return results, nil
}
