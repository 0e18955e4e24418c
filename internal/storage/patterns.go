package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/foresight/internal/canonical"
)

// PatternID is the identity of a pattern: the canonical key of its type
// and signature. Equal signatures in any field order share one ID.
func PatternID(patternType string, signature map[string]any) (string, error) {
	return canonical.Key(map[string]any{
		"pattern_type": patternType,
		"signature":    signature,
	})
}

// UpsertPattern records one observation of (patternType, signature). A new
// pattern starts with one occurrence; a repeat increments occurrences,
// refreshes last_seen and keeps the stored optimization unless none was
// recorded yet. It is a single conflict-resolving statement, so concurrent
// observers of the same signature never lose an increment.
func (s *Store) UpsertPattern(ctx context.Context, patternType string, signature map[string]any, optimization string) (string, error) {
	id, err := PatternID(patternType, signature)
	if err != nil {
		return "", fmt.Errorf("computing pattern id: %w", err)
	}
	sigJSON, err := canonical.Marshal(signature)
	if err != nil {
		return "", fmt.Errorf("encoding pattern signature: %w", err)
	}

	var opt sql.NullString
	if optimization != "" {
		opt = sql.NullString{String: optimization, Valid: true}
	}
	now := formatTime(s.now())

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (pattern_id, pattern_type, pattern_signature, occurrences, learned_optimization, first_seen, last_seen)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET
			occurrences = patterns.occurrences + 1,
			learned_optimization = COALESCE(NULLIF(patterns.learned_optimization, ''), excluded.learned_optimization),
			last_seen = excluded.last_seen`,
		id, patternType, string(sigJSON), opt, now, now,
	)
	if err != nil {
		return "", unavailable("upserting pattern", err)
	}
	return id, nil
}

const patternColumns = `pattern_id, pattern_type, pattern_signature, occurrences, prediction_accuracy, future_impact_score, learned_optimization, outcome_count, first_seen, last_seen`

func scanPattern(r rowScanner) (Pattern, error) {
	var p Pattern
	var sig, firstSeen, lastSeen string
	var opt sql.NullString
	if err := r.Scan(&p.ID, &p.Type, &sig, &p.Occurrences, &p.PredictionAccuracy, &p.FutureImpactScore, &opt, &p.OutcomeCount, &firstSeen, &lastSeen); err != nil {
		return Pattern{}, err
	}
	p.LearnedOptimization = opt.String
	if err := decodeJSON("pattern_signature", sig, &p.Signature); err != nil {
		return Pattern{}, err
	}
	var err error
	if p.FirstSeen, err = parseTime("first_seen", firstSeen); err != nil {
		return Pattern{}, err
	}
	if p.LastSeen, err = parseTime("last_seen", lastSeen); err != nil {
		return Pattern{}, err
	}
	return p, nil
}

func (s *Store) queryPatterns(ctx context.Context, op, query string, args ...any) ([]Pattern, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	var results []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, unavailable(op, err)
		}
		results = append(results, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, err)
	}
	return results, nil
}

func (s *Store) GetPattern(ctx context.Context, id string) (Pattern, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	p, err := scanPattern(s.db.QueryRowContext(ctx, `SELECT `+patternColumns+` FROM patterns WHERE pattern_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Pattern{}, ErrNotFound
	}
	if err != nil {
		return Pattern{}, unavailable("getting pattern", err)
	}
	return p, nil
}

// PatternCandidates returns stored patterns for similarity scoring, most
// recently seen first. limit <= 0 returns all of them.
func (s *Store) PatternCandidates(ctx context.Context, limit int) ([]Pattern, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryPatterns(ctx, "loading pattern candidates",
		`SELECT `+patternColumns+` FROM patterns ORDER BY last_seen DESC LIMIT ?`, limit)
}

// TopPatterns returns the most accurate patterns with accuracy >= minAccuracy.
func (s *Store) TopPatterns(ctx context.Context, limit int, minAccuracy float64) ([]Pattern, error) {
	return s.queryPatterns(ctx, "loading top patterns", `
		SELECT `+patternColumns+` FROM patterns
		WHERE prediction_accuracy >= ?
		ORDER BY prediction_accuracy DESC, occurrences DESC, last_seen DESC
		LIMIT ?`, minAccuracy, limit)
}

// TypeAccuracy returns the mean prediction accuracy of the patterns of the
// given type that have at least one recorded outcome, and how many
// contributed. Patterns still at their prior accuracy are not evidence.
func (s *Store) TypeAccuracy(ctx context.Context, patternType string) (float64, int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var avg float64
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(AVG(prediction_accuracy), 0), COUNT(*) FROM patterns WHERE pattern_type = ? AND outcome_count > 0`,
		patternType,
	).Scan(&avg, &n)
	if err != nil {
		return 0, 0, unavailable("computing type accuracy", err)
	}
	return avg, n, nil
}

// RecordPatternOutcome moves a pattern's prediction accuracy toward the
// observed outcome: acc += rate * (outcome - acc). The future impact score
// is recomputed from the new accuracy and the occurrence count in the same
// statement. Returns the updated pattern or ErrNotFound.
func (s *Store) RecordPatternOutcome(ctx context.Context, id string, success bool, rate float64) (Pattern, error) {
	if rate < 0 || rate > 1 {
		return Pattern{}, fmt.Errorf("learning rate %v outside [0,1]", rate)
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	p, err := scanPattern(s.db.QueryRowContext(ctx, `
		UPDATE patterns SET
			prediction_accuracy = prediction_accuracy + ?1 * (?2 - prediction_accuracy),
			future_impact_score = (prediction_accuracy + ?1 * (?2 - prediction_accuracy)) * occurrences / (occurrences + 1.0),
			outcome_count = outcome_count + 1
		WHERE pattern_id = ?3
		RETURNING `+patternColumns,
		rate, outcome, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return Pattern{}, ErrNotFound
	}
	if err != nil {
		return Pattern{}, unavailable("recording pattern outcome", err)
	}
	return p, nil
}

// PatternEffectiveness aggregates patterns per type, most effective first.
// Effectiveness weights average accuracy by how often the type recurs.
func (s *Store) PatternEffectiveness(ctx context.Context, limit int) ([]PatternEffectiveness, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT pattern_type,
		       COUNT(*),
		       SUM(occurrences),
		       AVG(prediction_accuracy),
		       AVG(future_impact_score),
		       AVG(prediction_accuracy) * SUM(occurrences) / (SUM(occurrences) + 1.0) AS effectiveness,
		       MAX(last_seen)
		FROM patterns
		GROUP BY pattern_type
		ORDER BY effectiveness DESC, pattern_type ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("computing pattern effectiveness", err)
	}
	defer rows.Close()

	var results []PatternEffectiveness
	for rows.Next() {
		var e PatternEffectiveness
		var lastSeen string
		if err := rows.Scan(&e.PatternType, &e.Patterns, &e.TotalOccurrences, &e.AvgAccuracy, &e.AvgFutureImpact, &e.EffectivenessScore, &lastSeen); err != nil {
			return nil, unavailable("scanning pattern effectiveness", err)
		}
		if e.LastSeen, err = parseTime("last_seen", lastSeen); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("computing pattern effectiveness", err)
	}
	return results, nil
}
