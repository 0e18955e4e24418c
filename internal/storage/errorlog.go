package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/foresight/internal/canonical"
)

// ErrorSignature is the content address of an error context.
func ErrorSignature(errCtx map[string]any) (string, error) {
	return canonical.Key(errCtx)
}

// LogError records one occurrence of errCtx. A known solution or resolution
// time, when given, replaces the stored one; otherwise the stored values
// are kept.
func (s *Store) LogError(ctx context.Context, errCtx, solution map[string]any, resolutionSeconds *int) (string, error) {
	sig, err := ErrorSignature(errCtx)
	if err != nil {
		return "", fmt.Errorf("computing error signature: %w", err)
	}
	ctxJSON, err := canonical.Marshal(errCtx)
	if err != nil {
		return "", fmt.Errorf("encoding error context: %w", err)
	}
	var sol sql.NullString
	if solution != nil {
		enc, err := encodeJSON(solution, "")
		if err != nil {
			return "", fmt.Errorf("encoding solution: %w", err)
		}
		sol = sql.NullString{String: enc, Valid: enc != ""}
	}
	var res sql.NullInt64
	if resolutionSeconds != nil {
		res = sql.NullInt64{Int64: int64(*resolutionSeconds), Valid: true}
	}
	now := formatTime(s.now())

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO error_registry (error_signature, error_context, solution, occurrence_count, resolution_time_seconds, first_occurred, last_occurred)
		VALUES (?, ?, ?, 1, ?, ?, ?)
		ON CONFLICT(error_signature) DO UPDATE SET
			occurrence_count = error_registry.occurrence_count + 1,
			solution = COALESCE(excluded.solution, error_registry.solution),
			resolution_time_seconds = COALESCE(excluded.resolution_time_seconds, error_registry.resolution_time_seconds),
			last_occurred = excluded.last_occurred`,
		sig, string(ctxJSON), sol, res, now, now,
	)
	if err != nil {
		return "", unavailable("logging error", err)
	}
	return sig, nil
}

// ErrorSolution returns the record for errCtx if a solution is known.
func (s *Store) ErrorSolution(ctx context.Context, errCtx map[string]any) (ErrorRecord, bool, error) {
	sig, err := ErrorSignature(errCtx)
	if err != nil {
		return ErrorRecord{}, false, fmt.Errorf("computing error signature: %w", err)
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	var r ErrorRecord
	var ctxJSON, sol, firstOccurred, lastOccurred string
	var res sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT error_signature, error_context, solution, occurrence_count, resolution_time_seconds, first_occurred, last_occurred
		FROM error_registry
		WHERE error_signature = ? AND solution IS NOT NULL`, sig,
	).Scan(&r.Signature, &ctxJSON, &sol, &r.OccurrenceCount, &res, &firstOccurred, &lastOccurred)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrorRecord{}, false, nil
	}
	if err != nil {
		return ErrorRecord{}, false, unavailable("looking up error solution", err)
	}

	if err := decodeJSON("error_context", ctxJSON, &r.Context); err != nil {
		return ErrorRecord{}, false, err
	}
	if err := decodeJSON("solution", sol, &r.Solution); err != nil {
		return ErrorRecord{}, false, err
	}
	if res.Valid {
		v := int(res.Int64)
		r.ResolutionTimeSeconds = &v
	}
	if r.FirstOccurred, err = parseTime("first_occurred", firstOccurred); err != nil {
		return ErrorRecord{}, false, err
	}
	if r.LastOccurred, err = parseTime("last_occurred", lastOccurred); err != nil {
		return ErrorRecord{}, false, err
	}
	return r, true, nil
}
