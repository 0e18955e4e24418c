package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kalambet/foresight/internal/canonical"
)

const cacheColumns = `cache_key, problem_signature, optimal_solution, performance_metrics, usage_count, effectiveness_score, created_at, last_accessed`

func scanCacheEntry(r rowScanner) (CacheEntry, error) {
	var e CacheEntry
	var sig, sol, metrics, createdAt, lastAccessed string
	if err := r.Scan(&e.Key, &sig, &sol, &metrics, &e.UsageCount, &e.EffectivenessScore, &createdAt, &lastAccessed); err != nil {
		return CacheEntry{}, err
	}
	if err := decodeJSON("problem_signature", sig, &e.Signature); err != nil {
		return CacheEntry{}, err
	}
	if err := decodeJSON("optimal_solution", sol, &e.Solution); err != nil {
		return CacheEntry{}, err
	}
	if err := decodeJSON("performance_metrics", metrics, &e.PerformanceMetrics); err != nil {
		return CacheEntry{}, err
	}
	var err error
	if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return CacheEntry{}, err
	}
	if e.LastAccessed, err = parseTime("last_accessed", lastAccessed); err != nil {
		return CacheEntry{}, err
	}
	return e, nil
}

// CacheLookup reads the entry for key and, in the same statement, bumps its
// usage count and last access time. A miss returns ok == false.
func (s *Store) CacheLookup(ctx context.Context, key string) (entry CacheEntry, ok bool, err error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	entry, err = scanCacheEntry(s.db.QueryRowContext(ctx, `
		UPDATE optimization_cache
		SET usage_count = usage_count + 1, last_accessed = ?
		WHERE cache_key = ?
		RETURNING `+cacheColumns,
		formatTime(s.now()), key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return CacheEntry{}, false, nil
	}
	if err != nil {
		return CacheEntry{}, false, unavailable("looking up cache entry", err)
	}
	return entry, true, nil
}

// CacheStore upserts the solution for key. An existing entry has its
// solution and metrics overwritten and its usage count incremented; a new
// entry starts with a usage count of one.
func (s *Store) CacheStore(ctx context.Context, key string, signature, solution, metrics map[string]any) error {
	sig, err := canonical.Marshal(signature)
	if err != nil {
		return fmt.Errorf("encoding problem signature: %w", err)
	}
	sol, err := encodeJSON(solution, "{}")
	if err != nil {
		return fmt.Errorf("encoding solution: %w", err)
	}
	met, err := encodeJSON(metrics, "{}")
	if err != nil {
		return fmt.Errorf("encoding performance metrics: %w", err)
	}
	now := formatTime(s.now())

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO optimization_cache (cache_key, problem_signature, optimal_solution, performance_metrics, usage_count, created_at, last_accessed)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			optimal_solution = excluded.optimal_solution,
			performance_metrics = excluded.performance_metrics,
			usage_count = optimization_cache.usage_count + 1,
			last_accessed = excluded.last_accessed`,
		key, string(sig), sol, met, now, now,
	)
	if err != nil {
		return unavailable("storing cache entry", err)
	}
	return nil
}
