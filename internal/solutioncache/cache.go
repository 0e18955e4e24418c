// Package solutioncache is a content-addressed cache of optimal solutions
// keyed by the canonical hash of a problem signature.
package solutioncache

import (
	"context"
	"fmt"

	"github.com/kalambet/foresight/internal/canonical"
	"github.com/kalambet/foresight/internal/storage"
)

// Backend is the persistence the cache needs. Both operations must be
// single atomic statements.
type Backend interface {
	CacheLookup(ctx context.Context, key string) (storage.CacheEntry, bool, error)
	CacheStore(ctx context.Context, key string, signature, solution, metrics map[string]any) error
}

type Cache struct {
	backend Backend
}

func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Key is the cache key of signature. Field order does not matter.
func Key(signature map[string]any) (string, error) {
	return canonical.Key(signature)
}

// Lookup returns the entry for signature, counting the read as a use.
func (c *Cache) Lookup(ctx context.Context, signature map[string]any) (storage.CacheEntry, bool, error) {
	key, err := Key(signature)
	if err != nil {
		return storage.CacheEntry{}, false, fmt.Errorf("computing cache key: %w", err)
	}
	return c.backend.CacheLookup(ctx, key)
}

// Store writes solution for signature, overwriting any previous one, and
// returns its key.
func (c *Cache) Store(ctx context.Context, signature, solution, metrics map[string]any) (string, error) {
	key, err := Key(signature)
	if err != nil {
		return "", fmt.Errorf("computing cache key: %w", err)
	}
	if err := c.backend.CacheStore(ctx, key, signature, solution, metrics); err != nil {
		return "", err
	}
	return key, nil
}
