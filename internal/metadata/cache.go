package metadata

import (
	"errors"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/goodtune/screentime/internal/metrics"
)

type cacheEntry struct {
	meta AppMetadata
	err  error
}

// CachedResolver memoizes another Resolver in a bounded LRU. Failed lookups
// are cached as well so unknown apps are not looked up repeatedly.
type CachedResolver struct {
	next   Resolver
	cache  *lru.Cache[string, cacheEntry]
	mu     sync.RWMutex
	logger zerolog.Logger

	// generation changes whenever cached entries become stale
	generation uint64
}

// NewCachedResolver wraps next with a cache of size entries.
func NewCachedResolver(next Resolver, size int, logger zerolog.Logger) (*CachedResolver, error) {
	if next == nil {
		return nil, errors.New("metadata: nil resolver")
	}

	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create metadata cache: %w", err)
	}

	return &CachedResolver{
		next:   next,
		cache:  cache,
		logger: logger.With().Str("component", "metadata").Logger(),
	}, nil
}

// Lookup implements Resolver.
func (r *CachedResolver) Lookup(appID string) (AppMetadata, error) {
	r.mu.RLock()
	if e, ok := r.cache.Get(appID); ok {
		r.mu.RUnlock()
		metrics.MetadataCacheHits.Inc()
		return e.meta, e.err
	}
	r.mu.RUnlock()

	metrics.MetadataCacheMisses.Inc()

	r.mu.RLock()
	next, generation := r.next, r.generation
	r.mu.RUnlock()

	meta, err := next.Lookup(appID)
	if err != nil {
		r.logger.Debug().Err(err).Str("app", appID).Msg("No metadata for app")
	}

	r.mu.Lock()
	// A Replace or Purge during the lookup makes this result stale
	if r.generation == generation {
		r.cache.Add(appID, cacheEntry{meta: meta, err: err})
	}
	r.mu.Unlock()

	return meta, err
}

// Purge empties the cache, e.g. after the catalogue is reloaded.
func (r *CachedResolver) Purge() {
	r.mu.Lock()
	r.generation++
	r.cache.Purge()
	r.mu.Unlock()
}

// Replace swaps the underlying resolver and empties the cache.
func (r *CachedResolver) Replace(next Resolver) error {
	if next == nil {
		return errors.New("metadata: nil resolver")
	}

	r.mu.Lock()
	r.next = next
	r.generation++
	r.cache.Purge()
	r.mu.Unlock()

	r.logger.Info().Msg("Metadata resolver replaced")
	return nil
}

// Len returns the number of cached entries.
func (r *CachedResolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.Len()
}
