package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Stats summarizes cache state for the admin API.
type Stats struct {
	Hits       int64 `json:"hits"`
	Misses     int64 `json:"misses"`
	RedisKeys  int64 `json:"redis_keys"`
	MemoryKeys int64 `json:"memory_keys"`
	Degraded   bool  `json:"degraded"`
}

// Manager handles caching operations with a Redis backend and an in-process
// fallback. When Redis is unreachable the fallback serves the operation with
// identical TTL semantics; callers never see the difference.
type Manager struct {
	redis  *redis.Client
	memory *memoryStore
	logger zerolog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	degraded atomic.Bool
}

// NewManager creates a cache manager. A nil Redis client yields a purely
// in-process cache (used in tests and when no Redis is configured).
func NewManager(redisClient *redis.Client, logger zerolog.Logger) *Manager {
	return &Manager{
		redis:  redisClient,
		memory: newMemoryStore(),
		logger: logger,
	}
}

// Get retrieves a cached payload by key.
// Returns ErrCacheMiss if the key doesn't exist or the entry is expired.
func (m *Manager) Get(ctx context.Context, key Key) ([]byte, error) {
	cacheKey := key.String()

	if m.redis != nil {
		data, err := m.redis.Get(ctx, cacheKey).Bytes()
		switch {
		case err == nil:
			m.degraded.Store(false)

			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				CacheErrors.WithLabelValues("get").Inc()
				return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
			}
			if entry.IsExpired() {
				_ = m.redis.Del(ctx, cacheKey).Err()
				return nil, m.miss()
			}
			m.hits.Add(1)
			CacheHits.WithLabelValues("redis").Inc()
			return entry.Payload, nil

		case err == redis.Nil:
			m.degraded.Store(false)
			// Fall through to the fallback: the entry may have been
			// written there while Redis was down.

		default:
			m.fallback("get", err)
		}
	}

	if entry, ok := m.memory.get(cacheKey); ok {
		m.hits.Add(1)
		CacheHits.WithLabelValues("memory").Inc()
		return entry.Payload, nil
	}

	return nil, m.miss()
}

// Set stores a payload under key for the given TTL.
func (m *Manager) Set(ctx context.Context, key Key, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	entry := &Entry{
		Payload:  payload,
		CachedAt: time.Now(),
		Expires:  time.Now().Add(ttl),
	}

	if m.redis != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			CacheErrors.WithLabelValues("set").Inc()
			return fmt.Errorf("marshal cache entry: %w", err)
		}

		err = m.redis.Set(ctx, key.String(), data, ttl).Err()
		if err == nil {
			m.degraded.Store(false)
			return nil
		}
		m.fallback("set", err)
	}

	m.memory.set(key.String(), entry)
	return nil
}

// Invalidate removes every cached entry whose key falls under prefix.
// An empty prefix clears the whole cache. Returns the number of keys removed.
func (m *Manager) Invalidate(ctx context.Context, prefix string) (int, error) {
	target := fullPrefix(prefix)
	removed := 0

	if m.redis != nil {
		iter := m.redis.Scan(ctx, 0, target+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := m.redis.Del(ctx, iter.Val()).Err(); err != nil {
				CacheErrors.WithLabelValues("invalidate").Inc()
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed++
		}
		if err := iter.Err(); err != nil {
			// Redis unreachable: the fallback is still cleared below so
			// stale entries never survive an invalidation.
			m.fallback("invalidate", err)
		} else {
			m.degraded.Store(false)
		}
	}

	removed += m.memory.deleteByPrefix(target)

	CacheInvalidatedKeys.Add(float64(removed))
	m.logger.Debug().
		Str("prefix", prefix).
		Int("removed", removed).
		Msg("Cache invalidated")
	return removed, nil
}

// CacheStats returns hit/miss counters and key counts for the admin API.
func (m *Manager) CacheStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Hits:       m.hits.Load(),
		Misses:     m.misses.Load(),
		MemoryKeys: int64(m.memory.size()),
		Degraded:   m.degraded.Load(),
	}

	if m.redis != nil {
		iter := m.redis.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			stats.RedisKeys++
		}
		if err := iter.Err(); err != nil {
			stats.Degraded = true
			return stats, nil
		}
	}

	return stats, nil
}

// miss counts a cache miss and returns ErrCacheMiss.
func (m *Manager) miss() error {
	m.misses.Add(1)
	CacheMisses.Inc()
	return ErrCacheMiss
}

// fallback records that an operation degraded to the in-process store.
func (m *Manager) fallback(operation string, err error) {
	CacheFallbacks.Inc()
	CacheErrors.WithLabelValues(operation).Inc()

	if !m.degraded.Swap(true) {
		m.logger.Warn().
			Err(err).
			Str("operation", operation).
			Msg("Redis unreachable, cache degraded to in-process fallback")
	}
}
