// Package cache provides the TTL-keyed query-response cache with Redis
// backend and a degraded in-process fallback.
//
// The cache manager implements the pipeline's read-side caching:
//
// - Deterministic cache key generation from query parameters
// - Per-category default TTLs (list, trending, statistics)
// - Prefix-based invalidation, driven by the ingestion write path
// - Transparent in-process fallback when Redis is unreachable
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// Create cache manager
//	manager := cache.NewManager(redisClient, logger)
//
//	// Create cache key
//	key := cache.Key{
//		Category: cache.CategoryList,
//		Params:   map[string]string{"entity": "ada-vale", "page": "1"},
//	}
//
//	// Get from cache
//	payload, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// Cache miss - compute the response and Set it
//	}
//
// # Invalidation
//
// Any ingestion that stores new articles invalidates the whole news prefix:
//
//	manager.Invalidate(ctx, "news")
//
// This is deliberately coarse: correctness over hit rate. A finer-grained
// scheme keyed by affected entity would be a future refinement.
//
// # Degraded Mode
//
// When a Redis operation fails with a connection error, the manager serves
// the operation from an in-process map with identical TTL semantics. Callers
// never see the failure; only durability and cross-process sharing are lost
// until Redis returns.
package cache
