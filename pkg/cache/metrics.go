package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by layer (redis, memory)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celebwire_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celebwire_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheFallbacks tracks operations served by the in-process fallback
	CacheFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celebwire_cache_fallbacks_total",
			Help: "Total number of cache operations served by the in-process fallback",
		},
	)

	// CacheInvalidatedKeys tracks keys removed by invalidation
	CacheInvalidatedKeys = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "celebwire_cache_invalidated_keys_total",
			Help: "Total number of cache keys removed by invalidation",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "celebwire_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "invalidate"
	)
)
