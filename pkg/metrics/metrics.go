// Package metrics provides the centralized Prometheus metrics registry for the
// celebwire ingestion pipeline. All metrics are defined in their respective
// packages (fetcher, cache, credential, scheduler) to maintain modularity and
// avoid circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the pipeline.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Credential Metrics (pkg/credential):
//   - celebwire_credential_probes_total{outcome} (Counter): Probe results by outcome
//   - celebwire_credentials_usable (Gauge): 1 when the last selection found a usable credential, 0 when it exhausted the pool
//   - celebwire_credential_exhaustion_total (Counter): Selections that found no usable credential
//
// Cache Metrics (pkg/cache):
//   - celebwire_cache_hits_total{layer} (Counter): Cache hits by layer (redis, memory)
//   - celebwire_cache_misses_total (Counter): Cache misses
//   - celebwire_cache_fallbacks_total (Counter): Operations served by the in-process fallback
//   - celebwire_cache_invalidated_keys_total (Counter): Keys removed by invalidation
//   - celebwire_cache_errors_total{operation} (Counter): Cache operation errors
//
// Fetch Metrics (pkg/fetcher):
//   - celebwire_search_requests_total{status} (Counter): Search API requests by status
//   - celebwire_search_request_duration_seconds (Histogram): Search request duration
//   - celebwire_search_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - celebwire_search_retries_total{error_class} (Counter): Retry attempts by error class
//   - celebwire_search_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//   - celebwire_credential_fallbacks_total (Counter): Mid-fetch switches to another credential
//
// Cycle Metrics (pkg/scheduler):
//   - celebwire_fetch_cycles_total{status} (Counter): Completed fetch cycles by status
//   - celebwire_fetch_cycle_duration_seconds (Histogram): Cycle duration
//   - celebwire_fetch_triggers_rejected_total (Counter): Triggers rejected while a cycle was running
//
// Ingestion Metrics (pkg/store):
//   - celebwire_articles_ingested_total{outcome} (Counter): Ingested items by outcome (new, duplicate, failed)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(celebwire_cache_hits_total[5m])) /
//   (sum(rate(celebwire_cache_hits_total[5m])) + sum(rate(celebwire_cache_misses_total[5m])))
//
//   # Cycle Failure Rate
//   rate(celebwire_fetch_cycles_total{status!="success"}[1h])
//
//   # Dedup Ratio
//   rate(celebwire_articles_ingested_total{outcome="duplicate"}[1h]) /
//   sum(rate(celebwire_articles_ingested_total{outcome=~"new|duplicate"}[1h]))
//
//   # P95 Search Latency
//   histogram_quantile(0.95, rate(celebwire_search_request_duration_seconds_bucket[5m]))
