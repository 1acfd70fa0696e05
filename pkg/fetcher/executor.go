package fetcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/celebwire/pkg/credential"
	"github.com/Sternrassler/celebwire/pkg/rotation"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var credentialFallbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "celebwire_credential_fallbacks_total",
	Help: "Total mid-fetch switches to another credential",
})

// CredentialSource supplies usable credentials and receives status updates
// observed during fetch execution. Implemented by credential.Pool.
type CredentialSource interface {
	SelectUsable(ctx context.Context) (credential.Credential, error)
	MarkRateLimited(ctx context.Context, fingerprint string, resetAt *time.Time) error
	MarkInvalid(ctx context.Context, fingerprint string) error
	RecordUse(ctx context.Context, fingerprint string, calls int) error
	Size() int
}

// Result is the outcome of executing one batch fetch. On failure the counts
// still reflect what was consumed before giving up.
type Result struct {
	// Items are the raw search results, flat across the whole batch.
	Items []RawItem

	// Query is the combined disjunctive query that was issued.
	Query string

	// Credential is the fingerprint of the credential that served the
	// request (the last one tried, on failure).
	Credential string

	// APICalls is the number of requests consumed, across retries and
	// credential switches.
	APICalls int

	// RateRemaining and RateResetAt carry quota metadata when reported.
	RateRemaining *int
	RateResetAt   *time.Time
}

// Executor runs one combined search per batch with retry and credential
// fallback.
type Executor struct {
	client *Client
	pool   CredentialSource
	retry  RetryConfig
	logger zerolog.Logger
}

// NewExecutor creates a fetch executor.
func NewExecutor(client *Client, pool CredentialSource, retry RetryConfig, logger zerolog.Logger) *Executor {
	return &Executor{
		client: client,
		pool:   pool,
		retry:  retry,
		logger: logger,
	}
}

// Execute fetches one batch: it builds the combined query, selects a
// credential, and issues the request. Transient failures are retried with
// backoff; a rate-limited or invalid credential is reported to the pool and
// execution falls back to the next usable credential, up to the pool size.
//
// The returned Result is non-nil even on error so the caller can audit the
// API calls consumed.
func (e *Executor) Execute(ctx context.Context, batch rotation.Batch) (*Result, error) {
	result := &Result{Query: BuildQuery(batch.Entities)}
	if result.Query == "" {
		return result, fmt.Errorf("batch %d has no search terms", batch.Index)
	}

	tried := make(map[string]bool)
	var lastErr error

	for switches := 0; switches <= e.pool.Size(); switches++ {
		cred, err := e.pool.SelectUsable(ctx)
		if err != nil {
			if lastErr != nil {
				return result, fmt.Errorf("credential pool exhausted after %v: %w", lastErr, err)
			}
			return result, err
		}
		if tried[cred.Fingerprint] {
			// Pool has nothing fresh to offer.
			break
		}
		tried[cred.Fingerprint] = true
		result.Credential = cred.Fingerprint

		var resp *SearchResponse
		callsBefore := result.APICalls

		err = retryWithBackoff(ctx, e.retry, e.logger, func() error {
			result.APICalls++
			var reqErr error
			resp, reqErr = e.client.Search(ctx, result.Query, cred.Secret)
			return reqErr
		})

		if recordErr := e.pool.RecordUse(ctx, cred.Fingerprint, result.APICalls-callsBefore); recordErr != nil {
			e.logger.Warn().Err(recordErr).Msg("Failed to record credential use")
		}

		if err == nil {
			result.Items = resp.Items
			result.RateRemaining = resp.RateLimit.Remaining
			result.RateResetAt = resp.RateLimit.ResetAt

			e.logger.Info().
				Int("batch_index", batch.Index).
				Int("items", len(result.Items)).
				Int("api_calls", result.APICalls).
				Str("credential", cred.Fingerprint).
				Msg("Batch fetch succeeded")
			return result, nil
		}

		lastErr = err
		switch Classify(err) {
		case ErrorClassRateLimit:
			var resetAt *time.Time
			if apiErr, ok := asAPIError(err); ok {
				resetAt = apiErr.RateLimitResetAt
				result.RateResetAt = apiErr.RateLimitResetAt
			}
			if markErr := e.pool.MarkRateLimited(ctx, cred.Fingerprint, resetAt); markErr != nil {
				e.logger.Warn().Err(markErr).Msg("Failed to mark credential rate limited")
			}
			credentialFallbacksTotal.Inc()
			e.logger.Warn().
				Str("credential", cred.Fingerprint).
				Msg("Credential rate limited mid-fetch, trying next")
			continue

		case ErrorClassAuth:
			if markErr := e.pool.MarkInvalid(ctx, cred.Fingerprint); markErr != nil {
				e.logger.Warn().Err(markErr).Msg("Failed to mark credential invalid")
			}
			credentialFallbacksTotal.Inc()
			e.logger.Warn().
				Str("credential", cred.Fingerprint).
				Msg("Credential rejected mid-fetch, trying next")
			continue

		default:
			// Transient classes already exhausted their retries; client
			// errors are not recoverable by switching credentials.
			return result, err
		}
	}

	return result, fmt.Errorf("all credentials exhausted: %w", lastErr)
}

// asAPIError unwraps an *APIError from an error chain.
func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
