package fetcher

import (
	"errors"
	"fmt"
	"time"
)

// ErrorClass represents a classification of search API failures.
type ErrorClass string

const (
	// ErrorClassClient represents non-auth 4xx client errors.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassAuth represents 401/403 responses: the credential is invalid.
	ErrorClassAuth ErrorClass = "auth"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 rate limit errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Common errors returned by the executor.
var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during retry.
	ErrContextCancelled = errors.New("context cancelled")
)

// APIError represents a search API error with its classification.
type APIError struct {
	StatusCode int
	Class      ErrorClass
	Message    string
	Err        error

	// RateLimitResetAt carries the reported quota reset time for
	// rate_limit errors, when the API provided one.
	RateLimitResetAt *time.Time
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("search %s error (status %d): %s: %v",
			e.Class, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("search %s error (status %d): %s",
		e.Class, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify extracts the error class from an error chain.
// Unclassified errors are treated as network errors.
func Classify(err error) ErrorClass {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ErrorClassNetwork
}

// shouldRetry determines if an error class warrants a blind retry with the
// same credential. Rate-limit and auth failures are not retried here: the
// executor switches to a different credential instead.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
