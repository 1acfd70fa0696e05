package credential

import "errors"

// Errors returned by credential selection and startup checks.
var (
	// ErrNoCredentialsConfigured means the pool is empty. Fatal at startup:
	// the process must not continue serving ingestion.
	ErrNoCredentialsConfigured = errors.New("no credentials configured")

	// ErrAllRateLimited means every credential is currently rate limited.
	// At startup this signals limited mode; at runtime it fails the cycle.
	ErrAllRateLimited = errors.New("all credentials rate limited")

	// ErrNoUsableCredential means selection exhausted the pool without
	// finding a valid credential (mix of invalid and unreachable).
	ErrNoUsableCredential = errors.New("no usable credential")
)
