// Package credential implements the search-API credential pool: per-credential
// validity and rate-limit state shared via Redis, probe-based validation, and
// priority-ordered selection of a usable credential.
package credential

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Redis key layout for credential state storage.
const (
	redisKeyStateFmt = "celebwire:credential:%s:state"
	redisKeyUsageFmt = "celebwire:credential:%s:usage:%s"

	// usageKeyTTL keeps per-day usage counters around long enough to read
	// yesterday's numbers before they expire.
	usageKeyTTL = 48 * time.Hour
)

// Status classifies a credential as observed by the most recent probe or use.
type Status string

const (
	// StatusValid means the credential was accepted by the search API.
	StatusValid Status = "valid"

	// StatusInvalid means the API rejected the credential (revoked/malformed).
	StatusInvalid Status = "invalid"

	// StatusRateLimited means the credential exhausted its quota.
	StatusRateLimited Status = "rate_limited"

	// StatusUnknown means the credential has never been probed, or its
	// rate-limit window has passed and it must be re-probed.
	StatusUnknown Status = "unknown"
)

// Outcome classifies a single probe request. Expected failure classes are
// returned as outcomes, not errors.
type Outcome string

const (
	OutcomeValid        Outcome = "valid"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeNetworkError Outcome = "network_error"
)

// State is the persisted per-credential record. It is shared across processes
// via Redis and mutated only by the Pool.
type State struct {
	// Fingerprint identifies the credential without exposing the secret.
	Fingerprint string `json:"fingerprint"`

	// Status is the last observed classification.
	Status Status `json:"status"`

	// LastChecked is when the status was last confirmed by a probe or use.
	LastChecked time.Time `json:"last_checked"`

	// UsageToday is the number of API calls charged to this credential today.
	// Filled from the per-day usage counter on reads.
	UsageToday int `json:"usage_today"`

	// RateLimitResetAt is when a rate-limited credential becomes usable again.
	// Nil unless Status is rate_limited and the API reported a reset time.
	RateLimitResetAt *time.Time `json:"rate_limit_reset_at,omitempty"`
}

// IsStale returns true if the status is older than maxAge and should be
// re-confirmed by a probe before being trusted.
func (s *State) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastChecked) > maxAge
}

// Usable returns true if the credential can be handed out without a probe:
// the status is valid and fresh.
func (s *State) Usable(maxAge time.Duration) bool {
	return s.Status == StatusValid && !s.IsStale(maxAge)
}

// RateLimitExpired returns true for a rate-limited credential whose reset
// time has passed, meaning it should be re-probed rather than skipped.
func (s *State) RateLimitExpired(now time.Time) bool {
	if s.Status != StatusRateLimited {
		return false
	}
	if s.RateLimitResetAt == nil {
		// No reset reported; treat the state as expired once stale so the
		// credential is eventually re-probed.
		return s.IsStale(time.Hour)
	}
	return now.After(*s.RateLimitResetAt)
}

// Fingerprint derives a short stable identifier from a credential secret.
// Safe to log and expose via the health API.
func Fingerprint(secret string) string {
	return fmt.Sprintf("%08x", xxhash.Sum64String(secret)&0xffffffff)
}

// stateKey returns the Redis key holding a credential's state record.
func stateKey(fingerprint string) string {
	return fmt.Sprintf(redisKeyStateFmt, fingerprint)
}

// usageKey returns the Redis key holding a credential's usage counter for day.
func usageKey(fingerprint string, day time.Time) string {
	return fmt.Sprintf(redisKeyUsageFmt, fingerprint, day.UTC().Format("2006-01-02"))
}
