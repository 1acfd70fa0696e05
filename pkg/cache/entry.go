package cache

import (
	"time"
)

// Entry is a cached query response.
type Entry struct {
	// Payload is the serialized response body.
	Payload []byte `json:"payload"`

	// CachedAt is when the entry was stored.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale. An entry is never served
	// past this time.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration. Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
